package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/runner"
)

var cleanForce bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build output directories and lockfiles",
	Long: `Recursively removes every build output directory (target) and every
lockfile (Cargo.lock) below the workspace root by running the clean recipe.

On a terminal, shows what would be deleted and asks for confirmation.
Use --force to skip confirmation or --dry-run to only list the paths.

Examples:
  crank clean              # Interactive cleanup
  crank clean --dry-run    # Show what would be removed
  crank clean --force      # Skip confirmation prompt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner()
		if err != nil {
			return err
		}

		plan, err := r.Plan("clean")
		if err != nil {
			return err
		}

		ask := func(question string) (bool, error) {
			if cleanForce || !term.IsTerminal(int(os.Stdin.Fd())) {
				return true, nil
			}
			return confirm(os.Stdin, os.Stdout, question)
		}
		return runClean(os.Stdout, r, plan, dryRun, ask, runRecipe)
	},
}

// runClean previews what the clean plan deletes, asks for confirmation and
// hands the recipe to run. A plan made only of removal steps with nothing
// to remove is not run at all.
func runClean(w io.Writer, r *runner.Runner, plan *recipe.Plan, dry bool,
	ask func(question string) (bool, error), run func(ref string) error) error {
	toDelete, err := cleanTargets(r, plan)
	if err != nil {
		return err
	}

	if len(toDelete) == 0 && onlyRemovals(plan) {
		fmt.Fprintln(w, "Nothing to clean.")
		return nil
	}

	question := "Run the " + plan.Recipe + " recipe?"
	if len(toDelete) > 0 {
		fmt.Fprintln(w, "The following paths will be deleted:")
		fmt.Fprintln(w)
		for _, p := range toDelete {
			fmt.Fprintf(w, "  %s\n", p)
		}
		fmt.Fprintln(w)
		question = "Delete these paths?"
	}

	if dry && onlyRemovals(plan) {
		return nil
	}

	if !dry {
		ok, err := ask(question)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	return run(plan.Recipe)
}

// onlyRemovals reports whether every leaf of plan removes paths.
func onlyRemovals(plan *recipe.Plan) bool {
	for _, leaf := range plan.Leaves {
		switch leaf.Step.Kind() {
		case recipe.KindRemoveDirs, recipe.KindRemoveFiles:
		default:
			return false
		}
	}
	return true
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "skip confirmation prompt")
}

// cleanTargets lists the paths the clean plan's removal steps would delete,
// relative to the workspace root.
func cleanTargets(r *runner.Runner, plan *recipe.Plan) ([]string, error) {
	var paths []string
	for _, leaf := range plan.Leaves {
		switch leaf.Step.Kind() {
		case recipe.KindRemoveDirs, recipe.KindRemoveFiles:
		default:
			continue
		}
		found, err := r.Targets(leaf.Step)
		if err != nil {
			return nil, fmt.Errorf("finding %s: %w", leaf.Step, err)
		}
		for _, p := range found {
			if rel, err := filepath.Rel(r.Root(), p); err == nil {
				p = rel
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading response: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
