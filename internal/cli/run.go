package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/result"
	"github.com/lemon07r/crank/internal/runner"
)

// exitCodeInterrupted is the conventional status for SIGINT.
const exitCodeInterrupted = 130

var runCmd = &cobra.Command{
	Use:   "run <recipe>",
	Short: "Run a recipe by name or unambiguous prefix",
	Long: `Runs a recipe from the built-in book or crank.toml.

The recipe can be named in full or by any prefix that matches exactly one
recipe. Steps run in order and the run stops at the first failing step.

Examples:
  crank run checks
  crank run pub --dry-run
  crank run clippy --container`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecipe(args[0])
	},
}

// addRecipeCommands registers one subcommand per built-in recipe. Names
// already taken by a command (list, clean) keep the command.
func addRecipeCommands(parent *cobra.Command) {
	taken := make(map[string]bool)
	for _, c := range parent.Commands() {
		taken[c.Name()] = true
	}

	for _, r := range recipe.Default().List() {
		if taken[r.Name] {
			continue
		}
		name := r.Name
		parent.AddCommand(&cobra.Command{
			Use:   name,
			Short: r.Description,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRecipe(name)
			},
		})
	}
}

// newRunner builds a runner from the loaded config and its recipe book.
func newRunner() (*runner.Runner, error) {
	book, err := cfg.Book()
	if err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	return runner.NewRunner(cfg, book, os.Stdout, logger)
}

// runRecipe resolves ref, runs it and prints the run summary.
func runRecipe(ref string) error {
	r, err := newRunner()
	if err != nil {
		return err
	}

	rec, err := r.Book().ResolveRef(ref)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger.Debug("running recipe", "recipe", rec.Name, "dry_run", dryRun, "container", inDocker)
	run, err := r.Run(ctx, runner.RunOptions{
		Recipe:    rec.Name,
		DryRun:    dryRun,
		Container: inDocker,
		Record:    !noRecord,
	})

	if run != nil {
		fmt.Print(result.FormatSummary(run))
		if !noRecord && cfg.Runner.Record {
			fmt.Printf(" Run saved to: %s\n\n", run.Dir(r.RunDir()))
		}
	}

	if ctx.Err() != nil {
		return &exitError{code: exitCodeInterrupted}
	}
	return exitFor(err)
}

// exitFor converts a step failure into the process exit code it carries.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	var stepErr *runner.StepError
	if errors.As(err, &stepErr) {
		if stepErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", stepErr)
		}
		return &exitError{code: stepErr.ExitCode}
	}
	return err
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// exitError is a sentinel error for non-zero exit codes.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
