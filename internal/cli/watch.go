package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/result"
	"github.com/lemon07r/crank/internal/runner"
)

var watchCmd = &cobra.Command{
	Use:   "watch <recipe>",
	Short: "Rerun a recipe whenever workspace files change",
	Long: `Runs the recipe, then watches the workspace for changes and reruns it
after each change settles. Hidden directories, the build output directory and
lockfiles are ignored. Stop with Ctrl+C.

Examples:
  crank watch test
  crank watch clippy`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner()
		if err != nil {
			return err
		}

		rec, err := r.Book().ResolveRef(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return r.Watch(ctx, runner.RunOptions{
			Recipe:    rec.Name,
			DryRun:    dryRun,
			Container: inDocker,
			Record:    !noRecord,
		}, func(run *result.Run, err error) {
			if run != nil {
				fmt.Print(result.FormatSummary(run))
			}
			if err != nil && run == nil {
				logger.Error("run failed", "recipe", rec.Name, "error", err)
			}
		})
	},
}
