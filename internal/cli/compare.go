package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/result"
)

var compareOutputFile string

var compareCmd = &cobra.Command{
	Use:   "compare <run> <run> [run...]",
	Short: "Compare recorded runs side-by-side",
	Long: `Compare two or more recorded runs and print a table of per-step status
and duration, for example to see which step regressed between two checks runs.

Runs are given as directories, run IDs, or "latest".`,
	Example: `  crank compare .crank/runs/checks-2026-01-02T150405-1a2b3c4d latest
  crank compare run-a run-b -o comparison.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var runs []*result.Run
		for _, ref := range args {
			path, err := resolveRunPath(runDir(), ref)
			if err != nil {
				return err
			}
			run, err := result.Load(path)
			if err != nil {
				return fmt.Errorf("loading run from %s: %w", path, err)
			}
			runs = append(runs, run)
		}

		comparison := generateComparison(runs)

		if compareOutputFile != "" {
			f, err := os.Create(compareOutputFile)
			if err != nil {
				return fmt.Errorf("creating %s: %w", compareOutputFile, err)
			}
			defer func() { _ = f.Close() }()
			if err := outputJSON(f, comparison); err != nil {
				return fmt.Errorf("writing comparison: %w", err)
			}
			fmt.Printf(" Comparison saved to: %s\n", compareOutputFile)
		}

		writeComparisonReport(os.Stdout, comparison)
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVarP(&compareOutputFile, "output", "o", "", "write comparison JSON to file")
}

// Comparison is a side-by-side view of several runs.
type Comparison struct {
	Runs       []ComparisonRun              `json:"runs"`
	Steps      []string                     `json:"steps"`
	StepMatrix map[string]map[string]string `json:"step_matrix"`
}

// ComparisonRun summarises one run in a comparison.
type ComparisonRun struct {
	ID       string        `json:"id"`
	Recipe   string        `json:"recipe"`
	Status   result.Status `json:"status"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// stepKey identifies a step across runs of possibly different plans.
func stepKey(s result.StepResult) string {
	return s.Chain + ": " + s.Command
}

// generateComparison creates a side-by-side comparison of runs.
func generateComparison(runs []*result.Run) Comparison {
	c := Comparison{
		StepMatrix: make(map[string]map[string]string),
	}

	for _, run := range runs {
		passed, failed, skipped := run.Counts()
		c.Runs = append(c.Runs, ComparisonRun{
			ID:       run.ID,
			Recipe:   run.Recipe,
			Status:   run.Status,
			Passed:   passed,
			Failed:   failed,
			Skipped:  skipped,
			Duration: run.TotalTime,
		})

		for _, s := range run.Steps {
			key := stepKey(s)
			if c.StepMatrix[key] == nil {
				c.StepMatrix[key] = make(map[string]string)
				c.Steps = append(c.Steps, key)
			}
			cell := result.StatusEmoji[s.Status]
			if s.Status != result.StatusSkipped {
				cell += " " + s.Duration.Round(time.Millisecond).String()
			}
			c.StepMatrix[key][run.ID] = cell
		}
	}

	return c
}

// writeComparisonReport writes a human-readable comparison report.
func writeComparisonReport(w io.Writer, c Comparison) {
	fmt.Fprintf(w, "### Run Comparison\n\n")

	fmt.Fprintf(w, "| Run | Recipe | Status | Passed | Failed | Skipped | Duration |\n")
	fmt.Fprintf(w, "|-----|--------|--------|--------|--------|---------|----------|\n")
	for _, r := range c.Runs {
		fmt.Fprintf(w, "| %s | %s | %s %s | %d | %d | %d | %s |\n",
			r.ID, r.Recipe, result.StatusEmoji[r.Status], r.Status,
			r.Passed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if len(c.Steps) == 0 {
		return
	}

	fmt.Fprintf(w, "### Step Matrix\n\n")
	header := []string{"Step"}
	sep := []string{"----"}
	for _, r := range c.Runs {
		header = append(header, r.ID)
		sep = append(sep, strings.Repeat("-", len(r.ID)))
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(header, " | "))
	fmt.Fprintf(w, "|%s|\n", strings.Join(sep, "|"))

	for _, key := range c.Steps {
		row := []string{"`" + key + "`"}
		for _, r := range c.Runs {
			cell := c.StepMatrix[key][r.ID]
			if cell == "" {
				cell = "-"
			}
			row = append(row, cell)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(row, " | "))
	}
	fmt.Fprintln(w)
}
