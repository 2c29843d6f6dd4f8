package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/result"
	"github.com/lemon07r/crank/internal/runner"
	"github.com/lemon07r/crank/internal/sweep"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <run>",
	Short: "Check whether a recorded run still matches the workspace",
	Long: `Verifies that a recorded run is still representative of the workspace
by comparing hashes.

This command checks:
  1. Plan digest - the recipe still expands to the same steps
  2. Lockfile fingerprints - lockfiles are unchanged since the run ended

No steps are re-run; this only compares BLAKE3 hashes.

Examples:
  crank verify latest
  crank verify .crank/runs/checks-2026-01-02T150405-1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveRunPath(runDir(), args[0])
		if err != nil {
			return err
		}
		run, err := result.Load(path)
		if err != nil {
			return err
		}

		r, err := newRunner()
		if err != nil {
			return err
		}

		return verifyRun(os.Stdout, r, run)
	},
}

// verifyRun checks run against the current recipe book and lockfiles and
// writes the report to w. It returns an *exitError when any check fails.
func verifyRun(w io.Writer, r *runner.Runner, run *result.Run) error {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w, " CRANK - Run Verification")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
	fmt.Fprintf(w, " Run:       %s\n", run.ID)
	fmt.Fprintf(w, " Recipe:    %s\n", run.Recipe)
	fmt.Fprintf(w, " Status:    %s %s\n", result.StatusEmoji[run.Status], run.Status)
	fmt.Fprintln(w)

	passed, failed := 0, 0

	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	fmt.Fprintln(w, " Verifying Plan")
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")

	plan, err := r.Plan(run.Recipe)
	switch {
	case err != nil:
		fmt.Fprintf(w, " ✗ Recipe can no longer be planned: %v\n", err)
		failed++
	case result.DigestPlan(plan.Commands()) == run.PlanDigest:
		fmt.Fprintln(w, " ✓ Plan digest matches - recipe steps are unchanged")
		passed++
	default:
		fmt.Fprintln(w, " ✗ Plan digest MISMATCH - recipe steps changed since the run")
		fmt.Fprintf(w, "   Recorded: %s\n", run.PlanDigest)
		fmt.Fprintf(w, "   Current:  %s\n", result.DigestPlan(plan.Commands()))
		failed++
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	fmt.Fprintln(w, " Verifying Lockfiles")
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")

	drift := lockfileDrift(run.Lockfiles.After, r.Lockfiles())
	if len(drift) == 0 {
		fmt.Fprintf(w, " ✓ All %d lockfile fingerprints match\n", len(run.Lockfiles.After))
		passed++
	} else {
		for _, line := range drift {
			fmt.Fprintf(w, " ✗ %s\n", line)
		}
		failed++
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if failed == 0 {
		fmt.Fprintf(w, " ✓ PASSED: %d checks passed\n", passed)
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintf(w, " ✗ FAILED: %d checks failed, %d passed\n", failed, passed)
	fmt.Fprintln(w)
	return &exitError{code: 1}
}

// lockfileDrift describes every lockfile whose fingerprint differs between
// the recorded and current sets.
func lockfileDrift(recorded, current map[string]string) []string {
	changed := sweep.Changed(recorded, current)
	lines := make([]string, 0, len(changed))
	for _, p := range changed {
		switch {
		case recorded[p] == "":
			lines = append(lines, fmt.Sprintf("%s - created since the run", p))
		case current[p] == "":
			lines = append(lines, fmt.Sprintf("%s - removed since the run", p))
		default:
			lines = append(lines, fmt.Sprintf("%s - modified since the run", p))
		}
	}
	sort.Strings(lines)
	return lines
}
