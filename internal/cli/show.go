package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/result"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <run>",
	Short: "Display a recorded run",
	Long: `Shows the results of a previous recipe run.

The run can be given as a path to its directory, as a run ID under the
configured run directory, or as "latest".

Example:
  crank show latest
  crank show .crank/runs/checks-2026-01-02T150405-1a2b3c4d
  crank show checks-2026-01-02T150405-1a2b3c4d --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runPath, err := resolveRunPath(runDir(), args[0])
		if err != nil {
			return err
		}

		run, err := result.Load(runPath)
		if err != nil {
			return err
		}

		if showJSON {
			return outputJSON(os.Stdout, run)
		}

		displayRun(run, runPath)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
}

// runDir returns the configured run directory relative to the workspace root.
func runDir() string {
	if filepath.IsAbs(cfg.Runner.RunDir) {
		return cfg.Runner.RunDir
	}
	return filepath.Join(cfg.Workspace.Root, cfg.Runner.RunDir)
}

// resolveRunPath maps a run reference to a run directory.
func resolveRunPath(base, ref string) (string, error) {
	if ref == "latest" {
		return latestRun(base)
	}
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref, nil
	}
	candidate := filepath.Join(base, ref)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}
	return "", fmt.Errorf("run not found: %s", ref)
}

// latestRun returns the most recently modified run directory under base.
func latestRun(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no runs recorded in %s", base)
		}
		return "", fmt.Errorf("reading run directory: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var runs []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(base, e.Name(), "result.json"))
		if err != nil {
			continue
		}
		runs = append(runs, candidate{path: filepath.Join(base, e.Name()), mod: info.ModTime()})
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded in %s", base)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].mod.After(runs[j].mod) })
	return runs[0].path, nil
}

func displayRun(run *result.Run, path string) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf(" RUN: %s\n", run.ID)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	passed, failed, skipped := run.Counts()
	fmt.Printf(" Status:    %s %s\n", result.StatusEmoji[run.Status], strings.ToUpper(string(run.Status)))
	fmt.Printf(" Recipe:    %s\n", run.Recipe)
	fmt.Printf(" Steps:     %d passed, %d failed, %d skipped\n", passed, failed, skipped)
	fmt.Printf(" Duration:  %s\n", run.TotalTime.Round(time.Millisecond))
	fmt.Printf(" Started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf(" Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	if run.Config.Container {
		fmt.Printf(" Image:     %s\n", run.Config.Image)
	}
	fmt.Println()

	fmt.Println(" ─────────────────────────────────────────────────────────")
	fmt.Println(" STEPS")
	fmt.Println(" ─────────────────────────────────────────────────────────")
	fmt.Println()
	for _, s := range run.Steps {
		fmt.Print(result.FormatStep(s))
	}

	if len(run.Lockfiles.Changed) > 0 {
		fmt.Println()
		fmt.Println(" ─────────────────────────────────────────────────────────")
		fmt.Println(" LOCKFILES CHANGED")
		fmt.Println(" ─────────────────────────────────────────────────────────")
		for _, p := range run.Lockfiles.Changed {
			fmt.Printf("   %s\n", p)
		}
	}

	fmt.Println()
	fmt.Println(" ─────────────────────────────────────────────────────────")
	fmt.Println(" FILES")
	fmt.Println(" ─────────────────────────────────────────────────────────")
	fmt.Printf(" Report:    %s\n", filepath.Join(path, "report.md"))
	fmt.Printf(" Result:    %s\n", filepath.Join(path, "result.json"))
	fmt.Printf(" Logs:      %s\n", filepath.Join(path, "logs")+string(filepath.Separator))
	fmt.Println()
}
