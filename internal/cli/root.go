// Package cli provides the command-line interface for crank.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/config"
)

var (
	cfgFile  string
	rootDir  string
	verbose  bool
	cfg      *config.Config
	logger   *slog.Logger
	dryRun   bool
	inDocker bool
	noRecord bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "crank [recipe]",
	Short: "Recipe runner for Cargo workspaces",
	Long: `crank runs named recipes for a Rust/Cargo workspace: formatting, building,
linting, testing (including under miri), cleaning and dependency maintenance.

Each recipe invokes cargo with fixed arguments. The checks recipe runs
format, build, clippy, test and miri in order and stops at the first failure.

Recipes can also run inside a Docker container, be rerun on file changes
and are recorded under .crank/runs for later inspection.`,
	Example: `  crank checks
  crank clippy --container
  crank run pub --dry-run
  crank watch test`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		if rootDir != "" {
			if err := os.Chdir(rootDir); err != nil {
				return fmt.Errorf("changing to workspace root: %w", err)
			}
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.Debug("config loaded", "root", cfg.Workspace.Root, "recipes", len(cfg.Recipes))

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Recipes defined only in crank.toml have no subcommand of their own
		if len(args) == 0 {
			return cmd.Help()
		}
		if len(args) > 1 {
			return fmt.Errorf("recipes take no arguments, got %v", args[1:])
		}
		return runRecipe(args[0])
	},
}

// Execute runs the root command and exits with the failing step's code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./crank.toml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root to run in (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "print the steps without executing them")
	rootCmd.PersistentFlags().BoolVar(&inDocker, "container", false, "run cargo steps inside the configured container image")
	rootCmd.PersistentFlags().BoolVar(&noRecord, "no-record", false, "do not write a run record")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	addRecipeCommands(rootCmd)
}

// Version information (set by build flags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crank version %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", BuildDate)
	},
}
