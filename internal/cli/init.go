package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/config"
)

var (
	initForce  bool
	initOutput string
)

const starterRecipes = `
# Recipes defined here replace the built-in recipe of the same name, or add
# new ones. Placeholders: {manifest}, {target_dir}, {lockfile}.
#
# [recipes.test]
# description = "Run tests with all features"
# steps = [
#   { run = ["cargo", "test", "--all-features", "--manifest-path", "{manifest}"] },
# ]
#
# [recipes.ci]
# description = "Format, lint and test"
# steps = [{ call = "format" }, { call = "clippy" }, { call = "test" }]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter " + config.FileName,
	Long: `Creates a ` + config.FileName + ` in the current directory holding the default
settings and a commented example of recipe overrides.

Example:
  crank init
  crank init --force
  crank init -o ci/crank.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := initOutput
		if path == "" {
			path = config.FileName
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		var buf bytes.Buffer
		if err := writeStarterConfig(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("Wrote %s\n", path)
		fmt.Println("\nNext steps:")
		fmt.Println("  1. Adjust [workspace] to point at your Cargo workspace")
		fmt.Println("  2. Run: crank list")
		fmt.Println("     Then: crank checks")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "output path (default: ./"+config.FileName+")")
}

// writeStarterConfig writes the default configuration followed by commented
// recipe examples.
func writeStarterConfig(w io.Writer) error {
	fmt.Fprintln(w, "# crank configuration")
	fmt.Fprintln(w)
	def := config.Default
	if err := def.Encode(w); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err := io.WriteString(w, starterRecipes)
	return err
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration crank is using after defaults, the discovered
config file and any recipe overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Encode(os.Stdout)
	},
}
