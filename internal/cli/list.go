package cli

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/runner"
)

var (
	listJSON bool
	listYAML bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available recipes",
	Long:  `Lists every recipe from the built-in book and crank.toml with its description.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listJSON && listYAML {
			return errors.New("--json and --yaml are mutually exclusive")
		}

		book, err := cfg.Book()
		if err != nil {
			return err
		}

		switch {
		case listJSON:
			return outputJSON(os.Stdout, book.List())
		case listYAML:
			return outputYAML(os.Stdout, book.List())
		default:
			return runner.WriteRecipeTable(os.Stdout, book)
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	listCmd.Flags().BoolVar(&listYAML, "yaml", false, "output as YAML")
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputYAML(w io.Writer, recipes []*recipe.Recipe) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(recipes); err != nil {
		return err
	}
	return enc.Close()
}
