package runner

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/lemon07r/crank/internal/recipe"
)

// WriteRecipeTable prints every recipe with its description, sorted by name.
func WriteRecipeTable(w io.Writer, book *recipe.Book) error {
	list := book.List()
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No recipes defined.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECIPE\tDESCRIPTION")
	fmt.Fprintln(tw, "------\t-----------")

	for _, r := range list {
		desc := r.Description
		if r.Composite() {
			desc = fmt.Sprintf("%s [%s]", desc, strings.Join(r.Calls(), ", "))
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.Name, desc)
	}

	return tw.Flush()
}
