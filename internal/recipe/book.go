package recipe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownRecipe is returned when a recipe name does not resolve.
	ErrUnknownRecipe = errors.New("unknown recipe")
	// ErrDuplicateRecipe is returned when a recipe name is defined twice.
	ErrDuplicateRecipe = errors.New("recipe already defined")
	// ErrCycle is returned when composite recipes call each other in a loop.
	ErrCycle = errors.New("recipe call cycle")
)

// Book is a set of uniquely named recipes.
type Book struct {
	recipes map[string]*Recipe
}

// NewBook creates an empty recipe book.
func NewBook() *Book {
	return &Book{recipes: make(map[string]*Recipe)}
}

// Default returns the built-in recipes for a Cargo workspace.
func Default() *Book {
	b := NewBook()
	for _, r := range defaultRecipes() {
		if err := b.Add(r); err != nil {
			panic(err)
		}
	}
	return b
}

func run(args ...string) Step { return Step{Run: args} }
func call(name string) Step   { return Step{Call: name} }

func defaultRecipes() []Recipe {
	return []Recipe{
		{
			Name:        "list",
			Description: "List available recipes",
			Steps:       []Step{{Builtin: BuiltinList}},
		},
		{
			Name:        "format",
			Description: "Format every workspace crate",
			Steps:       []Step{run("cargo", "fmt", "--all")},
		},
		{
			Name:        "build",
			Description: "Build everything with all features enabled",
			Steps:       []Step{run("cargo", "build", "--all", "--all-features")},
		},
		{
			Name:        "test",
			Description: "Run every test with all features enabled",
			Steps:       []Step{run("cargo", "test", "--all", "--all-features")},
		},
		{
			Name:        "miri",
			Description: "Run tests under miri on the nightly toolchain",
			Steps:       []Step{run("cargo", "+nightly", "miri", "test", "--manifest-path", "{manifest}")},
		},
		{
			Name:        "clippy",
			Description: "Lint the library, then the test targets",
			Steps: []Step{
				run("cargo", "clippy", "--all", "--all-features"),
				run("cargo", "clippy", "--tests", "--all", "--all-features"),
			},
		},
		{
			Name:        "checks",
			Description: "Format, build, lint, test, then test under miri",
			Steps:       []Step{call("format"), call("build"), call("clippy"), call("test"), call("miri")},
		},
		{
			Name:        "clean",
			Description: "Remove build output directories and lockfiles",
			Steps:       []Step{{RemoveDirs: "{target_dir}"}, call("remove-lockfiles")},
		},
		{
			Name:        "remove-lockfiles",
			Description: "Remove every lockfile below the workspace root",
			Steps:       []Step{{RemoveFiles: "{lockfile}"}},
		},
		{
			Name:        "list-outdated",
			Description: "List outdated dependencies across workspace members",
			Steps:       []Step{run("cargo", "outdated", "-R", "-w")},
		},
		{
			Name:        "update",
			Description: "Update dependencies aggressively",
			Steps:       []Step{run("cargo", "update", "--aggressive")},
		},
		{
			Name:        "publish",
			Description: "Publish the package without verification",
			Steps:       []Step{run("cargo", "publish", "--no-verify")},
		},
	}
}

// Add registers a recipe. Each name may only be defined once.
func (b *Book) Add(r Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := b.recipes[r.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRecipe, r.Name)
	}
	rc := r
	rc.Steps = append([]Step(nil), r.Steps...)
	b.recipes[r.Name] = &rc
	return nil
}

// Merge applies configured recipes keyed by name. A configured recipe
// replaces a built-in recipe of the same name.
func (b *Book) Merge(overrides map[string]Recipe) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := overrides[name]
		r.Name = name
		delete(b.recipes, name)
		if err := b.Add(r); err != nil {
			return fmt.Errorf("configured recipe %s: %w", name, err)
		}
	}
	return nil
}

// Get returns the recipe with the given name.
func (b *Book) Get(name string) (*Recipe, error) {
	r, ok := b.recipes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipe, name)
	}
	return r, nil
}

// Names returns all recipe names, sorted.
func (b *Book) Names() []string {
	names := make([]string, 0, len(b.recipes))
	for name := range b.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all recipes sorted by name.
func (b *Book) List() []*Recipe {
	list := make([]*Recipe, 0, len(b.recipes))
	for _, name := range b.Names() {
		list = append(list, b.recipes[name])
	}
	return list
}

// Len returns the number of recipes.
func (b *Book) Len() int {
	return len(b.recipes)
}

// Validate checks every recipe, that every call resolves and that no
// composite recipe reaches itself.
func (b *Book) Validate() error {
	for _, name := range b.Names() {
		r := b.recipes[name]
		if err := r.Validate(); err != nil {
			return err
		}
		for _, c := range r.Calls() {
			if _, ok := b.recipes[c]; !ok {
				return fmt.Errorf("recipe %s calls %w: %s", name, ErrUnknownRecipe, c)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(b.recipes))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		next := append(append([]string(nil), path...), name)
		for _, c := range b.recipes[name].Calls() {
			if err := visit(c, next); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range b.Names() {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// ResolveRef resolves a recipe reference, which can be either an exact
// name or an unambiguous prefix of one.
func (b *Book) ResolveRef(ref string) (*Recipe, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("recipe reference is empty")
	}
	if r, ok := b.recipes[ref]; ok {
		return r, nil
	}

	var matches []string
	for _, name := range b.Names() {
		if strings.HasPrefix(name, ref) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipe, ref)
	case 1:
		return b.recipes[matches[0]], nil
	default:
		return nil, fmt.Errorf("recipe %q is ambiguous; use one of: %s", ref, strings.Join(matches, ", "))
	}
}
