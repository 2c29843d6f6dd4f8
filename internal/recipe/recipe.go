// Package recipe provides recipe definitions, the built-in recipe book and
// plan expansion for crank.
package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// Builtin action names.
const (
	BuiltinList = "list"
)

// Step is a single action within a recipe. Exactly one field is set.
type Step struct {
	Run         []string `json:"run,omitempty"          toml:"run,omitempty"          yaml:"run,omitempty"`
	Call        string   `json:"call,omitempty"         toml:"call,omitempty"         yaml:"call,omitempty"`
	RemoveDirs  string   `json:"remove_dirs,omitempty"  toml:"remove_dirs,omitempty"  yaml:"remove_dirs,omitempty"`
	RemoveFiles string   `json:"remove_files,omitempty" toml:"remove_files,omitempty" yaml:"remove_files,omitempty"`
	Builtin     string   `json:"builtin,omitempty"      toml:"builtin,omitempty"      yaml:"builtin,omitempty"`
}

// Kind identifies which action a step performs.
type Kind string

const (
	KindRun         Kind = "run"
	KindCall        Kind = "call"
	KindRemoveDirs  Kind = "remove_dirs"
	KindRemoveFiles Kind = "remove_files"
	KindBuiltin     Kind = "builtin"
)

// Kind returns the action kind of the step, or "" when no action is set.
func (s Step) Kind() Kind {
	switch {
	case len(s.Run) > 0:
		return KindRun
	case s.Call != "":
		return KindCall
	case s.RemoveDirs != "":
		return KindRemoveDirs
	case s.RemoveFiles != "":
		return KindRemoveFiles
	case s.Builtin != "":
		return KindBuiltin
	default:
		return ""
	}
}

// actions counts how many action fields are set.
func (s Step) actions() int {
	n := 0
	if len(s.Run) > 0 {
		n++
	}
	for _, v := range []string{s.Call, s.RemoveDirs, s.RemoveFiles, s.Builtin} {
		if v != "" {
			n++
		}
	}
	return n
}

// String renders the step the way it appears in listings and logs.
func (s Step) String() string {
	switch s.Kind() {
	case KindRun:
		return strings.Join(s.Run, " ")
	case KindCall:
		return "@" + s.Call
	case KindRemoveDirs:
		return fmt.Sprintf("remove directories named %q", s.RemoveDirs)
	case KindRemoveFiles:
		return fmt.Sprintf("remove files matching %q", s.RemoveFiles)
	case KindBuiltin:
		return "builtin:" + s.Builtin
	default:
		return "<empty step>"
	}
}

// Recipe is a named, argument-free sequence of steps.
type Recipe struct {
	Name        string `json:"name"                toml:"-"                   yaml:"name"`
	Description string `json:"description"         toml:"description"         yaml:"description"`
	Container   bool   `json:"container,omitempty" toml:"container,omitempty" yaml:"container,omitempty"`
	Steps       []Step `json:"steps"               toml:"steps"               yaml:"steps"`
}

// Composite reports whether the recipe invokes other recipes.
func (r *Recipe) Composite() bool {
	for _, s := range r.Steps {
		if s.Kind() == KindCall {
			return true
		}
	}
	return false
}

// Calls returns the names of the recipes this recipe invokes, in order.
func (r *Recipe) Calls() []string {
	var calls []string
	for _, s := range r.Steps {
		if s.Kind() == KindCall {
			calls = append(calls, s.Call)
		}
	}
	return calls
}

// Validate checks that required recipe fields are present.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return errors.New("recipe name is required")
	}
	if strings.ContainsAny(r.Name, " \t/") {
		return fmt.Errorf("recipe name %q must not contain whitespace or slashes", r.Name)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("recipe %s has no steps", r.Name)
	}
	for i, s := range r.Steps {
		switch s.actions() {
		case 0:
			return fmt.Errorf("recipe %s step %d sets no action", r.Name, i+1)
		case 1:
		default:
			return fmt.Errorf("recipe %s step %d sets more than one action", r.Name, i+1)
		}
		if s.Kind() == KindRun && strings.TrimSpace(s.Run[0]) == "" {
			return fmt.Errorf("recipe %s step %d has an empty command", r.Name, i+1)
		}
		if s.Kind() == KindBuiltin && s.Builtin != BuiltinList {
			return fmt.Errorf("recipe %s step %d: unknown builtin %q", r.Name, i+1, s.Builtin)
		}
	}
	return nil
}
