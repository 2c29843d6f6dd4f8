package recipe

import (
	"fmt"
	"regexp"
	"strings"
)

// Vars holds placeholder values substituted into step arguments.
type Vars map[string]string

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Expand replaces {name} placeholders in s. Unknown placeholders are an error.
func (v Vars) Expand(s string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		val, ok := v[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown placeholder {%s} in %q", missing[0], s)
	}
	return out, nil
}

// Leaf is a non-call step in a flattened plan.
type Leaf struct {
	Chain     []string // Recipe names from the requested recipe down to the owner
	Step      Step     // Step with placeholders expanded
	Container bool     // Owner recipe runs inside a container
}

// Recipe returns the name of the recipe that owns the step.
func (l Leaf) Recipe() string {
	return l.Chain[len(l.Chain)-1]
}

// Label renders the recipe chain, e.g. "checks > clippy".
func (l Leaf) Label() string {
	return strings.Join(l.Chain, " > ")
}

// Plan is the ordered list of leaves produced by a recipe.
type Plan struct {
	Recipe string
	Leaves []Leaf
}

// Commands returns the display form of every leaf step, in order.
func (p *Plan) Commands() []string {
	cmds := make([]string, len(p.Leaves))
	for i, l := range p.Leaves {
		cmds[i] = l.Step.String()
	}
	return cmds
}

// Plan flattens the named recipe into leaf steps, expanding calls
// depth-first in declaration order.
func (b *Book) Plan(name string, vars Vars) (*Plan, error) {
	if _, err := b.Get(name); err != nil {
		return nil, err
	}
	p := &Plan{Recipe: name}
	if err := b.expand(p, []string{name}, vars); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Book) expand(p *Plan, chain []string, vars Vars) error {
	name := chain[len(chain)-1]
	r, err := b.Get(name)
	if err != nil {
		return err
	}
	if len(chain) > len(b.recipes)+1 {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(chain, " -> "))
	}

	for _, s := range r.Steps {
		if s.Kind() == KindCall {
			next := append(append([]string(nil), chain...), s.Call)
			if err := b.expand(p, next, vars); err != nil {
				return err
			}
			continue
		}

		expanded, err := expandStep(s, vars)
		if err != nil {
			return fmt.Errorf("recipe %s: %w", name, err)
		}
		p.Leaves = append(p.Leaves, Leaf{
			Chain:     append([]string(nil), chain...),
			Step:      expanded,
			Container: r.Container,
		})
	}
	return nil
}

func expandStep(s Step, vars Vars) (Step, error) {
	out := s
	var err error
	if len(s.Run) > 0 {
		out.Run = make([]string, len(s.Run))
		for i, arg := range s.Run {
			if out.Run[i], err = vars.Expand(arg); err != nil {
				return Step{}, err
			}
		}
	}
	if out.RemoveDirs, err = vars.Expand(s.RemoveDirs); err != nil {
		return Step{}, err
	}
	if out.RemoveFiles, err = vars.Expand(s.RemoveFiles); err != nil {
		return Step{}, err
	}
	return out, nil
}
