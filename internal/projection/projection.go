// Package projection computes which stored attributes a field selection
// needs, so reads fetch only the columns a query asks for.
package projection

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

var (
	// ErrFragmentCycle is returned when a fragment spreads itself, directly or
	// through other fragments.
	ErrFragmentCycle = errors.New("projection: fragment cycle")
	// ErrUnknownFragment is returned for a spread with no definition.
	ErrUnknownFragment = errors.New("projection: unknown fragment")
)

// Selection is the set of AST field nodes that resolve one response field,
// together with the request's fragment definitions.
type Selection struct {
	Fields    []*ast.Field
	Fragments ast.FragmentDefinitionList
}

// Options adjusts a computed projection.
type Options struct {
	// Keep lists attributes fetched even when not selected.
	Keep []string
	// Exclude lists selected names that are not stored attributes, such as
	// relations resolved by separate lookups.
	Exclude []string
}

// Analyzer computes projections. It holds no per-request state.
type Analyzer struct {
	PrimaryKey string
}

// New returns an Analyzer whose primary key attribute is "id".
func New() *Analyzer { return &Analyzer{PrimaryKey: "id"} }

// Compute returns the ordered attribute list for sel: the primary key, then
// opts.Keep, then every child field name in selection order. Names in
// opts.Exclude and meta fields are dropped; the primary key never is.
//
// Directives are not evaluated, so a skipped field still counts.
func (a *Analyzer) Compute(sel Selection, opts Options) ([]string, error) {
	pk := a.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	out := []string{pk}
	add := func(name string) {
		if strings.HasPrefix(name, "__") || slices.Contains(opts.Exclude, name) || slices.Contains(out, name) {
			return
		}
		out = append(out, name)
	}
	for _, k := range opts.Keep {
		add(k)
	}

	w := walker{fragments: sel.Fragments, visiting: make(map[string]bool), add: add}
	for _, f := range sel.Fields {
		if f == nil {
			continue
		}
		if err := w.walk(f.SelectionSet); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type walker struct {
	fragments ast.FragmentDefinitionList
	visiting  map[string]bool
	add       func(string)
}

func (w *walker) walk(set ast.SelectionSet) error {
	for _, s := range set {
		switch s := s.(type) {
		case *ast.Field:
			w.add(s.Name)
		case *ast.InlineFragment:
			if err := w.walk(s.SelectionSet); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if err := w.spread(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) spread(s *ast.FragmentSpread) error {
	if w.visiting[s.Name] {
		return fmt.Errorf("%w through %q", ErrFragmentCycle, s.Name)
	}
	def := w.fragments.ForName(s.Name)
	if def == nil {
		def = s.Definition
	}
	if def == nil {
		return fmt.Errorf("%w %q", ErrUnknownFragment, s.Name)
	}
	w.visiting[s.Name] = true
	defer delete(w.visiting, s.Name)
	return w.walk(def.SelectionSet)
}
