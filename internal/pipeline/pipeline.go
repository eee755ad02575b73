// Package pipeline composes field resolvers from an ordered list of
// behaviors. Compose(a, b, c).Then(r) behaves as a(b(c(r))): the first
// behavior sees the call first and the result last.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/eaverdeja/blograph/internal/projection"
	"github.com/eaverdeja/blograph/internal/reqctx"
	"github.com/eaverdeja/blograph/internal/storage"
)

// Info describes the field being resolved.
type Info struct {
	ObjectType string
	FieldName  string
	Fields     []*ast.Field
	Fragments  ast.FragmentDefinitionList
	Path       []any
}

// Selection returns the field's selection for projection.
func (i Info) Selection() projection.Selection {
	return projection.Selection{Fields: i.Fields, Fragments: i.Fragments}
}

// PathString renders the response path, e.g. "posts.0.author".
func (i Info) PathString() string {
	parts := make([]string, len(i.Path))
	for j, p := range i.Path {
		parts[j] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

// Params is what a resolver receives.
type Params struct {
	Source  any
	Args    map[string]any
	Request *reqctx.Context
	Info    Info
	// Tx is set inside a Transactional behavior.
	Tx storage.Tx
}

// Resolver computes one field value.
type Resolver func(ctx context.Context, p Params) (any, error)

// Kind tags a behavior.
type Kind int

const (
	KindAuthenticate Kind = iota + 1
	KindTransactional
	KindLogged
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticate:
		return "authenticate"
	case KindTransactional:
		return "transactional"
	case KindLogged:
		return "logged"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Behavior wraps a resolver with extra work around each call.
type Behavior struct {
	Kind Kind
	Name string
	wrap func(Resolver) Resolver
}

func (b Behavior) String() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Kind.String()
}

// Wrap applies the behavior to next.
func (b Behavior) Wrap(next Resolver) Resolver { return b.wrap(next) }

// Func builds a custom behavior.
func Func(name string, wrap func(Resolver) Resolver) Behavior {
	return Behavior{Kind: KindCustom, Name: name, wrap: wrap}
}

// Chain is an ordered list of behaviors, outermost first.
type Chain []Behavior

// Compose returns the chain of bs.
func Compose(bs ...Behavior) Chain { return Chain(bs) }

// Then wraps terminal with every behavior of the chain.
func (c Chain) Then(terminal Resolver) Resolver {
	r := terminal
	for i := len(c) - 1; i >= 0; i-- {
		r = c[i].Wrap(r)
	}
	return r
}

// Kinds lists the chain's behavior kinds in order.
func (c Chain) Kinds() []Kind {
	out := make([]Kind, len(c))
	for i, b := range c {
		out[i] = b.Kind
	}
	return out
}
