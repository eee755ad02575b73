// Package reqctx carries the per-request resolver context: the shared storage
// handle and projection analyzer, a batching cache owned by the request, and
// the caller's identity.
package reqctx

import (
	"context"

	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/projection"
	"github.com/eaverdeja/blograph/internal/storage"
)

// Context is the state shared by every resolver of one operation.
type Context struct {
	Store      storage.Store
	Projection *projection.Analyzer
	Loaders    *loader.Cache

	// Viewer is nil for anonymous requests.
	Viewer *auth.Viewer
	// CredentialErr is set when a credential was presented but rejected.
	CredentialErr error
}

// New builds a request context with a fresh batching cache.
func New(store storage.Store, analyzer *projection.Analyzer, opts loader.Options, viewer *auth.Viewer, credErr error) *Context {
	return &Context{
		Store:         store,
		Projection:    analyzer,
		Loaders:       loader.New(store, opts),
		Viewer:        viewer,
		CredentialErr: credErr,
	}
}

type key struct{}

// With returns a copy of ctx carrying rc.
func With(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, key{}, rc)
}

// From returns the request context stored in ctx, or nil.
func From(ctx context.Context) *Context {
	rc, _ := ctx.Value(key{}).(*Context)
	return rc
}
