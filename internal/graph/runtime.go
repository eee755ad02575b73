package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/language"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/reqctx"
	"github.com/eaverdeja/blograph/internal/storage"
)

var (
	errNoRequest = errors.New("graph: no request context")
	errNoSource  = errors.New("graph: field resolved without a parent record")
)

func errNotLoaded(e storage.Entity, attr string) error {
	return fmt.Errorf("graph: %s.%s was not loaded", e, attr)
}

var _ executor.Runtime = (*Runtime)(nil)

// NewRequest builds the request context for one operation. An
// Authorization header that is present but unusable is remembered so
// guarded fields can report it.
func (r *Runtime) NewRequest(authorization string) *reqctx.Context {
	var (
		viewer  *auth.Viewer
		credErr error
	)
	if token, ok := auth.BearerToken(authorization); ok {
		viewer, credErr = r.issuer.Verify(token)
	} else if strings.TrimSpace(authorization) != "" {
		credErr = auth.ErrInvalidToken
	}
	return reqctx.New(r.store, r.analyzer, r.loader, viewer, credErr)
}

// WithRequest installs a fresh request context for req into ctx.
func (r *Runtime) WithRequest(ctx context.Context, req *http.Request) context.Context {
	rc := r.NewRequest(req.Header.Get("Authorization"))
	if rc.CredentialErr != nil {
		zerolog.Ctx(ctx).Debug().Err(rc.CredentialErr).Msg("credential rejected")
	}
	return reqctx.With(ctx, rc)
}

// ResolveSync reads stored attributes off models and keys off plain maps.
func (r *Runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case nil:
		return nil, nil
	case storage.Model:
		v, ok := storage.Value(src, field)
		if !ok {
			return nil, fmt.Errorf("graph: %s.%s is not a stored attribute of %s", objectType, field, src.Entity())
		}
		return v, nil
	case map[string]any:
		return src[field], nil
	default:
		return nil, fmt.Errorf("graph: cannot read %s.%s from %T", objectType, field, source)
	}
}

// BatchResolveAsync runs the tasks of one depth. Root mutation fields run
// one after another; every other batch runs concurrently under the
// request's cache so their loads group into shared fetches.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	rc := reqctx.From(ctx)
	if rc == nil {
		for i := range results {
			results[i].Error = apperr.Internal(errNoRequest)
		}
		return results
	}

	if serial(tasks) {
		for i := range tasks {
			rc.Loaders.Run(ctx, func(ctx context.Context) {
				results[i] = r.resolve(ctx, rc, tasks[i])
			})
		}
		return results
	}

	fns := make([]func(context.Context), len(tasks))
	for i := range tasks {
		fns[i] = func(ctx context.Context) {
			results[i] = r.resolve(ctx, rc, tasks[i])
		}
	}
	rc.Loaders.Run(ctx, fns...)
	return results
}

func serial(tasks []executor.AsyncResolveTask) bool {
	return len(tasks) > 0 && tasks[0].Operation == language.Mutation && len(tasks[0].Path) == 1
}

func (r *Runtime) resolve(ctx context.Context, rc *reqctx.Context, t executor.AsyncResolveTask) (res executor.AsyncResolveResult) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().
				Str("field", t.ObjectType+"."+t.Field).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("resolver panicked")
			res = executor.AsyncResolveResult{Error: apperr.Internal(fmt.Errorf("panic: %v", p))}
		}
	}()

	fn, ok := r.resolvers[t.ObjectType+"."+t.Field]
	if !ok {
		return executor.AsyncResolveResult{Error: apperr.Internal(fmt.Errorf("graph: no resolver for %s.%s", t.ObjectType, t.Field))}
	}
	path := make([]any, len(t.Path))
	for i, p := range t.Path {
		path[i] = p
	}
	v, err := fn(ctx, pipeline.Params{
		Source:  t.Source,
		Args:    t.Args,
		Request: rc,
		Info: pipeline.Info{
			ObjectType: t.ObjectType,
			FieldName:  t.Field,
			Fields:     t.Fields,
			Fragments:  t.Fragments,
			Path:       path,
		},
	})
	if err != nil {
		return executor.AsyncResolveResult{Error: apperr.From(err)}
	}
	return executor.AsyncResolveResult{Value: v}
}

// ResolveType is unused: the blog schema has no abstract types.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return "", fmt.Errorf("graph: no abstract type %s", abstractType)
}

// SerializeLeafValue renders ids as strings and times as RFC 3339.
func (r *Runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *string:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	}
	if typeName == "ID" {
		switch v := value.(type) {
		case int64:
			return strconv.FormatInt(v, 10), nil
		case int:
			return strconv.Itoa(v), nil
		case string:
			return v, nil
		default:
			return nil, fmt.Errorf("graph: cannot serialize %T as ID", value)
		}
	}
	return value, nil
}
