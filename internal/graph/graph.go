// Package graph binds the blog schema to storage. It declares, per field,
// the ordered behaviors wrapping each resolver and implements the
// executor's Runtime on top of the request's batching cache.
package graph

import (
	_ "embed"
	"errors"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/projection"
	"github.com/eaverdeja/blograph/internal/schema"
	"github.com/eaverdeja/blograph/internal/storage"
)

// SDL is the GraphQL schema the runtime serves.
//
//go:embed schema.graphql
var SDL string

var (
	errNoStore  = errors.New("graph: a store is required")
	errNoIssuer = errors.New("graph: a token issuer is required")
)

// Behavior chains, outermost first.
var (
	relation  = pipeline.Compose()
	public    = pipeline.Compose(pipeline.Logged())
	viewer    = pipeline.Compose(pipeline.Logged(), pipeline.Authenticate())
	writer    = pipeline.Compose(pipeline.Logged(), pipeline.Transactional())
	protected = pipeline.Compose(pipeline.Logged(), pipeline.Authenticate(), pipeline.Transactional())
)

type fieldDef struct {
	chain   pipeline.Chain
	resolve pipeline.Resolver
}

// Options configures a Runtime.
type Options struct {
	Store    storage.Store
	Issuer   *auth.Issuer
	Analyzer *projection.Analyzer
	Loader   loader.Options
}

// Runtime resolves the blog schema. It is safe for concurrent use; all
// per-request state lives in the request context.
type Runtime struct {
	store    storage.Store
	issuer   *auth.Issuer
	analyzer *projection.Analyzer
	loader   loader.Options

	chains    map[string]pipeline.Chain
	resolvers map[string]pipeline.Resolver
}

// New composes every field resolver once.
func New(opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, errNoStore
	}
	if opts.Issuer == nil {
		return nil, errNoIssuer
	}
	if opts.Analyzer == nil {
		opts.Analyzer = projection.New()
	}
	r := &Runtime{
		store:     opts.Store,
		issuer:    opts.Issuer,
		analyzer:  opts.Analyzer,
		loader:    opts.Loader,
		chains:    make(map[string]pipeline.Chain),
		resolvers: make(map[string]pipeline.Resolver),
	}
	for key, f := range r.fields() {
		r.chains[key] = f.chain
		r.resolvers[key] = f.chain.Then(f.resolve)
	}
	return r, nil
}

func (r *Runtime) fields() map[string]fieldDef {
	return map[string]fieldDef{
		"Query.users":          {public, r.users},
		"Query.user":           {public, r.user},
		"Query.currentUser":    {viewer, r.currentUser},
		"Query.posts":          {public, r.posts},
		"Query.post":           {public, r.post},
		"Query.commentsByPost": {public, r.commentsByPost},

		"Mutation.createToken":        {public, r.createToken},
		"Mutation.createUser":         {writer, r.createUser},
		"Mutation.updateUser":         {protected, r.updateUser},
		"Mutation.updateUserPassword": {protected, r.updateUserPassword},
		"Mutation.deleteUser":         {protected, r.deleteUser},
		"Mutation.createPost":         {protected, r.createPost},
		"Mutation.updatePost":         {protected, r.updatePost},
		"Mutation.deletePost":         {protected, r.deletePost},
		"Mutation.createComment":      {protected, r.createComment},
		"Mutation.updateComment":      {protected, r.updateComment},
		"Mutation.deleteComment":      {protected, r.deleteComment},

		"User.posts":    {relation, r.userPosts},
		"Post.author":   {relation, r.postAuthor},
		"Post.comments": {relation, r.postComments},
		"Comment.post":  {relation, r.commentPost},
		"Comment.user":  {relation, r.commentUser},
	}
}

// Chain returns the behaviors declared for typeName.fieldName.
func (r *Runtime) Chain(typeName, fieldName string) (pipeline.Chain, bool) {
	c, ok := r.chains[typeName+"."+fieldName]
	return c, ok
}

// IsAsync reports whether a field has a resolver. Every other field is
// read directly off its parent.
func (r *Runtime) IsAsync(typeName, fieldName string) bool {
	_, ok := r.resolvers[typeName+"."+fieldName]
	return ok
}

// Schema loads the embedded SDL with this runtime's async fields.
func (r *Runtime) Schema() (*schema.Schema, *ast.Schema, error) {
	return schema.Load("schema.graphql", SDL, r.IsAsync)
}
