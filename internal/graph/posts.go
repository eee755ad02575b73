package graph

import (
	"context"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/model"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/storage"
)

func (r *Runtime) posts(ctx context.Context, p pipeline.Params) (any, error) {
	return list(ctx, p, storage.Post, nil)
}

func (r *Runtime) post(ctx context.Context, p pipeline.Params) (any, error) {
	id, err := idArg(p.Args, "id")
	if err != nil {
		return nil, err
	}
	attrs, err := project(p, storage.Post)
	if err != nil {
		return nil, err
	}
	return load(ctx, p, storage.Post, id, attrs)
}

func (r *Runtime) postAuthor(ctx context.Context, p pipeline.Params) (any, error) {
	return r.reference(ctx, p, "author", storage.User)
}

func (r *Runtime) postComments(ctx context.Context, p pipeline.Params) (any, error) {
	return children(ctx, p, storage.Comment, "post")
}

// reference loads the record the parent's attr points at.
func (r *Runtime) reference(ctx context.Context, p pipeline.Params, attr string, entity storage.Entity) (any, error) {
	src, ok := p.Source.(storage.Model)
	if !ok {
		return nil, errNoSource
	}
	v, _ := storage.Value(src, attr)
	id, ok := v.(int64)
	if !ok {
		return nil, apperr.Internal(errNotLoaded(src.Entity(), attr))
	}
	attrs, err := project(p, entity)
	if err != nil {
		return nil, err
	}
	return load(ctx, p, entity, id, attrs)
}

func (r *Runtime) createPost(ctx context.Context, p pipeline.Params) (any, error) {
	values := only(inputArg(p.Args), "title", "content", "photo")
	values["author"] = viewerID(p)
	m, err := p.Request.Store.Create(ctx, p.Tx, storage.Post, values)
	if err != nil {
		return nil, err
	}
	p.Request.Loaders.ClearChildren()
	return m, nil
}

// ownPost returns the post with the id argument if the viewer wrote it.
func ownPost(ctx context.Context, p pipeline.Params) (*model.Post, error) {
	id, err := idArg(p.Args, "id")
	if err != nil {
		return nil, err
	}
	m, err := find(ctx, p, storage.Post, id)
	if err != nil {
		return nil, err
	}
	post := m.(*model.Post)
	if post.Author != viewerID(p) {
		return nil, apperr.Forbidden(apperr.MsgNotPostAuthor)
	}
	return post, nil
}

func (r *Runtime) updatePost(ctx context.Context, p pipeline.Params) (any, error) {
	post, err := ownPost(ctx, p)
	if err != nil {
		return nil, err
	}
	m, err := p.Request.Store.Update(ctx, p.Tx, storage.Post, post.ID, only(inputArg(p.Args), "title", "content", "photo"))
	if err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.Post, ID: post.ID})
	return m, nil
}

func (r *Runtime) deletePost(ctx context.Context, p pipeline.Params) (any, error) {
	post, err := ownPost(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := p.Request.Store.Destroy(ctx, p.Tx, storage.Post, post.ID); err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.Post, ID: post.ID})
	return true, nil
}
