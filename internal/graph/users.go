package graph

import (
	"context"
	"errors"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/storage"
)

// load fetches one record through the request cache.
func load(ctx context.Context, p pipeline.Params, entity storage.Entity, id int64, attrs []string) (storage.Model, error) {
	m, found, err := p.Request.Loaders.Load(loader.Key{Entity: entity, ID: id}, attrs...).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound(entity, id)
	}
	return m, nil
}

// find reads one record inside the resolver's transaction.
func find(ctx context.Context, p pipeline.Params, entity storage.Entity, id int64) (storage.Model, error) {
	m, err := p.Request.Store.FindByID(ctx, entity, id, storage.Query{Tx: p.Tx})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(entity, id)
	}
	return m, err
}

// list reads a page of entity rows matching where.
func list(ctx context.Context, p pipeline.Params, entity storage.Entity, where storage.Where) (any, error) {
	limit, offset, ok, err := page(p.Args)
	if err != nil || !ok {
		return []storage.Model{}, err
	}
	attrs, err := project(p, entity)
	if err != nil {
		return nil, err
	}
	return p.Request.Store.Find(ctx, entity, storage.Query{
		Where:      where,
		Limit:      limit,
		Offset:     offset,
		Attributes: attrs,
	})
}

// children reads a page of the entity rows whose foreign attribute points at
// the source record. Sibling parents share one grouped fetch.
func children(ctx context.Context, p pipeline.Params, entity storage.Entity, foreign string) (any, error) {
	src, ok := p.Source.(storage.Model)
	if !ok {
		return nil, errNoSource
	}
	limit, offset, ok, err := page(p.Args)
	if err != nil || !ok {
		return []storage.Model{}, err
	}
	attrs, err := project(p, entity)
	if err != nil {
		return nil, err
	}
	rel := loader.Relation{Entity: entity, Foreign: foreign, Parent: src.PrimaryKey(), Limit: limit, Offset: offset}
	ms, err := p.Request.Loaders.LoadChildren(rel, attrs...).Get(ctx)
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (r *Runtime) users(ctx context.Context, p pipeline.Params) (any, error) {
	return list(ctx, p, storage.User, nil)
}

func (r *Runtime) user(ctx context.Context, p pipeline.Params) (any, error) {
	id, err := idArg(p.Args, "id")
	if err != nil {
		return nil, err
	}
	attrs, err := project(p, storage.User)
	if err != nil {
		return nil, err
	}
	return load(ctx, p, storage.User, id, attrs)
}

func (r *Runtime) currentUser(ctx context.Context, p pipeline.Params) (any, error) {
	attrs, err := project(p, storage.User)
	if err != nil {
		return nil, err
	}
	return load(ctx, p, storage.User, viewerID(p), attrs)
}

func (r *Runtime) userPosts(ctx context.Context, p pipeline.Params) (any, error) {
	return children(ctx, p, storage.Post, "author")
}

func (r *Runtime) createUser(ctx context.Context, p pipeline.Params) (any, error) {
	in := inputArg(p.Args)
	hash, err := auth.HashPassword(stringArg(in, "password"))
	if err != nil {
		return nil, err
	}
	values := only(in, "name", "email")
	values["password"] = hash
	return p.Request.Store.Create(ctx, p.Tx, storage.User, values)
}

func (r *Runtime) updateUser(ctx context.Context, p pipeline.Params) (any, error) {
	id := viewerID(p)
	if _, err := find(ctx, p, storage.User, id); err != nil {
		return nil, err
	}
	m, err := p.Request.Store.Update(ctx, p.Tx, storage.User, id, only(inputArg(p.Args), "name", "email", "photo"))
	if err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.User, ID: id})
	return m, nil
}

func (r *Runtime) updateUserPassword(ctx context.Context, p pipeline.Params) (any, error) {
	id := viewerID(p)
	if _, err := find(ctx, p, storage.User, id); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(stringArg(inputArg(p.Args), "password"))
	if err != nil {
		return nil, err
	}
	if _, err := p.Request.Store.Update(ctx, p.Tx, storage.User, id, storage.Values{"password": hash}); err != nil {
		return nil, err
	}
	return true, nil
}

func (r *Runtime) deleteUser(ctx context.Context, p pipeline.Params) (any, error) {
	id := viewerID(p)
	if _, err := find(ctx, p, storage.User, id); err != nil {
		return nil, err
	}
	if err := p.Request.Store.Destroy(ctx, p.Tx, storage.User, id); err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.User, ID: id})
	return true, nil
}
