package graph

import (
	"context"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/loader"
	"github.com/eaverdeja/blograph/internal/model"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/storage"
)

func (r *Runtime) commentsByPost(ctx context.Context, p pipeline.Params) (any, error) {
	postID, err := idArg(p.Args, "postId")
	if err != nil {
		return nil, err
	}
	return list(ctx, p, storage.Comment, storage.Where{"post": postID})
}

func (r *Runtime) commentPost(ctx context.Context, p pipeline.Params) (any, error) {
	return r.reference(ctx, p, "post", storage.Post)
}

func (r *Runtime) commentUser(ctx context.Context, p pipeline.Params) (any, error) {
	return r.reference(ctx, p, "user", storage.User)
}

// commentValues validates the input's post and returns the writable values.
func commentValues(ctx context.Context, p pipeline.Params) (storage.Values, error) {
	in := inputArg(p.Args)
	postID, err := idArg(in, "post")
	if err != nil {
		return nil, err
	}
	if _, err := find(ctx, p, storage.Post, postID); err != nil {
		return nil, err
	}
	return storage.Values{"comment": in["comment"], "post": postID}, nil
}

func (r *Runtime) createComment(ctx context.Context, p pipeline.Params) (any, error) {
	values, err := commentValues(ctx, p)
	if err != nil {
		return nil, err
	}
	values["user"] = viewerID(p)
	m, err := p.Request.Store.Create(ctx, p.Tx, storage.Comment, values)
	if err != nil {
		return nil, err
	}
	p.Request.Loaders.ClearChildren()
	return m, nil
}

// ownComment returns the comment with the id argument if the viewer wrote it.
func ownComment(ctx context.Context, p pipeline.Params) (*model.Comment, error) {
	id, err := idArg(p.Args, "id")
	if err != nil {
		return nil, err
	}
	m, err := find(ctx, p, storage.Comment, id)
	if err != nil {
		return nil, err
	}
	c := m.(*model.Comment)
	if c.User != viewerID(p) {
		return nil, apperr.Forbidden(apperr.MsgNotCommentAuthor)
	}
	return c, nil
}

func (r *Runtime) updateComment(ctx context.Context, p pipeline.Params) (any, error) {
	c, err := ownComment(ctx, p)
	if err != nil {
		return nil, err
	}
	values, err := commentValues(ctx, p)
	if err != nil {
		return nil, err
	}
	m, err := p.Request.Store.Update(ctx, p.Tx, storage.Comment, c.ID, values)
	if err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.Comment, ID: c.ID})
	return m, nil
}

func (r *Runtime) deleteComment(ctx context.Context, p pipeline.Params) (any, error) {
	c, err := ownComment(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := p.Request.Store.Destroy(ctx, p.Tx, storage.Comment, c.ID); err != nil {
		return nil, err
	}
	p.Request.Loaders.Clear(loader.Key{Entity: storage.Comment, ID: c.ID})
	return true, nil
}
