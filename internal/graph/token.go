package graph

import (
	"context"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/model"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/storage"
)

// createToken exchanges credentials for a signed token. Unknown emails and
// wrong passwords are reported the same way.
func (r *Runtime) createToken(ctx context.Context, p pipeline.Params) (any, error) {
	rows, err := p.Request.Store.Find(ctx, storage.User, storage.Query{
		Where:      storage.Where{"email": stringArg(p.Args, "email")},
		Limit:      1,
		Attributes: []string{model.AttrID, "password"},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Unauthorized(apperr.MsgWrongCredentials)
	}
	u := rows[0].(*model.User)
	if !auth.CheckPassword(u.Password, stringArg(p.Args, "password")) {
		return nil, apperr.Unauthorized(apperr.MsgWrongCredentials)
	}
	token, err := r.issuer.Issue(u.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return map[string]any{"token": token}, nil
}
