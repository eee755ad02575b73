package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
	"github.com/eaverdeja/blograph/internal/storage"
)

var errNoRequest = errors.New("pipeline: resolver called without a request context")

// Authenticate rejects calls without a verified viewer.
func Authenticate() Behavior {
	return Behavior{Kind: KindAuthenticate, wrap: func(next Resolver) Resolver {
		return func(ctx context.Context, p Params) (any, error) {
			rc := p.Request
			if rc == nil || rc.Viewer == nil {
				if rc != nil && rc.CredentialErr != nil {
					return nil, apperr.Unauthorized(apperr.MsgInvalidToken)
				}
				return nil, apperr.Unauthorized(apperr.MsgTokenNotProvided)
			}
			return next(ctx, p)
		}
	}}
}

// Transactional runs the call inside a storage transaction passed in
// Params.Tx. The transaction commits when the call succeeds and rolls back
// when it fails or panics. A call already inside a transaction reuses it.
func Transactional() Behavior {
	return Behavior{Kind: KindTransactional, wrap: func(next Resolver) Resolver {
		return func(ctx context.Context, p Params) (any, error) {
			if p.Tx != nil {
				return next(ctx, p)
			}
			if p.Request == nil {
				return nil, apperr.Internal(errNoRequest)
			}
			var out any
			err := p.Request.Store.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
				p.Tx = tx
				v, err := next(ctx, p)
				out = v
				return err
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	}}
}

// Logged gives the call its own logger, tagged with the field and path, and
// installs it as the storage query logger so that only this call's
// statements are logged at info. The outcome is logged when the call ends.
func Logged() Behavior {
	return Behavior{Kind: KindLogged, wrap: func(next Resolver) Resolver {
		return func(ctx context.Context, p Params) (any, error) {
			field := p.Info.ObjectType + "." + p.Info.FieldName
			l := zerolog.Ctx(ctx).With().
				Str("resolver", field).
				Str("path", p.Info.PathString()).
				Logger()
			ctx = storage.WithQueryLogger(l.WithContext(ctx), l)

			start := time.Now()
			v, err := next(ctx, p)
			took := time.Since(start)

			ev := l.Info()
			if err != nil {
				ev = l.Warn().Err(err)
			}
			ev.Dur("duration", took).Msg("resolved")
			eventbus.Publish(ctx, events.ResolverFinish{
				ObjectType: p.Info.ObjectType,
				Field:      p.Info.FieldName,
				Err:        err,
				Duration:   took,
			})
			return v, err
		}
	}}
}
