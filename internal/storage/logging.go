package storage

import (
	"context"

	"github.com/rs/zerolog"
)

type queryLoggerKey struct{}

// WithQueryLogger returns a copy of ctx whose storage statements are logged
// at info level through l. The logger applies to that context only.
func WithQueryLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, queryLoggerKey{}, &l)
}

// WithoutQueryLogger returns a copy of ctx with no query logger, so
// statements fall back to the context logger.
func WithoutQueryLogger(ctx context.Context) context.Context {
	if _, ok := QueryLogger(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, queryLoggerKey{}, (*zerolog.Logger)(nil))
}

// QueryLogger returns the logger installed by WithQueryLogger, if any.
func QueryLogger(ctx context.Context) (*zerolog.Logger, bool) {
	l, ok := ctx.Value(queryLoggerKey{}).(*zerolog.Logger)
	return l, ok && l != nil
}

// LogStatement records a storage statement for the call carried by ctx.
// Without a query logger the statement goes to the context logger at debug.
func LogStatement(ctx context.Context, entity Entity, op, statement string, args []any) {
	var ev *zerolog.Event
	if l, ok := QueryLogger(ctx); ok {
		ev = l.Info()
	} else {
		ev = zerolog.Ctx(ctx).Debug()
	}
	ev.Str("entity", string(entity)).
		Str("op", op).
		Interface("args", args).
		Msg(statement)
}
