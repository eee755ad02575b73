package logging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
)

// Subscribe writes access and execution events to the context logger.
// It returns a function that removes the subscriptions.
func Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			zerolog.Ctx(ctx).Info().
				Str("method", e.Method).
				Str("path", e.Path).
				Int("status", e.Status).
				Int("operations", e.Operations).
				Dur("duration", e.Duration).
				Msg("http request")
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			ev := zerolog.Ctx(ctx).Debug()
			if len(e.Errors) > 0 {
				ev = zerolog.Ctx(ctx).Info().Errs("errors", e.Errors)
			}
			ev.Str("operation", e.OperationName).
				Str("type", e.OperationType).
				Dur("duration", e.Duration).
				Msg("graphql operation")
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.BatchFlush) {
			ev := zerolog.Ctx(ctx).Debug()
			if e.Err != nil {
				ev = zerolog.Ctx(ctx).Warn().Err(e.Err)
			}
			ev.Str("entity", e.Entity).
				Int("keys", e.Keys).
				Strs("attributes", e.Attributes).
				Dur("duration", e.Duration).
				Msg("batch flushed")
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
