package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
)

func TestCollectorsFollowEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	reg := prometheus.NewRegistry()
	c := New(reg)
	unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query", Duration: time.Millisecond})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "mutation", Errors: []error{errors.New("x")}})
	eventbus.Publish(ctx, events.BatchFlush{Entity: "User", Keys: 3})
	eventbus.Publish(ctx, events.BatchFlush{Entity: "User", Keys: 1, Err: errors.New("down")})
	eventbus.Publish(ctx, events.ResolverFinish{ObjectType: "Query", Field: "posts"})
	eventbus.Publish(ctx, events.HTTPFinish{Method: "POST", Path: "/", Status: 200})

	require.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("query", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("mutation", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Flushes.WithLabelValues("User", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Flushes.WithLabelValues("User", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Resolvers.WithLabelValues("Query.posts", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Requests.WithLabelValues("200")))
	require.Equal(t, 1, testutil.CollectAndCount(c.BatchKeys))

	unsubscribe()
	eventbus.Publish(ctx, events.HTTPFinish{Method: "POST", Path: "/", Status: 200})
	require.Equal(t, 1.0, testutil.ToFloat64(c.Requests.WithLabelValues("200")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.Requests.WithLabelValues("200").Inc()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `blograph_http_requests_total{code="200"} 1`), string(body))
}
