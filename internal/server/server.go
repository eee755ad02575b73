// Package server exposes a GraphQL executor over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/language"
	"github.com/eaverdeja/blograph/internal/logging"
	"github.com/eaverdeja/blograph/internal/reqid"
	"github.com/eaverdeja/blograph/internal/schema"
)

// RequestIDHeader carries the request id on every response.
const RequestIDHeader = "X-Request-Id"

// ContextFunc derives the context one operation executes in.
type ContextFunc func(ctx context.Context, r *http.Request) context.Context

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the executor, and formats GraphQL responses.
type Handler struct {
	exec *executor.Executor
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Validate, when set, validates every document against the schema
	// before execution. Without it documents are only parsed.
	Validate *ast.Schema

	// Context is called once per operation, batched or not.
	Context ContextFunc
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                  { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option     { return func(o *Options) { o.MaxBodyBytes = n } }
func WithGraphiQL(enable bool) Option     { return func(o *Options) { o.GraphiQL = enable } }
func WithValidation(s *ast.Schema) Option { return func(o *Options) { o.Validate = s } }
func WithContext(fn ContextFunc) Option   { return func(o *Options) { o.Context = fn } }

// New creates a new GraphQL HTTP handler using the given runtime and schema.
func New(runtime executor.Runtime, schema *schema.Schema, opts ...Option) (*Handler, error) {
	exec := executor.NewExecutor(runtime, schema)
	op := Options{Timeout: 10 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	id := reqid.String(rid)
	logger := logging.With().Str("request_id", id).Logger()
	ctx = logger.WithContext(ctx)
	w.Header().Set(RequestIDHeader, id)

	status := http.StatusOK
	operations := 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Method: r.Method, Path: r.URL.Path, RequestID: id})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{
			Method:     r.Method,
			Path:       r.URL.Path,
			RequestID:  id,
			Status:     status,
			Operations: operations,
			Duration:   time.Since(start),
		})
	}()

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, status, errorResponse(gqlerror.Errorf("method not allowed")), h.opt.Pretty)
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		switch berr.Message {
		case errBodyTooLargeMessage:
			status = http.StatusRequestEntityTooLarge
		case errUnsupportedMediaType:
			status = http.StatusUnsupportedMediaType
		}
		writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	if batch != nil {
		operations = len(batch)
		op := make([]any, len(batch))
		for i := range batch {
			op[i] = h.executeOne(ctx, r, batch[i])
		}
		writeJSON(w, status, op, h.opt.Pretty)
		return
	}

	operations = 1
	writeJSON(w, status, h.executeOne(ctx, r, req), h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, r *http.Request, req GraphQLRequest) any {
	doc, errs := h.load(req.Query)
	if len(errs) > 0 {
		zerolog.Ctx(ctx).Debug().Err(errs).Msg("rejected document")
		return errorResponse(errs...)
	}

	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	opType := ""
	if opDef != nil {
		opType = string(opDef.Operation)
	}

	if h.opt.Context != nil {
		ctx = h.opt.Context(ctx, r)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	resErrs := make([]error, len(result.Errors))
	for i := range result.Errors {
		resErrs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        resErrs,
		Duration:      time.Since(start),
	})
	return result
}

func (h *Handler) load(query string) (*language.QueryDocument, gqlerror.List) {
	if h.opt.Validate != nil {
		return language.LoadQuery(h.opt.Validate, query)
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		var ge *gqlerror.Error
		if !errors.As(err, &ge) {
			ge = gqlerror.Wrap(err)
		}
		return nil, gqlerror.List{ge}
	}
	return doc, nil
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

const (
	errBodyTooLargeMessage  = "body too large"
	errUnsupportedMediaType = "unsupported Content-Type"
)

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *gqlerror.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, gqlerror.Errorf("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, gqlerror.Errorf("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return GraphQLRequest{}, nil, gqlerror.Errorf(errUnsupportedMediaType)
		}
		mediaType = mt
	}
	if mediaType != "application/json" && mediaType != "application/graphql" {
		return GraphQLRequest{}, nil, gqlerror.Errorf(errUnsupportedMediaType)
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, gqlerror.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, gqlerror.Errorf(errBodyTooLargeMessage)
	}

	if mediaType == "application/graphql" {
		if strings.TrimSpace(string(body)) == "" {
			return GraphQLRequest{}, nil, gqlerror.Errorf("missing 'query'")
		}
		return GraphQLRequest{
			Query:         string(body),
			OperationName: r.URL.Query().Get("operationName"),
			Variables:     map[string]any{},
		}, nil, nil
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, gqlerror.Errorf("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, gqlerror.Errorf("empty batch")
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, gqlerror.Errorf("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, gqlerror.Errorf("missing 'query'")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

// errorResponse renders request-level errors. Data is absent because
// execution never started.
func errorResponse(errs ...*gqlerror.Error) *executor.ExecutionResult {
	out := &executor.ExecutionResult{Errors: make([]executor.GraphQLError, len(errs))}
	for i, e := range errs {
		ge := executor.GraphQLError{Message: e.Message, Extensions: e.Extensions}
		for _, l := range e.Locations {
			ge.Locations = append(ge.Locations, executor.Location{Line: l.Line, Column: l.Column})
		}
		out.Errors[i] = ge
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func acceptsHTML(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
