package graph

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/eventbus"
	"github.com/eaverdeja/blograph/internal/events"
	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/language"
	"github.com/eaverdeja/blograph/internal/model"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/reqctx"
	"github.com/eaverdeja/blograph/internal/storage"
	"github.com/eaverdeja/blograph/internal/storage/memstore"
)

type harness struct {
	t      *testing.T
	store  *memstore.Store
	issuer *auth.Issuer
	rt     *Runtime
	exec   *executor.Executor
	src    *ast.Schema
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := memstore.New(model.Descriptors()...)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer("test-secret", 0)
	require.NoError(t, err)
	rt, err := New(Options{Store: store, Issuer: issuer})
	require.NoError(t, err)
	s, src, err := rt.Schema()
	require.NoError(t, err)
	return &harness{t: t, store: store, issuer: issuer, rt: rt, exec: executor.NewExecutor(rt, s), src: src}
}

func (h *harness) seedUser(name, email, password string) *model.User {
	h.t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(h.t, err)
	m, err := h.store.Create(context.Background(), nil, storage.User, storage.Values{"name": name, "email": email, "password": hash})
	require.NoError(h.t, err)
	return m.(*model.User)
}

func (h *harness) seedPost(author int64, title string) *model.Post {
	h.t.Helper()
	m, err := h.store.Create(context.Background(), nil, storage.Post, storage.Values{"title": title, "content": title + " body", "author": author})
	require.NoError(h.t, err)
	return m.(*model.Post)
}

func (h *harness) seedComment(post, user int64, text string) *model.Comment {
	h.t.Helper()
	m, err := h.store.Create(context.Background(), nil, storage.Comment, storage.Values{"comment": text, "post": post, "user": user})
	require.NoError(h.t, err)
	return m.(*model.Comment)
}

func (h *harness) token(userID int64) string {
	h.t.Helper()
	tok, err := h.issuer.Issue(userID)
	require.NoError(h.t, err)
	return "Bearer " + tok
}

// run validates and executes query with the given Authorization header.
func (h *harness) run(authorization, query string, vars map[string]any) *executor.ExecutionResult {
	h.t.Helper()
	doc, errs := language.LoadQuery(h.src, query)
	require.Empty(h.t, errs)
	ctx := reqctx.With(context.Background(), h.rt.NewRequest(authorization))
	return h.exec.ExecuteRequest(ctx, doc, "", vars, nil)
}

func messages(res *executor.ExecutionResult) []string {
	out := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		out[i] = e.Message
	}
	return out
}

func TestChains(t *testing.T) {
	h := newHarness(t)
	cases := map[string][]pipeline.Kind{
		"Mutation.updatePost":  {pipeline.KindLogged, pipeline.KindAuthenticate, pipeline.KindTransactional},
		"Mutation.createUser":  {pipeline.KindLogged, pipeline.KindTransactional},
		"Mutation.createToken": {pipeline.KindLogged},
		"Query.currentUser":    {pipeline.KindLogged, pipeline.KindAuthenticate},
		"Query.posts":          {pipeline.KindLogged},
		"Post.author":          nil,
	}
	for key, want := range cases {
		typ, field, _ := strings.Cut(key, ".")
		c, ok := h.rt.Chain(typ, field)
		require.True(t, ok, key)
		if diff := cmp.Diff(want, c.Kinds(), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s kinds (-want +got):\n%s", key, diff)
		}
		require.True(t, h.rt.IsAsync(typ, field))
	}
	require.False(t, h.rt.IsAsync("Post", "title"))
}

func TestPostsWithAuthors(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	bob := h.seedUser("Bob", "bob@example.com", "secret")
	p1 := h.seedPost(ana.ID, "first")
	h.seedPost(bob.ID, "second")
	h.seedComment(p1.ID, bob.ID, "nice")

	res := h.run("", `{
		posts(first: 5) {
			id
			title
			author { name }
			comments { comment user { email } }
		}
	}`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"posts": []any{
			map[string]any{
				"id":     "1",
				"title":  "first",
				"author": map[string]any{"name": "Ana"},
				"comments": []any{
					map[string]any{"comment": "nice", "user": map[string]any{"email": "bob@example.com"}},
				},
			},
			map[string]any{
				"id":       "2",
				"title":    "second",
				"author":   map[string]any{"name": "Bob"},
				"comments": []any{},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestPostsReturnOnlySelectedFields(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser("Ana", "ana@example.com", "secret")
	for _, title := range []string{"First Post", "Second Post", "Third Post"} {
		h.seedPost(u.ID, title)
	}

	res := h.run("", `query { posts { title content photo } }`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"posts": []any{
			map[string]any{"title": "First Post", "content": "First Post body", "photo": nil},
			map[string]any{"title": "Second Post", "content": "Second Post body", "photo": nil},
			map[string]any{"title": "Third Post", "content": "Third Post body", "photo": nil},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestPaging(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser("Ana", "ana@example.com", "secret")
	for _, title := range []string{"a", "b", "c"} {
		h.seedPost(u.ID, title)
	}

	res := h.run("", `{ posts(first: 1, offset: 1) { title } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"posts": []any{map[string]any{"title": "b"}}}, res.Data)

	res = h.run("", `{ posts(first: 0) { title } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"posts": []any{}}, res.Data)

	res = h.run("", `{ posts(first: -1) { title } }`, nil)
	require.Equal(t, []string{"first must not be negative, got -1"}, messages(res))
}

func TestUserNotFound(t *testing.T) {
	h := newHarness(t)
	res := h.run("", `{ user(id: -1) { id name } }`, nil)
	require.Equal(t, map[string]any{"user": nil}, res.Data)
	require.Equal(t, []string{"User with id -1 not found"}, messages(res))
	require.Equal(t, map[string]any{"code": "NOT_FOUND"}, res.Errors[0].Extensions)
	require.Equal(t, executor.Path{"user"}, res.Errors[0].Path)
}

func TestCreateToken(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser("Ana", "ana@example.com", "secret")

	res := h.run("", `mutation { createToken(email: "ana@example.com", password: "wrong") { token } }`, nil)
	require.Equal(t, map[string]any{"createToken": nil}, res.Data)
	require.Equal(t, []string{apperr.MsgWrongCredentials}, messages(res))

	res = h.run("", `mutation { createToken(email: "nobody@example.com", password: "secret") { token } }`, nil)
	require.Equal(t, []string{apperr.MsgWrongCredentials}, messages(res))

	h.seedUser("X", "x@y.com", "right")
	res = h.run("", `mutation { createToken(email: "x@y.com", password: "wrong") { token } }`, nil)
	require.Equal(t, map[string]any{"createToken": nil}, res.Data)
	require.Equal(t, []string{"Unathorized, wrong email or password!"}, messages(res))

	res = h.run("", `mutation { createToken(email: "ana@example.com", password: "secret") { token } }`, nil)
	require.Empty(t, res.Errors)
	tok := res.Data.(map[string]any)["createToken"].(map[string]any)["token"].(string)
	v, err := h.issuer.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, u.ID, v.ID)

	res = h.run("Bearer "+tok, `{ currentUser { name } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"currentUser": map[string]any{"name": "Ana"}}, res.Data)
}

func TestAuthenticationMessages(t *testing.T) {
	h := newHarness(t)
	h.seedUser("Ana", "ana@example.com", "secret")

	res := h.run("", `{ currentUser { id } }`, nil)
	require.Equal(t, []string{apperr.MsgTokenNotProvided}, messages(res))
	require.Equal(t, map[string]any{"code": "UNAUTHENTICATED"}, res.Errors[0].Extensions)

	res = h.run("Bearer nope", `{ currentUser { id } }`, nil)
	require.Equal(t, []string{apperr.MsgInvalidToken}, messages(res))

	res = h.run("Basic abc", `mutation { deletePost(id: 1) }`, nil)
	require.Equal(t, map[string]any{"deletePost": nil}, res.Data)
	require.Equal(t, []string{apperr.MsgInvalidToken}, messages(res))
}

func TestCreateUser(t *testing.T) {
	h := newHarness(t)
	res := h.run("", `mutation($in: UserCreateInput!) { createUser(input: $in) { id name email photo } }`, map[string]any{
		"in": map[string]any{"name": "Ana", "email": "ana@example.com", "password": "secret"},
	})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"createUser": map[string]any{
		"id": "1", "name": "Ana", "email": "ana@example.com", "photo": nil,
	}}, res.Data)

	m, err := h.store.FindByID(context.Background(), storage.User, 1, storage.Query{})
	require.NoError(t, err)
	require.True(t, auth.CheckPassword(m.(*model.User).Password, "secret"))

	res = h.run("", `mutation { createUser(input: {name: "Other", email: "ana@example.com", password: "x"}) { id } }`, nil)
	require.Equal(t, map[string]any{"createUser": nil}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, map[string]any{"code": "BAD_USER_INPUT"}, res.Errors[0].Extensions)
}

func TestUpdatePostRequiresAuthor(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	bob := h.seedUser("Bob", "bob@example.com", "secret")
	post := h.seedPost(ana.ID, "mine")

	const q = `mutation { updatePost(id: 1, input: {title: "hijacked", content: "x"}) { title } }`
	res := h.run(h.token(bob.ID), q, nil)
	require.Equal(t, map[string]any{"updatePost": nil}, res.Data)
	require.Equal(t, []string{apperr.MsgNotPostAuthor}, messages(res))
	require.Equal(t, map[string]any{"code": "FORBIDDEN"}, res.Errors[0].Extensions)

	m, err := h.store.FindByID(context.Background(), storage.Post, post.ID, storage.Query{})
	require.NoError(t, err)
	require.Equal(t, "mine", m.(*model.Post).Title)

	res = h.run(h.token(ana.ID), q, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"updatePost": map[string]any{"title": "hijacked"}}, res.Data)

	res = h.run(h.token(ana.ID), `mutation { updatePost(id: 42, input: {title: "t", content: "c"}) { id } }`, nil)
	require.Equal(t, []string{"Post with id 42 not found"}, messages(res))
}

func TestUpdateUserRollsBack(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	h.seedUser("Bob", "bob@example.com", "secret")

	res := h.run(h.token(ana.ID), `mutation { updateUser(input: {name: "Renamed", email: "bob@example.com"}) { name } }`, nil)
	require.Equal(t, map[string]any{"updateUser": nil}, res.Data)
	require.Len(t, res.Errors, 1)

	m, err := h.store.FindByID(context.Background(), storage.User, ana.ID, storage.Query{})
	require.NoError(t, err)
	require.Equal(t, "Ana", m.(*model.User).Name)
	require.Equal(t, "ana@example.com", m.(*model.User).Email)

	res = h.run(h.token(ana.ID), `mutation { updateUser(input: {name: "Renamed", email: "ana@example.com", photo: "me.png"}) { name photo } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"updateUser": map[string]any{"name": "Renamed", "photo": "me.png"}}, res.Data)
}

func TestMutationsRunInOrder(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")

	res := h.run(h.token(ana.ID), `mutation {
		a: createPost(input: {title: "one", content: "x"}) { id }
		b: createPost(input: {title: "two", content: "y"}) { id author { name } }
		c: deletePost(id: 1)
	}`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"a": map[string]any{"id": "1"},
		"b": map[string]any{"id": "2", "author": map[string]any{"name": "Ana"}},
		"c": true,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	rows, err := h.store.Find(context.Background(), storage.Post, storage.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestComments(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	bob := h.seedUser("Bob", "bob@example.com", "secret")
	post := h.seedPost(ana.ID, "post")

	res := h.run(h.token(bob.ID), `mutation($in: CommentInput!) { createComment(input: $in) { comment post { title } user { name } } }`, map[string]any{
		"in": map[string]any{"comment": "hello", "post": float64(post.ID)},
	})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"createComment": map[string]any{
		"comment": "hello",
		"post":    map[string]any{"title": "post"},
		"user":    map[string]any{"name": "Bob"},
	}}, res.Data)

	res = h.run(h.token(ana.ID), `mutation { updateComment(id: 1, input: {comment: "edited", post: 1}) { comment } }`, nil)
	require.Equal(t, []string{apperr.MsgNotCommentAuthor}, messages(res))

	res = h.run(h.token(bob.ID), `mutation { createComment(input: {comment: "lost", post: 9}) { id } }`, nil)
	require.Equal(t, []string{"Post with id 9 not found"}, messages(res))

	res = h.run("", `{ commentsByPost(postId: 1) { comment } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"commentsByPost": []any{map[string]any{"comment": "hello"}}}, res.Data)

	res = h.run(h.token(bob.ID), `mutation { deleteComment(id: 1) }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"deleteComment": true}, res.Data)
}

func TestDeleteUserCascades(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	post := h.seedPost(ana.ID, "post")
	h.seedComment(post.ID, ana.ID, "self")

	res := h.run(h.token(ana.ID), `mutation { deleteUser }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"deleteUser": true}, res.Data)

	for _, e := range []storage.Entity{storage.User, storage.Post, storage.Comment} {
		rows, err := h.store.Find(context.Background(), e, storage.Query{})
		require.NoError(t, err)
		require.Empty(t, rows, e)
	}

	res = h.run(h.token(ana.ID), `mutation { deleteUser }`, nil)
	require.Equal(t, []string{"User with id 1 not found"}, messages(res))
}

func TestAuthorsLoadInOneFetch(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	bob := h.seedUser("Bob", "bob@example.com", "secret")
	for i := 0; i < 3; i++ {
		h.seedPost(ana.ID, "a")
		h.seedPost(bob.ID, "b")
	}

	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var (
		mu      sync.Mutex
		flushes []events.BatchFlush
	)
	eventbus.SubscribeTo(bus, func(_ context.Context, e events.BatchFlush) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, e)
	})

	res := h.run("", `{ posts { author { name } } }`, nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Data.(map[string]any)["posts"], 6)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	require.Equal(t, string(storage.User), flushes[0].Entity)
	require.Equal(t, 2, flushes[0].Keys)
	require.Equal(t, []string{"id", "name"}, flushes[0].Attributes)
}

func TestCommentsLoadInOneFetch(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	var posts []*model.Post
	for _, title := range []string{"a", "b", "c"} {
		posts = append(posts, h.seedPost(ana.ID, title))
	}
	h.seedComment(posts[0].ID, ana.ID, "one")
	h.seedComment(posts[2].ID, ana.ID, "two")
	h.seedComment(posts[0].ID, ana.ID, "three")

	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var (
		mu      sync.Mutex
		flushes []events.BatchFlush
	)
	eventbus.SubscribeTo(bus, func(_ context.Context, e events.BatchFlush) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, e)
	})

	res := h.run("", `{ posts { title comments(first: 1, offset: 1) { comment } all: comments { comment } } }`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"posts": []any{
			map[string]any{
				"title":    "a",
				"comments": []any{map[string]any{"comment": "three"}},
				"all":      []any{map[string]any{"comment": "one"}, map[string]any{"comment": "three"}},
			},
			map[string]any{"title": "b", "comments": []any{}, "all": []any{}},
			map[string]any{"title": "c", "comments": []any{}, "all": []any{map[string]any{"comment": "two"}}},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	require.Equal(t, string(storage.Comment), flushes[0].Entity)
	require.Equal(t, 3, flushes[0].Keys)
}

func TestAuthorsShareOneRecord(t *testing.T) {
	h := newHarness(t)
	ana := h.seedUser("Ana", "ana@example.com", "secret")
	h.seedPost(ana.ID, "a")
	h.seedPost(ana.ID, "b")

	rc := h.rt.NewRequest("")
	ctx := reqctx.With(context.Background(), rc)
	posts, err := h.store.Find(ctx, storage.Post, storage.Query{})
	require.NoError(t, err)

	got := make([]storage.Model, len(posts))
	tasks := make([]executor.AsyncResolveTask, len(posts))
	for i, p := range posts {
		tasks[i] = executor.AsyncResolveTask{ObjectType: "Post", Field: "author", Source: p, Path: executor.Path{"posts", i, "author"}}
	}
	for i, r := range h.rt.BatchResolveAsync(ctx, tasks) {
		require.NoError(t, r.Error)
		got[i] = r.Value.(storage.Model)
	}
	require.Same(t, got[0], got[1])
}

func TestSerializeLeafValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	photo := "me.png"

	cases := []struct {
		typ  string
		in   any
		want any
	}{
		{"ID", int64(7), "7"},
		{"ID", "x", "x"},
		{"String", &photo, "me.png"},
		{"String", (*string)(nil), nil},
		{"Boolean", true, true},
		{"String", nil, nil},
	}
	for _, c := range cases {
		got, err := h.rt.SerializeLeafValue(ctx, c.typ, c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestBatchWithoutRequestContext(t *testing.T) {
	h := newHarness(t)
	res := h.rt.BatchResolveAsync(context.Background(), []executor.AsyncResolveTask{{ObjectType: "Query", Field: "posts"}})
	require.Len(t, res, 1)
	require.True(t, apperr.Is(res[0].Error, apperr.KindInternal))
}
