package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/eaverdeja/blograph/internal/language"
)

const objSDL = `
type Query { a: String obj: Obj objs: [Obj] other: String }
type Obj { a: String b: String idx: Int }
`

func TestErrors_LocatedPaths_Result(t *testing.T) {
	t.Run("Simple", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": NewMockErrorResolver(fmt.Errorf("boom")),
		})
		got := execute(t, mustSchema(t, objSDL), rt, "{ a }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"a": nil},
			Errors: []GraphQLError{{Message: "boom", Path: Path{"a"}}},
		}, got)
	})

	t.Run("Nested", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
			"Obj.a":     NewMockErrorResolver(fmt.Errorf("boom")),
		})
		got := execute(t, mustSchema(t, objSDL), rt, "{ obj { a } }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"obj": map[string]any{"a": nil}},
			Errors: []GraphQLError{{Message: "boom", Path: Path{"obj", "a"}}},
		}, got)
	})

	t.Run("List index in path", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.objs": NewMockValueResolver([]any{map[string]any{"idx": 0}, map[string]any{"idx": 1}}),
			"Obj.a": func(ctx context.Context, src any, args map[string]any) (any, error) {
				if src.(map[string]any)["idx"].(int) == 1 {
					return nil, fmt.Errorf("boom")
				}
				return "A", nil
			},
		})
		got := execute(t, mustSchema(t, objSDL), rt, "{ objs { a } }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"objs": []any{map[string]any{"a": "A"}, map[string]any{"a": nil}}},
			Errors: []GraphQLError{{Message: "boom", Path: Path{"objs", 1, "a"}}},
		}, got)
	})
}

func TestErrorLocations(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockErrorResolver(fmt.Errorf("boom")),
	})
	got := execute(t, mustSchema(t, objSDL), rt, "{\n  a\n}", nil)
	require.Len(t, got.Errors, 1)
	require.Len(t, got.Errors[0].Locations, 1)
	require.Equal(t, 2, got.Errors[0].Locations[0].Line)
	require.Positive(t, got.Errors[0].Locations[0].Column)
}

type codedError struct{ msg, code string }

func (e codedError) Error() string              { return e.msg }
func (e codedError) Extensions() map[string]any { return map[string]any{"code": e.code} }

func TestErrorExtensions(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockErrorResolver(fmt.Errorf("wrapped: %w", codedError{msg: "gone", code: "NOT_FOUND"})),
	})
	got := execute(t, mustSchema(t, objSDL, "Query.a"), rt, "{ a }", nil)
	assertResult(t, &ExecutionResult{
		Data: map[string]any{"a": nil},
		Errors: []GraphQLError{{
			Message:    "wrapped: gone",
			Path:       Path{"a"},
			Extensions: map[string]any{"code": "NOT_FOUND"},
		}},
	}, got)
}

func TestNonNullPropagation(t *testing.T) {
	t.Run("sync child nulls nullable parent", func(t *testing.T) {
		s := mustSchema(t, `
type Query { obj: Obj other: String }
type Obj { a: String! b: String }
`)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj":   NewMockValueResolver(map[string]any{"b": "B"}),
			"Query.other": NewMockValueResolver("x"),
			"Obj.a":       NewMockErrorResolver(errors.New("boom")),
		})
		got := execute(t, s, rt, "{ obj { a b } other }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"obj": nil, "other": "x"},
			Errors: []GraphQLError{{Message: "boom", Path: Path{"obj", "a"}}},
		}, got)
	})

	t.Run("null without error is reported", func(t *testing.T) {
		s := mustSchema(t, `
type Query { obj: Obj }
type Obj { a: String! }
`)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
		})
		got := execute(t, s, rt, "{ obj { a } }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"obj": nil},
			Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field obj.a", Path: Path{"obj", "a"}}},
		}, got)
	})

	t.Run("root non-null nulls data", func(t *testing.T) {
		s := mustSchema(t, `type Query { must: String! other: String }`, "Query.must")
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.must":  NewMockErrorResolver(errors.New("boom")),
			"Query.other": NewMockValueResolver("x"),
		})
		got := execute(t, s, rt, "{ other must }", nil)
		assertResult(t, &ExecutionResult{
			Errors: []GraphQLError{{Message: "boom", Path: Path{"must"}}},
		}, got)
		require.Nil(t, got.Data)
	})

	t.Run("async child nulls nearest nullable list item", func(t *testing.T) {
		s := mustSchema(t, `
type Query { items: [Item] }
type Item { name: String detail: Detail! }
type Detail { text: String more: More }
type More { x: String }
`, "Query.items", "Item.detail", "Detail.more")
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.items": NewMockValueResolver([]any{
				map[string]any{"name": "a", "id": 0},
				map[string]any{"name": "b", "id": 1},
			}),
			"Item.detail": func(_ context.Context, src any, _ map[string]any) (any, error) {
				if src.(map[string]any)["id"].(int) == 1 {
					return nil, errors.New("no detail")
				}
				return map[string]any{"text": "t0"}, nil
			},
			"Detail.more": NewMockValueResolver(map[string]any{"x": "deep"}),
		})
		got := execute(t, s, rt, "{ items { name detail { text more { x } } } }", nil)
		assertResult(t, &ExecutionResult{
			Data: map[string]any{"items": []any{
				map[string]any{"name": "a", "detail": map[string]any{"text": "t0", "more": map[string]any{"x": "deep"}}},
				nil,
			}},
			Errors: []GraphQLError{{Message: "no detail", Path: Path{"items", 1, "detail"}}},
		}, got)

		var async []string
		for _, c := range rt.GetCalls() {
			if c.Kind == CallKindAsync {
				async = append(async, fmt.Sprintf("%d %s.%s %s", c.BatchID, c.ObjectType, c.Field, pathToString(c.Path)))
			}
		}
		want := []string{
			"1 Query.items items",
			"2 Item.detail items[0].detail",
			"2 Item.detail items[1].detail",
			"3 Detail.more items[0].detail.more",
		}
		if diff := cmp.Diff(want, async); diff != "" {
			t.Errorf("async calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("non-null list item nulls the list", func(t *testing.T) {
		s := mustSchema(t, `type Query { names: [String!] }`)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.names": NewMockValueResolver([]any{"a", nil}),
		})
		got := execute(t, s, rt, "{ names }", nil)
		assertResult(t, &ExecutionResult{
			Data:   map[string]any{"names": nil},
			Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field names[1]", Path: Path{"names", 1}}},
		}, got)
	})
}

func TestBatchPerDepth(t *testing.T) {
	s := mustSchema(t, `
type Query { posts: [Post!]! }
type Post { title: String author: User }
type User { name: String }
`, "Query.posts", "Post.author")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.posts": NewMockValueResolver([]any{
			map[string]any{"title": "one", "author": "ana"},
			map[string]any{"title": "two", "author": "bo"},
			map[string]any{"title": "three", "author": "ana"},
		}),
		"Post.author": func(_ context.Context, src any, _ map[string]any) (any, error) {
			return map[string]any{"name": src.(map[string]any)["author"]}, nil
		},
	})
	got := execute(t, s, rt, "{ posts { title author { name } } }", nil)
	assertResult(t, &ExecutionResult{
		Data: map[string]any{"posts": []any{
			map[string]any{"title": "one", "author": map[string]any{"name": "ana"}},
			map[string]any{"title": "two", "author": map[string]any{"name": "bo"}},
			map[string]any{"title": "three", "author": map[string]any{"name": "ana"}},
		}},
	}, got)

	batches := map[int]int{}
	for _, c := range rt.GetCalls() {
		if c.Kind == CallKindAsync {
			batches[c.BatchID]++
		} else {
			require.NotEqual(t, "author", c.Field, "async field resolved synchronously")
		}
	}
	require.Equal(t, map[int]int{1: 1, 2: 3}, batches)
}

func TestMergedFieldsResolveOnce(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.obj": NewMockValueResolver(map[string]any{"a": "A", "b": "B"}),
	})
	got := execute(t, mustSchema(t, objSDL, "Query.obj"), rt, "{ obj { a } obj { b } renamed: other }", nil)
	assertResult(t, &ExecutionResult{
		Data: map[string]any{"obj": map[string]any{"a": "A", "b": "B"}, "renamed": nil},
	}, got)
	var objCalls int
	for _, c := range rt.GetCalls() {
		if c.Field == "obj" {
			objCalls++
		}
	}
	require.Equal(t, 1, objCalls)
}

const argsSDL = `
type Query {
  list(first: Int = 10, offset: Int = 0): [Int]
  find(id: ID!): String
  make(input: NewThing!): String
}
input NewThing { title: String! tags: [String] draft: Boolean = true }
`

func captureArgs(into map[string]map[string]any, field string) MockResolver {
	return func(_ context.Context, _ any, args map[string]any) (any, error) {
		into[field] = args
		return nil, nil
	}
}

func TestArgumentCoercion(t *testing.T) {
	seen := map[string]map[string]any{}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.list": captureArgs(seen, "list"),
		"Query.find": captureArgs(seen, "find"),
		"Query.make": captureArgs(seen, "make"),
	})
	s := mustSchema(t, argsSDL)

	got := execute(t, s, rt, `query($id: ID!) { list(offset: 5) find(id: $id) make(input: {title: "x", tags: "one"}) }`, map[string]any{"id": float64(7)})
	require.Empty(t, got.Errors)
	want := map[string]map[string]any{
		"list": {"first": 10, "offset": 5},
		"find": {"id": "7"},
		"make": {"input": map[string]any{"title": "x", "tags": []any{"one"}, "draft": true}},
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestArgumentErrors(t *testing.T) {
	s := mustSchema(t, argsSDL)
	rt := NewMockRuntime(nil)

	t.Run("missing variable", func(t *testing.T) {
		got := execute(t, s, rt, `query($id: ID!) { find(id: $id) }`, nil)
		assertResult(t, &ExecutionResult{
			Errors: []GraphQLError{{Message: "variable $id of required type ID! was not provided"}},
		}, got)
	})

	t.Run("invalid input object", func(t *testing.T) {
		got := execute(t, s, rt, `{ make(input: {tags: ["a"]}) }`, nil)
		assertResult(t, &ExecutionResult{
			Data: map[string]any{"make": nil},
			Errors: []GraphQLError{{
				Message: "argument 'input' cannot be coerced: field 'title' of required type String! was not provided",
				Path:    Path{"make"},
			}},
		}, got)
	})

	t.Run("unknown input field", func(t *testing.T) {
		got := execute(t, s, rt, `query($in: NewThing!) { make(input: $in) }`, map[string]any{"in": map[string]any{"title": "x", "color": "red"}})
		require.Len(t, got.Errors, 1)
		require.Contains(t, got.Errors[0].Message, "field 'color' is not defined by type NewThing")
	})
}

func TestFragmentsAndDirectives(t *testing.T) {
	s := mustSchema(t, `
interface Node { id: ID! }
type A implements Node { id: ID! a: String }
type B implements Node { id: ID! b: String }
type Query { nodes: [Node] }
`, "Query.nodes")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.nodes": NewMockValueResolver([]any{
			map[string]any{"__typename": "A", "id": "1", "a": "x"},
			map[string]any{"__typename": "B", "id": "2", "b": "y"},
		}),
	})
	q := `
query {
  nodes { __typename id ... on A { a } ...bFields }
  skipped: nodes @skip(if: true) { id }
}
fragment bFields on B { b }
`
	got := execute(t, s, rt, q, nil)
	assertResult(t, &ExecutionResult{
		Data: map[string]any{"nodes": []any{
			map[string]any{"__typename": "A", "id": "1", "a": "x"},
			map[string]any{"__typename": "B", "id": "2", "b": "y"},
		}},
	}, got)
}

type capturingRuntime struct {
	*MockRuntime
	batches [][]AsyncResolveTask
	drop    bool
}

func (c *capturingRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	c.batches = append(c.batches, tasks)
	if c.drop {
		return nil
	}
	return c.MockRuntime.BatchResolveAsync(ctx, tasks)
}

func TestMutationRootFieldsInDocumentOrder(t *testing.T) {
	s := mustSchema(t, `
type Query { ok: Boolean }
type Mutation { first: String second: String }
`, "Mutation.first", "Mutation.second")
	rt := &capturingRuntime{MockRuntime: NewMockRuntime(map[string]MockResolver{
		"Mutation.first":  NewMockValueResolver("1"),
		"Mutation.second": NewMockValueResolver("2"),
	})}
	got := execute(t, s, rt, "mutation { second first }", nil)
	assertResult(t, &ExecutionResult{Data: map[string]any{"first": "1", "second": "2"}}, got)

	require.Len(t, rt.batches, 1)
	var order []string
	for _, task := range rt.batches[0] {
		require.Equal(t, language.Mutation, task.Operation)
		order = append(order, task.Field)
	}
	require.Equal(t, []string{"second", "first"}, order)
}

func TestTaskCarriesSelection(t *testing.T) {
	s := mustSchema(t, objSDL, "Query.obj")
	rt := &capturingRuntime{MockRuntime: NewMockRuntime(nil)}
	execute(t, s, rt, "{ obj { ...f } } fragment f on Obj { a b }", nil)

	require.Len(t, rt.batches, 1)
	task := rt.batches[0][0]
	require.Equal(t, Path{"obj"}, task.Path)
	require.Equal(t, "Obj", task.ReturnType.GetNamedType())
	require.Len(t, task.Fields, 1)
	require.NotNil(t, task.Fragments.ForName("f"))
}

func TestRuntimeResultCountMismatch(t *testing.T) {
	s := mustSchema(t, objSDL, "Query.a")
	rt := &capturingRuntime{MockRuntime: NewMockRuntime(nil), drop: true}
	got := execute(t, s, rt, "{ a }", nil)
	assertResult(t, &ExecutionResult{
		Data:   map[string]any{"a": nil},
		Errors: []GraphQLError{{Message: "runtime returned 0 results for 1 tasks", Path: Path{"a"}}},
	}, got)
}

func TestCancelledContextFailsPendingTasks(t *testing.T) {
	s := mustSchema(t, objSDL, "Query.a")
	rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("A")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewExecutor(rt, s).ExecuteRequest(ctx, mustParseQuery(t, "{ a other }"), "", nil, nil)
	assertResult(t, &ExecutionResult{
		Data:   map[string]any{"a": nil, "other": nil},
		Errors: []GraphQLError{{Message: context.Canceled.Error(), Path: Path{"a"}}},
	}, got)
	for _, c := range rt.GetCalls() {
		require.NotEqual(t, CallKindAsync, c.Kind)
	}
}

func TestOperationSelection(t *testing.T) {
	s := mustSchema(t, objSDL)
	rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("A")})
	doc := mustParseQuery(t, "query One { a } query Two { other }")
	exec := NewExecutor(rt, s)

	got := exec.ExecuteRequest(context.Background(), doc, "One", nil, nil)
	assertResult(t, &ExecutionResult{Data: map[string]any{"a": "A"}}, got)

	got = exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Nil(t, got.Data)
	require.Equal(t, "must provide operation name if query contains multiple operations", got.Errors[0].Message)

	got = exec.ExecuteRequest(context.Background(), doc, "Three", nil, nil)
	require.Equal(t, `unknown operation named "Three"`, got.Errors[0].Message)
}
