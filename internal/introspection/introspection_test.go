package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/language"
	"github.com/eaverdeja/blograph/internal/schema"
)

const sdl = `
type Query {
  post(id: ID!): Post
  posts(first: Int = 10): [Post!]!
}

"A blog post."
type Post {
  id: ID!
  title: String!
  slug: String @deprecated(reason: "use id")
}

enum Order { NEWEST OLDEST }

input PostInput { title: String!, order: Order = NEWEST }

type Mutation { createPost(input: PostInput!): Post }
`

func execute(t *testing.T, query string) map[string]any {
	t.Helper()
	s, src, err := schema.Load("test.graphql", sdl, nil)
	require.NoError(t, err)

	base := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.post": executor.NewMockValueResolver(map[string]any{"id": "1", "title": "hello"}),
	})
	w, err := Wrap(base, s, src)
	require.NoError(t, err)
	require.Nil(t, s.Types["__Schema"])

	doc, errs := language.LoadQuery(src, query)
	require.Empty(t, errs)
	res := executor.NewExecutor(w.Runtime, w.Schema).ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	return res.Data.(map[string]any)
}

func TestSchemaRoots(t *testing.T) {
	data := execute(t, `{ __schema { queryType { name } mutationType { name } subscriptionType { name } } }`)
	want := map[string]any{"__schema": map[string]any{
		"queryType":        map[string]any{"name": "Query"},
		"mutationType":     map[string]any{"name": "Mutation"},
		"subscriptionType": nil,
	}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeFields(t *testing.T) {
	data := execute(t, `{
  __type(name: "Post") {
    kind
    description
    fields { name type { kind name ofType { kind name } } }
    all: fields(includeDeprecated: true) { name isDeprecated deprecationReason }
  }
}`)
	want := map[string]any{"__type": map[string]any{
		"kind":        "OBJECT",
		"description": "A blog post.",
		"fields": []any{
			map[string]any{"name": "id", "type": map[string]any{"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"kind": "SCALAR", "name": "ID"}}},
			map[string]any{"name": "title", "type": map[string]any{"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"kind": "SCALAR", "name": "String"}}},
		},
		"all": []any{
			map[string]any{"name": "id", "isDeprecated": false, "deprecationReason": nil},
			map[string]any{"name": "title", "isDeprecated": false, "deprecationReason": nil},
			map[string]any{"name": "slug", "isDeprecated": true, "deprecationReason": "use id"},
		},
	}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestListAndInputTypes(t *testing.T) {
	data := execute(t, `{
  q: __type(name: "Query") { fields { name type { kind ofType { kind ofType { kind ofType { name } } } } args { name defaultValue } } }
  input: __type(name: "PostInput") { kind inputFields { name defaultValue } }
  order: __type(name: "Order") { enumValues { name } }
  missing: __type(name: "Nope") { name }
}`)

	fields := data["q"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 2)
	posts := fields[1].(map[string]any)
	require.Equal(t, "posts", posts["name"])
	want := map[string]any{"kind": "NON_NULL", "ofType": map[string]any{
		"kind": "LIST", "ofType": map[string]any{
			"kind": "NON_NULL", "ofType": map[string]any{"name": "Post"},
		},
	}}
	if diff := cmp.Diff(want, posts["type"]); diff != "" {
		t.Fatalf("posts type mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []any{map[string]any{"name": "first", "defaultValue": "10"}}, posts["args"])

	input := data["input"].(map[string]any)
	require.Equal(t, "INPUT_OBJECT", input["kind"])
	require.Equal(t, []any{
		map[string]any{"name": "title", "defaultValue": nil},
		map[string]any{"name": "order", "defaultValue": "NEWEST"},
	}, input["inputFields"])
	require.Equal(t, []any{map[string]any{"name": "NEWEST"}, map[string]any{"name": "OLDEST"}}, data["order"].(map[string]any)["enumValues"])
	require.Nil(t, data["missing"])
}

func TestSchemaListsTypesAndDirectives(t *testing.T) {
	data := execute(t, `{ __schema { types { name } directives { name locations } } }`)
	sch := data["__schema"].(map[string]any)

	var names []string
	for _, ty := range sch["types"].([]any) {
		names = append(names, ty.(map[string]any)["name"].(string))
	}
	require.Contains(t, names, "Post")
	require.Contains(t, names, "__Type")
	require.IsIncreasing(t, names)

	var skip map[string]any
	for _, d := range sch["directives"].([]any) {
		if d.(map[string]any)["name"] == "skip" {
			skip = d.(map[string]any)
		}
	}
	require.NotNil(t, skip)
	require.Contains(t, skip["locations"], "FIELD")
}

func TestDelegatesToBase(t *testing.T) {
	data := execute(t, `{ post(id: "1") { __typename title } }`)
	require.Equal(t, map[string]any{"post": map[string]any{"__typename": "Post", "title": "hello"}}, data)
}
