package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
  items(limit: Int = 10, filter: Filter): [Item!]!
  item(id: ID!): Item
}

type Mutation {
  touch(id: ID!): Item
}

input Filter {
  prefix: String
  exact: Boolean = false
}

enum Color { RED GREEN @deprecated(reason: "use RED") }

type Item {
  id: ID!
  color: Color
  owner: Item
}
`

func TestLoad(t *testing.T) {
	async := func(typeName, fieldName string) bool {
		return typeName == "Query" || fieldName == "owner"
	}
	s, src, err := Load("test.graphql", testSDL, async)
	require.NoError(t, err)
	require.NotNil(t, src)

	require.Equal(t, "Query", s.QueryType)
	require.Equal(t, "Mutation", s.MutationType)
	require.Empty(t, s.SubscriptionType)

	for name := range s.Types {
		require.NotContains(t, name, "__")
	}
	require.Equal(t, TypeKindScalar, s.Types["String"].Kind)

	q := s.GetQueryType()
	var names []string
	for _, f := range q.Fields {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"items", "item"}, names); diff != "" {
		t.Errorf("query fields mismatch (-want +got):\n%s", diff)
	}

	items := q.Field("items")
	require.True(t, items.Async)
	require.Equal(t, "[Item!]!", items.Type.String())
	limit := items.Argument("limit")
	require.True(t, limit.HasDefault)
	require.Equal(t, int64(10), limit.DefaultValue)
	require.False(t, items.Argument("filter").HasDefault)

	item := s.Types["Item"]
	require.False(t, item.Field("id").Async)
	require.True(t, item.Field("owner").Async)
	require.Nil(t, item.Field("missing"))

	filter := s.Types["Filter"]
	require.Equal(t, TypeKindInputObject, filter.Kind)
	require.Equal(t, false, filter.InputField("exact").DefaultValue)

	color := s.Types["Color"]
	require.True(t, color.HasEnumValue("GREEN"))
	require.True(t, color.EnumValues[1].IsDeprecated)
	require.Equal(t, "use RED", color.EnumValues[1].DeprecationReason)
}

func TestLoadRejectsInvalidSDL(t *testing.T) {
	_, _, err := Load("bad.graphql", "type Query { a: Missing }", nil)
	require.Error(t, err)
}

func TestTypeRefString(t *testing.T) {
	ref := NonNullType(ListType(NonNullType(NamedType("Post"))))
	require.Equal(t, "[Post!]!", ref.String())
	require.True(t, ref.IsList())
	require.Equal(t, "Post", ref.GetNamedType())
}
