package executor

import (
	"context"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	language "github.com/eaverdeja/blograph/internal/language"
	schema "github.com/eaverdeja/blograph/internal/schema"
)

// mustSchema loads sdl; the listed "Type.field" names are async.
func mustSchema(t *testing.T, sdl string, async ...string) *schema.Schema {
	t.Helper()
	s, _, err := schema.Load("test.graphql", sdl, func(typeName, fieldName string) bool {
		return slices.Contains(async, typeName+"."+fieldName)
	})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

func execute(t *testing.T, s *schema.Schema, rt Runtime, q string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return NewExecutor(rt, s).ExecuteRequest(context.Background(), mustParseQuery(t, q), "", vars, nil)
}

var ignoreLocations = cmpopts.IgnoreFields(GraphQLError{}, "Locations")

func assertResult(t *testing.T, want, got *ExecutionResult) {
	t.Helper()
	if diff := cmp.Diff(want, got, ignoreLocations, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
