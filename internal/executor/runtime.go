package executor

import (
	"context"

	language "github.com/eaverdeja/blograph/internal/language"
	schema "github.com/eaverdeja/blograph/internal/schema"
)

// Runtime is the host integration surface used by the Executor.
//
// The Executor walks the operation breadth first. At each depth it drains the
// synchronous fields through ResolveSync, then calls BatchResolveAsync once
// with every asynchronous field collected at that depth. The next depth does
// not begin until that call returns and its results are completed.
//
//   - ResolveSync is never invoked for fields marked async.
//   - BatchResolveAsync is only invoked with at least one task, and never with
//     tasks below a response path already nulled by a Non-Null violation.
//   - Errors become located GraphQL errors. An error implementing
//     Extensions() map[string]any contributes the error's extensions.
//   - Implementations must be safe for concurrent use by different operations
//     and must not mutate source or args values.
type Runtime interface {
	// ResolveSync resolves a field read directly off its parent value.
	// Return (nil, nil) to produce null.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one execution depth of async fields.
	// len(results) must equal len(tasks) and results[i] answers tasks[i].
	// Each result fails independently.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType names the concrete object type of a value of an interface
	// or union type.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue converts a scalar or enum value to a JSON-safe value.
	// Enums serialize to their symbolic name.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	// Operation is the kind of operation being executed.
	Operation language.Operation
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Fields are the merged AST nodes sharing this response name.
	Fields []*language.Field
	// Fragments is the document's fragment table.
	Fragments language.FragmentList
	// Path is the response path of the field.
	Path Path
	// ReturnType is the declared type of the field.
	ReturnType *schema.TypeRef
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
}
