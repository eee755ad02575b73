// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching of
// asynchronous work, abstract-type resolution, and leaf serialization.
//
// # Execution model
//
// Fields are either synchronous ("physical"), read directly off the parent
// value through Runtime.ResolveSync, or asynchronous, resolved through
// Runtime.BatchResolveAsync. The schema carries the split in
// schema.Field.Async.
//
// Execution proceeds one depth at a time:
//
//	A. Sync expansion. Every field of the current selection sets is visited.
//	   Sync fields are resolved and completed immediately, recursing into
//	   their own selections. Async fields are queued with their response
//	   path and a placeholder is written into the response tree.
//	B. Batch. The queue is drained and handed to BatchResolveAsync in one
//	   call. Tasks whose paths sit under a nulled position are dropped first.
//	C. Completion. Each result is completed in task order and written at its
//	   response path. Completing an object value runs step A for its
//	   selection set, which fills the queue for the next depth.
//
// The loop ends when the queue is empty.
//
// # Null propagation
//
// Every queued field remembers the nearest nullable position that encloses
// it. When a Non-Null field resolves to null or fails, that position is set
// to null and every queued task below it is discarded. When no nullable
// position encloses the field, data itself becomes null.
//
// # Errors
//
// Errors carry the response path and the location of the first field node.
// An error exposing Extensions() map[string]any, found with errors.As,
// contributes its extensions. Errors at one field never abort its siblings.
//
// # Mutations
//
// Root mutation fields are queued like any async field, in document order,
// with AsyncResolveTask.Operation set to language.Mutation. A runtime must
// resolve them one after another in that order.
package executor
