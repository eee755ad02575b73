package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	language "github.com/eaverdeja/blograph/internal/language"
	schema "github.com/eaverdeja/blograph/internal/schema"
)

type Path []PathElement

type PathElement any

// executionState holds the state during query execution
type executionState struct {
	ctx            context.Context
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	operation      *language.OperationDefinition
	variableValues map[string]any

	data     map[string]any
	dataNull bool
	pending  []*asyncTask
	errors   []GraphQLError
	// prefixes of paths that have been nullified
	nullified map[string]struct{}
}

// asyncTask is a queued async field. boundary is the nearest nullable
// position enclosing the field; an empty boundary means the whole data.
type asyncTask struct {
	task     AsyncResolveTask
	fields   []*language.Field
	boundary Path
}

// asyncPending marks a response slot waiting for its batch.
type asyncPending struct{}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// Schema returns the schema the executor runs against.
func (e *Executor) Schema() *schema.Schema { return e.schema }

func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation, err := getOperation(document, operationName)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		rootType = e.schema.GetSubscriptionType()
	default:
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)}}}
	}
	if rootType == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("root type not found for %s operation", operation.Operation)}}}
	}

	state := &executionState{
		ctx:            ctx,
		runtime:        e.runtime,
		schema:         e.schema,
		document:       document,
		operation:      operation,
		variableValues: coercedVariableValues,
		nullified:      make(map[string]struct{}),
	}

	state.data = executeSelectionSet(state, rootType, operation.SelectionSet, initialValue, Path{}, nil)
	if state.data == nil {
		state.dataNull = true
	}

	// One batch per depth. Completing a batch may queue the next depth.
	for len(state.pending) > 0 && !state.dataNull {
		batch := state.takePending()
		if len(batch) == 0 {
			continue
		}
		results := state.resolveBatch(batch)
		for i, at := range batch {
			state.completeAsync(at, results[i])
		}
	}

	res := &ExecutionResult{Errors: state.errors}
	if !state.dataNull {
		res.Data = state.data
	}
	return res
}

// executeSelectionSet executes sync fields and queues async ones. It returns
// nil when a Non-Null field of the object completed to null.
func executeSelectionSet(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, objectValue any, path Path, boundary Path) map[string]any {
	resultMap := make(map[string]any)

	for _, cf := range collectFields(state, objectType, selectionSet) {
		responseName := cf.ResponseName
		fields := cf.Fields
		fieldPath := appendPath(path, responseName)

		if fields[0].Name == "__typename" {
			resultMap[responseName] = objectType.Name
			continue
		}

		fieldDef := objectType.Field(fields[0].Name)
		if fieldDef == nil {
			state.addError(fmt.Errorf("Cannot query field '%s' on type '%s'", fields[0].Name, objectType.Name), fields, fieldPath)
			resultMap[responseName] = nil
			continue
		}

		var completed any
		args, err := coerceArgumentValues(state.schema, fieldDef, fields[0].Arguments, state.variableValues)
		switch {
		case err != nil:
			state.addError(err, fields, fieldPath)
		case fieldDef.Async:
			state.pending = append(state.pending, &asyncTask{
				task: AsyncResolveTask{
					Operation:  state.operation.Operation,
					ObjectType: objectType.Name,
					Field:      fieldDef.Name,
					Source:     objectValue,
					Args:       args,
					Fields:     fields,
					Fragments:  state.document.Fragments,
					Path:       fieldPath,
					ReturnType: fieldDef.Type,
				},
				fields:   fields,
				boundary: boundary,
			})
			resultMap[responseName] = asyncPending{}
			continue
		default:
			raw, err := state.runtime.ResolveSync(state.ctx, objectType.Name, fieldDef.Name, objectValue, args)
			if err != nil {
				state.addError(err, fields, fieldPath)
				raw = nil
			}
			completed = completeValue(state, fieldDef.Type, fields, raw, fieldPath, boundary)
		}

		if isNullish(completed) {
			if fieldDef.Type.IsNonNull() {
				return nil
			}
			completed = nil
		}
		resultMap[responseName] = completed
	}

	return resultMap
}

// takePending drains the queue, dropping tasks below nullified paths.
func (s *executionState) takePending() []*asyncTask {
	live := make([]*asyncTask, 0, len(s.pending))
	for _, at := range s.pending {
		if !s.hasNullifiedPrefix(at.task.Path) {
			live = append(live, at)
		}
	}
	s.pending = nil
	return live
}

func (s *executionState) resolveBatch(batch []*asyncTask) []AsyncResolveResult {
	tasks := make([]AsyncResolveTask, len(batch))
	for i, at := range batch {
		tasks[i] = at.task
	}

	var failed error
	if err := s.ctx.Err(); err != nil {
		failed = err
	} else {
		results := s.runtime.BatchResolveAsync(s.ctx, tasks)
		if len(results) == len(tasks) {
			return results
		}
		failed = fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(tasks))
	}
	results := make([]AsyncResolveResult, len(tasks))
	for i := range results {
		results[i].Error = failed
	}
	return results
}

func (s *executionState) completeAsync(at *asyncTask, res AsyncResolveResult) {
	path := at.task.Path
	if s.dataNull || s.hasNullifiedPrefix(path) {
		return
	}

	var completed any
	if res.Error != nil {
		s.addError(res.Error, at.fields, path)
	} else {
		completed = completeValue(s, at.task.ReturnType, at.fields, res.Value, path, at.boundary)
	}

	if isNullish(completed) {
		if at.task.ReturnType.IsNonNull() {
			s.nullify(at.boundary)
			return
		}
		completed = nil
	}
	s.setValueAtPath(path, completed)
}

// completeValue completes result against fieldType. boundary is the nearest
// nullable position enclosing path.
func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path, boundary Path) any {
	if fieldType.IsNonNull() {
		if isNullish(result) {
			if !state.hasErrorAtPath(path) {
				state.addError(fmt.Errorf("Cannot return null for non-nullable field %s", pathToString(path)), fields, path)
			}
			return nil
		}
		return completeInner(state, fieldType.Unwrap(), fields, result, path, boundary)
	}

	if isNullish(result) {
		return nil
	}
	completed := completeInner(state, fieldType, fields, result, path, path)
	if isNullish(completed) {
		state.markNullified(path)
		return nil
	}
	return completed
}

func completeInner(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path, boundary Path) any {
	if fieldType.IsList() {
		return completeListValue(state, fieldType, fields, result, path, boundary)
	}

	namedType := fieldType.GetNamedType()
	typeObj := state.schema.Types[namedType]
	if typeObj == nil {
		state.addError(fmt.Errorf("Unknown type: %s", namedType), fields, path)
		return nil
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := state.runtime.SerializeLeafValue(state.ctx, namedType, result)
		if err != nil {
			state.addError(err, fields, path)
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		return executeSelectionSet(state, typeObj, mergeSelectionSets(fields), result, path, boundary)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		typeName, err := state.runtime.ResolveType(state.ctx, namedType, result)
		if err != nil {
			state.addError(err, fields, path)
			return nil
		}
		objectType := state.schema.Types[typeName]
		if objectType == nil || objectType.Kind != schema.TypeKindObject {
			state.addError(fmt.Errorf("Abstract type %s must resolve to an Object type at runtime. Got: %s", namedType, typeName), fields, path)
			return nil
		}
		return executeSelectionSet(state, objectType, mergeSelectionSets(fields), result, path, boundary)
	default:
		state.addError(fmt.Errorf("Cannot complete value of unexpected type: %s", typeObj.Kind), fields, path)
		return nil
	}
}

// completeListValue completes a list value
func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path, boundary Path) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice {
			state.addError(fmt.Errorf("Expected list value, got %T", result), fields, path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := listType.Unwrap()
	completed := make([]any, len(items))
	for i, item := range items {
		v := completeValue(state, inner, fields, item, appendPath(path, i), boundary)
		if isNullish(v) {
			if inner.IsNonNull() {
				return nil
			}
			v = nil
		}
		completed[i] = v
	}
	return completed
}

// nullify writes null at the boundary and drops everything below it.
func (s *executionState) nullify(boundary Path) {
	if len(boundary) == 0 {
		s.dataNull = true
		return
	}
	s.setValueAtPath(boundary, nil)
	s.markNullified(boundary)
}

// setValueAtPath writes into the response tree. Paths whose parents no
// longer exist are ignored.
func (s *executionState) setValueAtPath(path Path, value any) {
	if len(path) == 0 {
		return
	}
	var current any = s.data
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return
			}
			next, exists := m[e]
			if !exists {
				return
			}
			current = next
		case int:
			l, ok := current.([]any)
			if !ok || e >= len(l) {
				return
			}
			current = l[e]
		default:
			return
		}
	}
	switch e := path[len(path)-1].(type) {
	case string:
		if m, ok := current.(map[string]any); ok {
			m[e] = value
		}
	case int:
		if l, ok := current.([]any); ok && e < len(l) {
			l[e] = value
		}
	}
}

func (s *executionState) addError(err error, fields []*language.Field, path Path) {
	ge := GraphQLError{Message: err.Error(), Path: path}
	if len(fields) > 0 && fields[0].Position != nil {
		ge.Locations = []Location{{Line: fields[0].Position.Line, Column: fields[0].Position.Column}}
	}
	var ext interface{ Extensions() map[string]any }
	if errors.As(err, &ext) {
		ge.Extensions = ext.Extensions()
	}
	s.errors = append(s.errors, ge)
}

// hasErrorAtPath reports whether an error with the given path already exists.
func (s *executionState) hasErrorAtPath(path Path) bool {
	for _, err := range s.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

func (s *executionState) markNullified(p Path) {
	if key := pathToString(p); key != "" {
		s.nullified[key] = struct{}{}
	}
}

func (s *executionState) hasNullifiedPrefix(p Path) bool {
	if len(s.nullified) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.nullified[pathToString(p[:i])]; ok {
			return true
		}
	}
	return false
}

func pathToString(path Path) string {
	var b strings.Builder
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// getOperation selects the operation by name, or the only one when name is
// empty.
func getOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if operationName == "" {
		switch len(document.Operations) {
		case 0:
			return nil, errors.New("document contains no operations")
		case 1:
			return document.Operations[0], nil
		default:
			return nil, errors.New("must provide operation name if query contains multiple operations")
		}
	}
	if op := document.Operations.ForName(operationName); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("unknown operation named %q", operationName)
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
