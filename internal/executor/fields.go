package executor

import (
	"slices"

	language "github.com/eaverdeja/blograph/internal/language"
	schema "github.com/eaverdeja/blograph/internal/schema"
)

// collectedFieldMap preserves field order from the original query
type collectedFieldMap struct {
	fields []collectedField
	index  map[string]int
}

type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

func (cfm *collectedFieldMap) add(responseName string, field *language.Field) {
	if idx, exists := cfm.index[responseName]; exists {
		cfm.fields[idx].Fields = append(cfm.fields[idx].Fields, field)
		return
	}
	cfm.index[responseName] = len(cfm.fields)
	cfm.fields = append(cfm.fields, collectedField{
		ResponseName: responseName,
		Fields:       []*language.Field{field},
	})
}

// collectFields groups the selections that apply to objectType by response
// name, in document order.
func collectFields(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet) []collectedField {
	grouped := &collectedFieldMap{index: make(map[string]int)}
	collectFieldsImpl(state, objectType, selectionSet, grouped, make(map[string]bool))
	return grouped.fields
}

func collectFieldsImpl(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, grouped *collectedFieldMap, visitedFragments map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			grouped.add(responseName, sel)

		case *language.InlineFragment:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			if !typeConditionApplies(state.schema, objectType, sel.TypeCondition) {
				continue
			}
			collectFieldsImpl(state, objectType, sel.SelectionSet, grouped, visitedFragments)

		case *language.FragmentSpread:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			if visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true

			fragmentDef := state.document.Fragments.ForName(sel.Name)
			if fragmentDef == nil {
				continue
			}
			if !typeConditionApplies(state.schema, objectType, fragmentDef.TypeCondition) {
				continue
			}
			collectFieldsImpl(state, objectType, fragmentDef.SelectionSet, grouped, visitedFragments)
		}
	}
}

// typeConditionApplies reports whether a fragment on condition selects
// fields of objectType.
func typeConditionApplies(s *schema.Schema, objectType *schema.Type, condition string) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	t := s.Types[condition]
	if t == nil {
		return false
	}
	switch t.Kind {
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return slices.Contains(t.PossibleTypes, objectType.Name)
	default:
		return false
	}
}

// shouldIncludeNode evaluates @skip and @include.
func shouldIncludeNode(state *executionState, directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := directiveArgument(state, skip, "if").(bool); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := directiveArgument(state, include, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

func directiveArgument(state *executionState, directive *language.Directive, argName string) any {
	arg := directive.Arguments.ForName(argName)
	if arg == nil {
		return nil
	}
	return valueFromAST(arg.Value, state.variableValues)
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
