// Package introspection answers __schema and __type queries from the
// validated source schema, delegating every other field to a base runtime.
package introspection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/eaverdeja/blograph/internal/executor"
	"github.com/eaverdeja/blograph/internal/schema"
)

// Wrapper holds the wrapped runtime and the schema extended with the
// introspection types they must be executed with.
type Wrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends s with the introspection types of src and returns a runtime
// that resolves them. s is not modified.
func Wrap(base executor.Runtime, s *schema.Schema, src *ast.Schema) (*Wrapper, error) {
	ext := &schema.Schema{
		QueryType:        s.QueryType,
		MutationType:     s.MutationType,
		SubscriptionType: s.SubscriptionType,
		Description:      s.Description,
		Types:            make(map[string]*schema.Type, len(s.Types)+8),
	}
	for name, t := range s.Types {
		ext.Types[name] = t
	}
	for name, def := range src.Types {
		if !strings.HasPrefix(name, "__") {
			continue
		}
		t, err := schema.BuildType(src, def, nil)
		if err != nil {
			return nil, fmt.Errorf("introspection: %w", err)
		}
		ext.Types[name] = t
	}
	if q := s.GetQueryType(); q != nil {
		cp := *q
		cp.Fields = append(append([]*schema.Field(nil), q.Fields...),
			&schema.Field{
				Name: "__schema",
				Type: schema.NonNullType(schema.NamedType("__Schema")),
			},
			&schema.Field{
				Name: "__type",
				Type: schema.NamedType("__Type"),
				Arguments: []*schema.InputValue{
					{Name: "name", Type: schema.NonNullType(schema.NamedType("String"))},
				},
			},
		)
		ext.Types[q.Name] = &cp
	}
	return &Wrapper{
		Runtime: &runtime{base: base, src: src, query: s.QueryType},
		Schema:  ext,
	}, nil
}

type runtime struct {
	base  executor.Runtime
	src   *ast.Schema
	query string
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *ast.Schema:
		return r.schemaField(src, field), nil
	case *ast.Definition:
		return r.typeField(src, field, args), nil
	case *ast.Type:
		return r.wrapperField(src, field), nil
	case *ast.FieldDefinition:
		return r.fieldField(src, field, args), nil
	case *ast.ArgumentDefinition:
		return r.argumentField(src, field), nil
	case *ast.EnumValueDefinition:
		return enumValueField(src, field), nil
	case *ast.DirectiveDefinition:
		return r.directiveField(src, field, args), nil
	}
	if objectType == r.query {
		switch field {
		case "__schema":
			return r.src, nil
		case "__type":
			name, _ := args["name"].(string)
			if def, ok := r.src.Types[name]; ok {
				return def, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	return r.base.SerializeLeafValue(ctx, typ, value)
}

func (r *runtime) schemaField(s *ast.Schema, field string) any {
	switch field {
	case "description":
		return optional(s.Description)
	case "types":
		names := make([]string, 0, len(s.Types))
		for name := range s.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*ast.Definition, len(names))
		for i, name := range names {
			out[i] = s.Types[name]
		}
		return out
	case "queryType":
		return definition(s.Query)
	case "mutationType":
		return definition(s.Mutation)
	case "subscriptionType":
		return definition(s.Subscription)
	case "directives":
		names := make([]string, 0, len(s.Directives))
		for name := range s.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*ast.DirectiveDefinition, len(names))
		for i, name := range names {
			out[i] = s.Directives[name]
		}
		return out
	}
	return nil
}

func (r *runtime) typeField(def *ast.Definition, field string, args map[string]any) any {
	includeDeprecated, _ := args["includeDeprecated"].(bool)
	switch field {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return optional(def.Description)
	case "specifiedByURL":
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if a := d.Arguments.ForName("url"); a != nil && a.Value != nil {
				return a.Value.Raw
			}
		}
		return nil
	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []*ast.FieldDefinition{}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") || (!includeDeprecated && deprecated(f.Directives)) {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := []*ast.Definition{}
		for _, name := range def.Interfaces {
			if t, ok := r.src.Types[name]; ok {
				out = append(out, t)
			}
		}
		return out
	case "possibleTypes":
		if def.Kind != ast.Interface && def.Kind != ast.Union {
			return nil
		}
		out := append([]*ast.Definition(nil), r.src.GetPossibleTypes(def)...)
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		out := []*ast.EnumValueDefinition{}
		for _, v := range def.EnumValues {
			if !includeDeprecated && deprecated(v.Directives) {
				continue
			}
			out = append(out, v)
		}
		return out
	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		out := []*ast.FieldDefinition{}
		for _, f := range def.Fields {
			if !includeDeprecated && deprecated(f.Directives) {
				continue
			}
			out = append(out, f)
		}
		return out
	case "isOneOf":
		if def.Kind != ast.InputObject {
			return nil
		}
		return def.Directives.ForName("oneOf") != nil
	}
	return nil
}

// wrapperField resolves __Type fields of a LIST or NON_NULL wrapper.
func (r *runtime) wrapperField(t *ast.Type, field string) any {
	switch field {
	case "kind":
		if t.NonNull {
			return "NON_NULL"
		}
		return "LIST"
	case "ofType":
		if t.NonNull {
			return r.typeRef(&ast.Type{NamedType: t.NamedType, Elem: t.Elem})
		}
		return r.typeRef(t.Elem)
	}
	return nil
}

// typeRef returns the __Type source for t: the named definition for a
// nullable named type, t itself for a wrapper.
func (r *runtime) typeRef(t *ast.Type) any {
	if t == nil {
		return nil
	}
	if t.NonNull || t.Elem != nil {
		return t
	}
	return definition(r.src.Types[t.NamedType])
}

// fieldField serves both __Field and input object fields resolved as
// __InputValue.
func (r *runtime) fieldField(f *ast.FieldDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return f.Name
	case "description":
		return optional(f.Description)
	case "type":
		return r.typeRef(f.Type)
	case "args":
		return r.arguments(f.Arguments, args)
	case "defaultValue":
		return defaultValue(f.DefaultValue)
	case "isDeprecated":
		return deprecated(f.Directives)
	case "deprecationReason":
		return reason(f.Directives)
	}
	return nil
}

func (r *runtime) argumentField(a *ast.ArgumentDefinition, field string) any {
	switch field {
	case "name":
		return a.Name
	case "description":
		return optional(a.Description)
	case "type":
		return r.typeRef(a.Type)
	case "defaultValue":
		return defaultValue(a.DefaultValue)
	case "isDeprecated":
		return deprecated(a.Directives)
	case "deprecationReason":
		return reason(a.Directives)
	}
	return nil
}

func enumValueField(v *ast.EnumValueDefinition, field string) any {
	switch field {
	case "name":
		return v.Name
	case "description":
		return optional(v.Description)
	case "isDeprecated":
		return deprecated(v.Directives)
	case "deprecationReason":
		return reason(v.Directives)
	}
	return nil
}

func (r *runtime) directiveField(d *ast.DirectiveDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "isRepeatable":
		return d.IsRepeatable
	case "locations":
		out := make([]string, len(d.Locations))
		for i, l := range d.Locations {
			out[i] = string(l)
		}
		return out
	case "args":
		return r.arguments(d.Arguments, args)
	}
	return nil
}

func (r *runtime) arguments(defs ast.ArgumentDefinitionList, args map[string]any) []*ast.ArgumentDefinition {
	includeDeprecated, _ := args["includeDeprecated"].(bool)
	out := []*ast.ArgumentDefinition{}
	for _, a := range defs {
		if !includeDeprecated && deprecated(a.Directives) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// definition turns a nil definition into an untyped nil.
func definition(def *ast.Definition) any {
	if def == nil {
		return nil
	}
	return def
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func defaultValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func deprecated(dirs ast.DirectiveList) bool {
	return dirs.ForName("deprecated") != nil
}

func reason(dirs ast.DirectiveList) any {
	d := dirs.ForName("deprecated")
	if d == nil {
		return nil
	}
	if a := d.Arguments.ForName("reason"); a != nil && a.Value != nil {
		return a.Value.Raw
	}
	return "No longer supported"
}
