package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// AsyncFunc reports whether a field is resolved in batches rather than
// read off its parent value.
type AsyncFunc func(typeName, fieldName string) bool

// Load parses and validates sdl and returns the executable schema along
// with the validated source schema used for query validation.
func Load(name, sdl string, async AsyncFunc) (*Schema, *ast.Schema, error) {
	src, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, nil, fmt.Errorf("schema: %w", err)
	}
	s, err := Build(src, async)
	if err != nil {
		return nil, nil, err
	}
	return s, src, nil
}

// Build converts a validated schema. Introspection types and fields are
// left out.
func Build(src *ast.Schema, async AsyncFunc) (*Schema, error) {
	s := &Schema{Types: make(map[string]*Type, len(src.Types))}
	if src.Query != nil {
		s.QueryType = src.Query.Name
	}
	if src.Mutation != nil {
		s.MutationType = src.Mutation.Name
	}
	if src.Subscription != nil {
		s.SubscriptionType = src.Subscription.Name
	}

	names := make([]string, 0, len(src.Types))
	for name := range src.Types {
		if !strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := BuildType(src, src.Types[name], async)
		if err != nil {
			return nil, err
		}
		s.Types[name] = t
	}
	return s, nil
}

// BuildType converts one definition of src. Fields named with a leading
// "__" are skipped.
func BuildType(src *ast.Schema, def *ast.Definition, async AsyncFunc) (*Type, error) {
	if async == nil {
		async = func(string, string) bool { return false }
	}
	t := &Type{
		Name:        def.Name,
		Kind:        TypeKind(def.Kind),
		Description: def.Description,
		Interfaces:  append([]string(nil), def.Interfaces...),
	}
	switch def.Kind {
	case ast.Object, ast.Interface:
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			f, err := buildField(fd)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", def.Name, fd.Name, err)
			}
			f.Async = async(def.Name, fd.Name)
			t.Fields = append(t.Fields, f)
		}
		if def.Kind == ast.Interface {
			t.PossibleTypes = possibleTypes(src, def)
		}
	case ast.Union:
		t.PossibleTypes = possibleTypes(src, def)
	case ast.Enum:
		for _, ev := range def.EnumValues {
			reason, deprecated := deprecation(ev.Directives)
			t.EnumValues = append(t.EnumValues, &EnumValue{
				Name:              ev.Name,
				Description:       ev.Description,
				IsDeprecated:      deprecated,
				DeprecationReason: reason,
			})
		}
	case ast.InputObject:
		for _, fd := range def.Fields {
			iv, err := inputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", def.Name, fd.Name, err)
			}
			t.InputFields = append(t.InputFields, iv)
		}
	}
	return t, nil
}

func buildField(fd *ast.FieldDefinition) (*Field, error) {
	reason, deprecated := deprecation(fd.Directives)
	f := &Field{
		Name:              fd.Name,
		Description:       fd.Description,
		Type:              FromAST(fd.Type),
		IsDeprecated:      deprecated,
		DeprecationReason: reason,
	}
	for _, ad := range fd.Arguments {
		iv, err := inputValue(ad.Name, ad.Description, ad.Type, ad.DefaultValue)
		if err != nil {
			return nil, err
		}
		f.Arguments = append(f.Arguments, iv)
	}
	return f, nil
}

func inputValue(name, description string, typ *ast.Type, def *ast.Value) (*InputValue, error) {
	iv := &InputValue{Name: name, Description: description, Type: FromAST(typ)}
	if def != nil {
		v, err := def.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("default value of %s: %w", name, err)
		}
		iv.DefaultValue = v
		iv.HasDefault = true
	}
	return iv, nil
}

func possibleTypes(src *ast.Schema, def *ast.Definition) []string {
	var out []string
	for _, pt := range src.GetPossibleTypes(def) {
		out = append(out, pt.Name)
	}
	sort.Strings(out)
	return out
}

func deprecation(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "No longer supported", true
}

// FromAST converts a parsed type reference.
func FromAST(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.NamedType != "" {
		ref = NamedType(t.NamedType)
	} else {
		ref = ListType(FromAST(t.Elem))
	}
	if t.NonNull {
		return NonNullType(ref)
	}
	return ref
}
