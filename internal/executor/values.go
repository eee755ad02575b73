package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	language "github.com/eaverdeja/blograph/internal/language"
	schema "github.com/eaverdeja/blograph/internal/schema"
)

// coerceVariableValues coerces variable values according to their types
func coerceVariableValues(
	s *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := schema.FromAST(varDef.Type)
		val, ok := variableValues[name]
		if !ok {
			switch {
			case varDef.DefaultValue != nil:
				val = valueFromAST(varDef.DefaultValue, nil)
			case t.IsNonNull():
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t)
			default:
				continue
			}
		}
		if val == nil && t.IsNonNull() {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t)
		}
		cv, err := coerceValue(s, val, t)
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %w", name, t, err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces argument values for a field
func coerceArgumentValues(
	s *schema.Schema,
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		arg := arguments.ForName(name)

		provided := arg != nil
		if provided && arg.Value.Kind == language.Variable {
			_, provided = variableValues[arg.Value.Raw]
		}
		if !provided {
			if argDef.HasDefault {
				cv, err := coerceValue(s, argDef.DefaultValue, argDef.Type)
				if err != nil {
					return nil, fmt.Errorf("argument '%s' has an invalid default: %w", name, err)
				}
				coerced[name] = cv
			} else if argDef.Type.IsNonNull() {
				return nil, fmt.Errorf("argument '%s' of required type %s was not provided", name, argDef.Type)
			}
			continue
		}

		cv, err := coerceValue(s, valueFromAST(arg.Value, variableValues), argDef.Type)
		if err != nil {
			return nil, fmt.Errorf("argument '%s' cannot be coerced: %w", name, err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// valueFromAST converts an AST value to a runtime value with variable substitution
func valueFromAST(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return variableValues[value.Raw]
	case language.IntValue:
		if iv, err := strconv.Atoi(value.Raw); err == nil {
			return iv
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromAST(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			if f.Value.Kind == language.Variable {
				if _, ok := variableValues[f.Value.Raw]; !ok {
					continue
				}
			}
			m[f.Name] = valueFromAST(f.Value, variableValues)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces a value to the specified GraphQL type
func coerceValue(s *schema.Schema, value any, targetType *schema.TypeRef) (any, error) {
	if targetType.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type %s", targetType)
		}
		return coerceValue(s, value, targetType.Unwrap())
	}
	if value == nil {
		return nil, nil
	}
	if targetType.IsList() {
		return coerceListValue(s, value, targetType)
	}

	name := targetType.GetNamedType()
	switch name {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	}

	t := s.Types[name]
	if t == nil {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	switch t.Kind {
	case schema.TypeKindEnum:
		str, ok := value.(string)
		if !ok || !t.HasEnumValue(str) {
			return nil, fmt.Errorf("%v is not a value of enum %s", value, name)
		}
		return str, nil
	case schema.TypeKindInputObject:
		return coerceInputObject(s, t, value)
	default:
		// Custom scalars pass through.
		return value, nil
	}
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
	}
	for k := range in {
		if t.InputField(k) == nil {
			return nil, fmt.Errorf("field '%s' is not defined by type %s", k, t.Name)
		}
	}
	out := make(map[string]any, len(t.InputFields))
	for _, f := range t.InputFields {
		v, ok := in[f.Name]
		if !ok {
			if f.HasDefault {
				v = f.DefaultValue
			} else if f.Type.IsNonNull() {
				return nil, fmt.Errorf("field '%s' of required type %s was not provided", f.Name, f.Type)
			} else {
				continue
			}
		}
		cv, err := coerceValue(s, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

// coerceListValue coerces a value to a list
func coerceListValue(s *schema.Schema, value any, listType *schema.TypeRef) (any, error) {
	innerType := listType.Unwrap()
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := coerceValue(s, item, innerType)
			if err != nil {
				return nil, err
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}

	// Single value becomes a list of one
	coercedItem, err := coerceValue(s, value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v), nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to String", value, value)
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case json.Number:
		return v.String(), nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}
