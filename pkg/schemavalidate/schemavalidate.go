// Package schemavalidate is a minimal structural JSON-Schema validator
// covering the subset of draft 2020-12 a campaign's task input/output
// schemas realistically use: type, properties/required, items, enum, and
// numeric minimum/maximum. It is built on encoding/json plus a structural
// walk rather than a general draft-2020-12 validator library (anyOf/oneOf/
// $ref resolution, format, vocabularies, etc.) because spec.md §6 fixes an
// exact "$json_path : message" error shape this package's callers depend
// on; a general validator's own error reporting would not reproduce that
// shape without a translation layer on top, which would just be this
// package again — see DESIGN.md for the fuller justification.
package schemavalidate

import (
	"fmt"
	"sort"
)

// Validate checks value against schema and returns every violation found,
// each formatted as "<json_path> : <message>" per spec.md §6. A nil slice
// means value validates cleanly.
func Validate(schema map[string]any, value any) []string {
	var errs []string
	walk("$", schema, value, &errs)
	sort.Strings(errs)
	return errs
}

var validSchemaTypes = map[string]bool{
	"object": true, "array": true, "string": true,
	"number": true, "integer": true, "boolean": true, "null": true,
}

// ValidateSchema is spec.md §6.1's validate_schema helper: a structural
// well-formedness check of schema itself (not of an instance against it),
// covering the keywords this package understands — "type" names a known
// JSON-Schema primitive, "properties" is an object of sub-schemas,
// "required" is an array of strings, "items" is itself a schema. It does
// not implement full draft-2020-12 meta-schema validation ($ref, anyOf,
// vocabularies); see DESIGN.md for why no such validator is pulled in.
func ValidateSchema(schema map[string]any) []string {
	var errs []string
	walkSchemaShape("$", schema, &errs)
	sort.Strings(errs)
	return errs
}

func walkSchemaShape(path string, schema map[string]any, errs *[]string) {
	if schema == nil {
		return
	}

	if t, present := schema["type"]; present {
		name, ok := t.(string)
		if !ok || !validSchemaTypes[name] {
			*errs = append(*errs, fmt.Sprintf("%s.type : %v is not a known schema type", path, t))
		}
	}

	if req, present := schema["required"]; present {
		arr, ok := req.([]any)
		if !ok {
			*errs = append(*errs, fmt.Sprintf("%s.required : must be an array", path))
		} else {
			for i, v := range arr {
				if _, ok := v.(string); !ok {
					*errs = append(*errs, fmt.Sprintf("%s.required[%d] : must be a string", path, i))
				}
			}
		}
	}

	if props, present := schema["properties"]; present {
		obj, ok := props.(map[string]any)
		if !ok {
			*errs = append(*errs, fmt.Sprintf("%s.properties : must be an object", path))
		} else {
			for key, v := range obj {
				sub, ok := v.(map[string]any)
				if !ok {
					*errs = append(*errs, fmt.Sprintf("%s.properties.%s : must be a schema object", path, key))
					continue
				}
				walkSchemaShape(path+".properties."+key, sub, errs)
			}
		}
	}

	if items, present := schema["items"]; present {
		sub, ok := items.(map[string]any)
		if !ok {
			*errs = append(*errs, fmt.Sprintf("%s.items : must be a schema object", path))
		} else {
			walkSchemaShape(path+".items", sub, errs)
		}
	}
}

func walk(path string, schema map[string]any, value any, errs *[]string) {
	if schema == nil {
		return
	}

	if enum, ok := schema["enum"].([]any); ok {
		if !enumContains(enum, value) {
			*errs = append(*errs, fmt.Sprintf("%s : value not in enum", path))
			return
		}
	}

	schemaType, _ := schema["type"].(string)
	if schemaType != "" && !typeMatches(schemaType, value) {
		*errs = append(*errs, fmt.Sprintf("%s : expected type %q, got %s", path, schemaType, jsonTypeName(value)))
		return
	}

	switch schemaType {
	case "object":
		walkObject(path, schema, value, errs)
	case "array":
		walkArray(path, schema, value, errs)
	case "number", "integer":
		walkNumber(path, schema, value, errs)
	}
}

func walkObject(path string, schema map[string]any, value any, errs *[]string) {
	obj, ok := value.(map[string]any)
	if !ok {
		return // type mismatch already reported by walk
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			key, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[key]; !present {
				*errs = append(*errs, fmt.Sprintf("%s.%s : required property missing", path, key))
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, v := range obj {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			continue // unknown properties are permitted unless additionalProperties is modeled
		}
		walk(path+"."+key, propSchema, v, errs)
	}
}

func walkArray(path string, schema map[string]any, value any, errs *[]string) {
	arr, ok := value.([]any)
	if !ok {
		return
	}
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return
	}
	for i, v := range arr {
		walk(fmt.Sprintf("%s[%d]", path, i), items, v, errs)
	}
}

func walkNumber(path string, schema map[string]any, value any, errs *[]string) {
	n, ok := value.(float64)
	if !ok {
		return
	}
	if min, ok := schema["minimum"].(float64); ok && n < min {
		*errs = append(*errs, fmt.Sprintf("%s : %v is below minimum %v", path, n, min))
	}
	if max, ok := schema["maximum"].(float64); ok && n > max {
		*errs = append(*errs, fmt.Sprintf("%s : %v is above maximum %v", path, n, max))
	}
}

func typeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		n, ok := value.(float64)
		return ok && n == float64(int64(n))
	case "null":
		return value == nil
	default:
		return true // unknown schema type keywords are not enforced
	}
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if fmt.Sprint(candidate) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
