// Package tools holds the tool registry, parameter validation and the
// retrying executor that backs the conversation manager's tool fan-out.
package tools

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Property describes one parameter in a tool schema. The schema language
// is deliberately small: type, enum, pattern and array items cover every
// tool the gateway ships.
type Property struct {
	Type    string   // "string", "number", "boolean", "array"
	Enum    []string // string enums only
	Pattern string   // compiled lazily, anchored by the author
	Items   *Property
}

// Schema is a flat object schema for tool parameters.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// patternCache memoizes compiled patterns across schemas. Validate runs
// on every connection's goroutine, so the cache must be safe for
// concurrent first compilations.
var patternCache sync.Map // pattern string -> *regexp.Regexp

func compiledPattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// Validate checks params against the schema and returns every problem
// found. Pure: params is never mutated. An empty slice means valid.
func (s *Schema) Validate(params map[string]any) []string {
	if s == nil {
		return nil
	}
	var problems []string

	for _, name := range s.Required {
		if _, ok := params[name]; !ok {
			problems = append(problems, fmt.Sprintf("Missing required parameter %q", name))
		}
	}

	for name, value := range params {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		problems = append(problems, validateProperty(name, prop, value)...)
	}
	return problems
}

func validateProperty(name string, prop Property, value any) []string {
	var problems []string

	switch prop.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return []string{fmt.Sprintf("Parameter %q must be a string", name)}
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, str) {
			problems = append(problems, fmt.Sprintf("Parameter %q must be one of: %s", name, strings.Join(prop.Enum, ", ")))
		}
		if prop.Pattern != "" {
			re, err := compiledPattern(prop.Pattern)
			if err != nil || !re.MatchString(str) {
				problems = append(problems, fmt.Sprintf("Parameter %q does not match required pattern", name))
			}
		}

	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			problems = append(problems, fmt.Sprintf("Parameter %q must be a number", name))
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			problems = append(problems, fmt.Sprintf("Parameter %q must be a boolean", name))
		}

	case "array":
		items, ok := value.([]any)
		if !ok {
			return []string{fmt.Sprintf("Parameter %q must be an array", name)}
		}
		if prop.Items != nil {
			for _, item := range items {
				str, ok := item.(string)
				if !ok {
					problems = append(problems, fmt.Sprintf("Parameter %q items must be strings", name))
					continue
				}
				if len(prop.Items.Enum) > 0 && !containsString(prop.Items.Enum, str) {
					problems = append(problems, fmt.Sprintf("Parameter %q items must be one of: %s", name, strings.Join(prop.Items.Enum, ", ")))
				}
			}
		}
	}
	return problems
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// JSONSchema renders the schema as a JSON-Schema object for the LLM
// provider tool declarations.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		props[name] = prop.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		required := make([]any, len(s.Required))
		for i, r := range s.Required {
			required[i] = r
		}
		out["required"] = required
	}
	return out
}

func (p Property) jsonSchema() map[string]any {
	out := map[string]any{"type": p.Type}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, e := range p.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if p.Pattern != "" {
		out["pattern"] = p.Pattern
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	return out
}
