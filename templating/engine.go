// Package templating adapts Go's text/template to the gateway's
// schema-typed system/user/assistant templates. Rendering is a validate-then-
// execute two-step, mirroring the way providers/openai.go validates and
// converts a request before dispatch: arguments are checked against the
// template's JSON Schema before the template executes, so a malformed
// argument object never reaches text/template's untyped field lookups.
package templating

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Template pairs a parsed text/template with its optional argument schema.
// A nil schema means the template accepts any JSON-compatible argument value
// (the common case for plain string templates with no typed schema).
type Template struct {
	name   string
	tpl    *template.Template
	schema *jsonschema.Schema
}

// Engine holds the set of templates registered for a function's system,
// user, and assistant roles, keyed by template_key.
type Engine struct {
	templates map[string]*Template
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	return &Engine{templates: make(map[string]*Template)}
}

// Register parses templateBody and, if schema is non-empty, compiles it as
// the template's argument schema. Both happen at config-load time so a
// broken template or schema is a boot error, not a request-time surprise.
func (e *Engine) Register(key, templateBody string, schema json.RawMessage) error {
	tpl, err := template.New(key).Parse(templateBody)
	if err != nil {
		return fmt.Errorf("template %q: parse: %w", key, err)
	}
	t := &Template{name: key, tpl: tpl}
	if len(schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(key+".schema.json", bytes.NewReader(schema)); err != nil {
			return fmt.Errorf("template %q: schema: %w", key, err)
		}
		compiled, err := compiler.Compile(key + ".schema.json")
		if err != nil {
			return fmt.Errorf("template %q: schema compile: %w", key, err)
		}
		t.schema = compiled
	}
	e.templates[key] = t
	return nil
}

// Render validates args against the named template's schema (if any) and
// then executes the template, returning the rendered string.
func (e *Engine) Render(templateKey string, args map[string]any) (string, error) {
	t, ok := e.templates[templateKey]
	if !ok {
		return "", fmt.Errorf("unknown template key %q", templateKey)
	}
	if t.schema != nil {
		if err := t.schema.Validate(toJSONValue(args)); err != nil {
			return "", fmt.Errorf("template %q: argument validation: %w", templateKey, err)
		}
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("template %q: render: %w", templateKey, err)
	}
	return buf.String(), nil
}

// toJSONValue round-trips args through JSON so jsonschema.Validate sees the
// same plain maps/slices/numbers it would see from a decoded request body,
// regardless of the concrete Go types callers pass in.
func toJSONValue(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return args
	}
	return v
}
