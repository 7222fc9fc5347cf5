// Package toolbox implements the tool registry: the static tool table loaded
// from config, per-request dynamic tools, merge/partitioning logic, and
// eager (static) plus lazy (dynamic) JSON Schema validation.
package toolbox

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is the wire shape of a tool definition as supplied by config or a
// per-request dynamic_tool_params payload.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

// Kind discriminates the ToolConfig tagged union.
type Kind int

const (
	KindStatic Kind = iota
	KindDynamic
	KindImplicit
	KindDynamicImplicit
)

// Config is a single entry in a ToolCallConfig's tools_available list. Static
// tools carry a pre-compiled schema (compiled at config load); dynamic tools
// carry a schema that compiles lazily via CompiledSchema(), memoized after
// the first call so only the first awaiting caller pays the cost.
type Config struct {
	Kind        Kind
	Name        string
	Description string
	Strict      bool

	rawSchema json.RawMessage
	compiled  *jsonschema.Schema
	compileCh chan struct{} // closed once compilation has been attempted
	compileErr error
}

// NewStatic builds a Config with its schema compiled immediately, for tools
// known at config-load time.
func NewStatic(name, description string, params json.RawMessage, strict bool) (*Config, error) {
	c := &Config{Kind: KindStatic, Name: name, Description: description, Strict: strict, rawSchema: params}
	if err := c.compileNow(); err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return c, nil
}

// NewDynamic builds a Config for a per-request tool and kicks off schema
// compilation on a separate goroutine so it can overlap with the model call.
// Callers await the result via CompiledSchema, which blocks only if
// compilation has not finished yet.
func NewDynamic(t Tool) *Config {
	c := &Config{
		Kind:        KindDynamic,
		Name:        t.Name,
		Description: t.Description,
		Strict:      t.Strict,
		rawSchema:   t.Parameters,
		compileCh:   make(chan struct{}),
	}
	go func() {
		c.compileErr = c.compileNow()
		close(c.compileCh)
	}()
	return c
}

// NewImplicit wraps a function's output schema as the internal "respond"
// tool used to coerce implicit_tool JSON mode.
func NewImplicit(outputSchema json.RawMessage) (*Config, error) {
	c := &Config{Kind: KindImplicit, Name: "respond", rawSchema: outputSchema}
	if err := c.compileNow(); err != nil {
		return nil, fmt.Errorf("implicit tool schema: %w", err)
	}
	return c, nil
}

// NewDynamicImplicit is NewImplicit for an output schema supplied at
// inference time rather than config time; compiles lazily like NewDynamic.
func NewDynamicImplicit(outputSchema json.RawMessage) *Config {
	c := &Config{Kind: KindDynamicImplicit, Name: "respond", rawSchema: outputSchema, compileCh: make(chan struct{})}
	go func() {
		c.compileErr = c.compileNow()
		close(c.compileCh)
	}()
	return c
}

func (c *Config) compileNow() error {
	if len(c.rawSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(c.Name+".json", bytesReader(c.rawSchema)); err != nil {
		return err
	}
	schema, err := compiler.Compile(c.Name + ".json")
	if err != nil {
		return err
	}
	c.compiled = schema
	return nil
}

// CompiledSchema returns the tool's compiled schema, blocking until
// compilation finishes for dynamic tools whose compilation is still
// in-flight. Returns (nil, nil) for tools without a parameters schema.
func (c *Config) CompiledSchema() (*jsonschema.Schema, error) {
	if c.compileCh != nil {
		<-c.compileCh
	}
	if c.compileErr != nil {
		return nil, c.compileErr
	}
	return c.compiled, nil
}

// AsTool converts a Config back to the wire Tool shape for persistence and
// provider dispatch.
func (c *Config) AsTool() Tool {
	return Tool{Name: c.Name, Description: c.Description, Parameters: c.rawSchema, Strict: c.Strict}
}
