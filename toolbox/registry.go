package toolbox

import (
	"encoding/json"
	"fmt"

	"github.com/relaygw/gateway/content"
)

// ErrToolNotFound is returned when a requested tool name does not resolve
// against the merged static+dynamic tool set.
type ErrToolNotFound struct{ Name string }

func (e ErrToolNotFound) Error() string { return fmt.Sprintf("tool not found: %s", e.Name) }

// ErrInvalidTool signals a configuration-vs-request disagreement that is not
// a missing-name problem (e.g. a malformed dynamic schema).
type ErrInvalidTool struct{ Reason string }

func (e ErrInvalidTool) Error() string { return fmt.Sprintf("invalid tool: %s", e.Reason) }

// DynamicParams carries the per-request overrides to a function's
// configured tool set. allowed_tools, when nil, means "use the function's
// configured tools" (not "no tools").
type DynamicParams struct {
	AllowedTools      []string
	AdditionalTools   []Tool
	ToolChoice        *content.ToolChoice
	ParallelToolCalls *bool
}

// CallConfig is the resolved per-request tool configuration: the merged
// tools_available list, the effective tool_choice, and parallel_tool_calls.
type CallConfig struct {
	ToolsAvailable    []*Config
	ToolChoice        content.ToolChoice
	ParallelToolCalls *bool
}

// Registry holds the function-level static tool table (populated at config
// load) and builds a per-request CallConfig.
type Registry struct {
	static map[string]*Config
}

// NewRegistry constructs an empty registry; use Register to add static
// tools at config-load time.
func NewRegistry() *Registry {
	return &Registry{static: make(map[string]*Config)}
}

// Register adds a config-loaded static tool, compiling its schema eagerly.
func (r *Registry) Register(name, description string, parameters json.RawMessage, strict bool) error {
	cfg, err := NewStatic(name, description, parameters, strict)
	if err != nil {
		return err
	}
	r.static[name] = cfg
	return nil
}

// BuildConfig merges a function's configured tools with per-request dynamic
// tool params, mirroring ToolCallConfig::new: allowed_tools defaults to
// function_tools; each allowed name must resolve in the static table
// (dynamic additions are appended separately and are not looked up by
// name); a specific tool_choice must name a tool present after
// merging; an empty merged list yields (nil, nil) rather than an empty
// config.
func (r *Registry) BuildConfig(
	functionTools []string,
	functionChoice content.ToolChoice,
	functionParallel *bool,
	dynamic DynamicParams,
) (*CallConfig, error) {
	allowed := functionTools
	if dynamic.AllowedTools != nil {
		allowed = dynamic.AllowedTools
	}

	toolsAvailable := make([]*Config, 0, len(allowed)+len(dynamic.AdditionalTools))
	for _, name := range allowed {
		cfg, ok := r.static[name]
		if !ok {
			return nil, ErrToolNotFound{Name: name}
		}
		toolsAvailable = append(toolsAvailable, cfg)
	}

	// Kick off dynamic schema compilation now so it overlaps the model call.
	for _, t := range dynamic.AdditionalTools {
		toolsAvailable = append(toolsAvailable, NewDynamic(t))
	}

	toolChoice := functionChoice
	if dynamic.ToolChoice != nil {
		toolChoice = *dynamic.ToolChoice
	}

	if toolChoice.Mode == content.ToolChoiceSpecific {
		found := false
		for _, cfg := range toolsAvailable {
			if cfg.Name == toolChoice.Specific {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrToolNotFound{Name: toolChoice.Specific}
		}
	}

	parallel := dynamic.ParallelToolCalls
	if parallel == nil {
		parallel = functionParallel
	}

	if len(toolsAvailable) == 0 {
		return nil, nil
	}
	return &CallConfig{ToolsAvailable: toolsAvailable, ToolChoice: toolChoice, ParallelToolCalls: parallel}, nil
}

// CallOutput is the result of validating one model-issued tool call against
// a CallConfig.
type CallOutput struct {
	Name           string
	RawArguments   string
	ParsedName     *string
	ParsedArguments json.RawMessage
}

// ValidateCall looks up the named tool in config and attempts to parse
// rawArgs against its schema. An unknown tool name yields ParsedName=nil,
// ParsedArguments=nil (not an error: the raw call is still recorded).
// A known tool whose arguments fail schema validation yields
// ParsedArguments=nil but preserves RawArguments, also not an error — only a
// malformed *schema* (compile failure) is reported as ErrInvalidTool.
func ValidateCall(name, rawArgs string, cfg *CallConfig) (CallOutput, error) {
	out := CallOutput{Name: name, RawArguments: rawArgs}
	if cfg == nil {
		return out, nil
	}
	var tool *Config
	for _, t := range cfg.ToolsAvailable {
		if t.Name == name {
			tool = t
			break
		}
	}
	if tool == nil {
		return out, nil
	}
	n := tool.Name
	out.ParsedName = &n

	schema, err := tool.CompiledSchema()
	if err != nil {
		return out, ErrInvalidTool{Reason: fmt.Sprintf("tool %q schema: %v", name, err)}
	}
	if schema == nil {
		out.ParsedArguments = json.RawMessage(rawArgs)
		return out, nil
	}

	var v interface{}
	if err := json.Unmarshal([]byte(rawArgs), &v); err != nil {
		return out, nil // malformed JSON arguments: not parsed, not fatal
	}
	if err := schema.Validate(v); err != nil {
		return out, nil // schema violation: not parsed, not fatal
	}
	out.ParsedArguments = json.RawMessage(rawArgs)
	return out, nil
}

// Partition re-derives allowed_tools/additional_tools from a flat persisted
// tool list, given the current function's static tool names. This is the
// read-path partitioning described for datapoint persistence: a datapoint
// stores all tools in one list; names present in the function's static set
// become allowed_tools, the rest become additional_tools.
func Partition(all []Tool, staticNames map[string]struct{}) (allowed []string, additional []Tool) {
	for _, t := range all {
		if _, ok := staticNames[t.Name]; ok {
			allowed = append(allowed, t.Name)
		} else {
			additional = append(additional, t)
		}
	}
	return allowed, additional
}
