package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/user/magpie/internal/types"
	"github.com/user/magpie/pkg/llm"
)

// Tool defines the interface for an executable agent tool.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the tool's JSON schema; arguments are validated
	// against it before Execute is called.
	Parameters() json.RawMessage
	// StepType classifies this tool's ledger steps.
	StepType() types.StepType
	Execute(ctx context.Context, call *ToolCall) (string, error)
}

// ToolCall carries one invocation's arguments plus the run-scoped
// facilities a tool may use, such as the step recorder for logging
// routing decisions. A tool that touches a contact sets ContactID so the
// ledger step links to the record.
type ToolCall struct {
	RunID    types.RunID
	Args     json.RawMessage
	Recorder *Recorder

	ContactID types.ContactID
}

// Skip is returned by a tool when it declined to act, such as a duplicate
// contact. The step is recorded as skipped rather than failed, and Result
// is fed back to the model.
type Skip struct {
	Reason string
	Result string
}

func (s *Skip) Error() string {
	return "skipped: " + s.Reason
}

// Bind unmarshals the call's arguments into params.
func (c *ToolCall) Bind(params any) error {
	if err := json.Unmarshal(c.Args, params); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	return nil
}

// Registry holds registered tools and provides lookup and argument
// validation.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool to the registry, compiling its parameter schema.
// An invalid schema is a programming error and panics at wiring time.
func (r *Registry) Register(t Tool) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Parameters()))
	if err != nil {
		panic(fmt.Sprintf("tool %s has invalid parameter schema: %v", t.Name(), err))
	}
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// ValidateArgs checks raw arguments against the named tool's schema and
// returns a descriptive error when they don't conform.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("validate args for %s: %w", name, err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid args for %s: %v", name, result.Errors())
	}
	return nil
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
