// Package tools implements the tool registry and concurrent executor: the
// tool-calling state machine's capability store and dispatch contract.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tauagent/tau/internal/models"
)

// Handler executes one tool call's arguments and returns a structured
// result. It must never be relied on not to panic; the registry converts a
// handler panic into an error result (see Execute).
type Handler func(ctx context.Context, args json.RawMessage) models.ToolExecutionResult

// tool pairs a definition with its handler and compiled argument schema.
type tool struct {
	def     models.ToolDefinition
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds named tool capabilities with JSON-schema parameters and
// dispatches validated calls to their handlers.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool)}
}

// Register stores a tool keyed by its name; last write wins for a name
// already present, and its position in registration order is preserved in
// place (does not move to the end).
func (r *Registry) Register(def models.ToolDefinition, handler Handler) error {
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = tool{def: def, handler: handler, schema: schema}
	return nil
}

// Unregister removes a tool by name. It is a no-op if the name is unknown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Definitions returns all tool descriptors in registration order, for
// inclusion in a ChatRequest.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Execute finds the tool by name, validates the call's arguments against its
// declared schema, and dispatches to its handler. Unknown tool name or
// schema-invalid arguments synthesize an error result without invoking the
// handler. A handler panic is converted to an error result rather than
// propagated.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) (result models.ToolExecutionResult) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return models.ErrorResult(models.ReasonUnknownTool, "no tool registered with name "+call.Name)
	}

	if t.schema != nil {
		var v any
		if err := json.Unmarshal(call.Arguments, &v); err != nil {
			return models.ErrorResult(models.ReasonSchemaInvalid, "arguments are not valid JSON: "+err.Error())
		}
		if err := t.schema.Validate(v); err != nil {
			return models.ErrorResult(models.ReasonSchemaInvalid, err.Error())
		}
	}

	defer func() {
		if p := recover(); p != nil {
			result = models.ErrorResult(models.ReasonHandlerPanicked, panicMessage(p))
		}
	}()
	return t.handler(ctx, call.Arguments)
}

func panicMessage(p any) string {
	if err, ok := p.(error); ok {
		return err.Error()
	}
	if s, ok := p.(string); ok {
		return s
	}
	return "tool handler panicked"
}

func compileSchema(name string, parameters json.RawMessage) (*jsonschema.Schema, error) {
	if len(parameters) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytesReader(parameters)); err != nil {
		return nil, err
	}
	return compiler.Compile(name + ".json")
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
