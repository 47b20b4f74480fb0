package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Argument limits guarding against runaway payloads.
const (
	// MaxToolNameLength caps tool names.
	MaxToolNameLength = 256

	// MaxToolArgsSize caps the argument JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Registry holds the tools available to a world's agents. Lookup and
// registration are safe for concurrent use. Arguments are validated
// against each tool's JSON Schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemas, tool.Name())
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	return out
}

// Execute validates args against the tool's schema and runs it. Unknown
// tools and invalid arguments come back as error results so the model
// can recover; only infrastructure failures return an error.
func (r *Registry) Execute(ctx context.Context, name string, inv *Invocation) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return errorResult(fmt.Sprintf("tool name exceeds %d characters", MaxToolNameLength)), nil
	}
	if len(inv.Args) > MaxToolArgsSize {
		return errorResult(fmt.Sprintf("tool arguments exceed %d bytes", MaxToolArgsSize)), nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	if err := r.validateArgs(tool, inv.Args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
	}

	return tool.Execute(ctx, inv)
}

// validateArgs checks args against the tool's compiled schema, compiling
// and caching it on first use.
func (r *Registry) validateArgs(tool Tool, args json.RawMessage) error {
	schema, err := r.compiledSchema(tool)
	if err != nil {
		// An uncompilable schema disables validation rather than the tool.
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}

func (r *Registry) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	r.mu.RLock()
	schema, ok := r.schemas[tool.Name()]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "tool://" + tool.Name() + "/schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[tool.Name()] = schema
	r.mu.Unlock()
	return schema, nil
}
