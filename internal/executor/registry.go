package executor

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the ToolDescriptors the executor validates CallTool
// arguments against before invoking ToolInvoker. Compiled schemas are
// cached by raw schema text, mirroring the teacher's plugin-config
// validator.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]ToolDescriptor
	schemaCache sync.Map
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]ToolDescriptor)}
}

// Register adds or replaces a tool descriptor.
func (r *Registry) Register(d ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
}

// Lookup returns the descriptor for name, if registered.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Validate checks args (a JSON document) against the named tool's
// ParametersSchema. A tool with no registered descriptor, or a
// descriptor with no schema, is considered unconstrained and always
// passes — the core has no opinion on tools it doesn't know about.
func (r *Registry) Validate(name string, args []byte) error {
	d, ok := r.Lookup(name)
	if !ok || len(d.ParametersSchema) == 0 {
		return nil
	}
	schema, err := r.compile(name, d.ParametersSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", name, err)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode arguments for %q: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %q invalid: %w", name, err)
	}
	return nil
}

func (r *Registry) compile(name string, raw []byte) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	if cached, ok := r.schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	r.schemaCache.Store(key, compiled)
	return compiled, nil
}
