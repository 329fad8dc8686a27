package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

type entry struct {
	exec   Executor
	schema *jsonschema.Schema // optional options constraint
}

// Registry maps job types to executors. An executor may carry a JSON-Schema
// for its options; submissions with non-conforming options are rejected up
// front rather than failing task by task.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds an executor to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jobType] = entry{exec: exec}
}

// RegisterWithSchema binds an executor together with a JSON-Schema (draft
// 2020-12) constraining its options map.
func (r *Registry) RegisterWithSchema(jobType string, exec Executor, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add options schema for %s: %w", jobType, err)
	}
	schema, err := compiler.Compile("options.json")
	if err != nil {
		return fmt.Errorf("compile options schema for %s: %w", jobType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jobType] = entry{exec: exec, schema: schema}
	return nil
}

// Lookup returns the executor bound to jobType.
func (r *Registry) Lookup(jobType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobType]
	return e.exec, ok
}

// JobTypes returns all registered job types.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for jt := range r.entries {
		out = append(out, jt)
	}
	return out
}

// ValidateOptions checks options against the job type's schema, if one was
// registered. Unknown job types fail with ErrUnknownJobType.
func (r *Registry) ValidateOptions(jobType string, options map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[jobType]
	r.mu.RUnlock()
	if !ok {
		return common.ErrUnknownJobType
	}
	if e.schema == nil {
		return nil
	}

	// Round-trip through JSON so schema validation sees plain types.
	b, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal options: %w", err)
	}
	if err := e.schema.Validate(v); err != nil {
		return common.NewAppError("OPTIONS_INVALID", "options do not match schema for "+jobType, err)
	}
	return nil
}
