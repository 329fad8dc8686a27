package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate is the built-in "validation" executor: it reads a JSON document
// and validates it against the schema carried in the job options under
// "schema". The payload reports validity plus the first validation error.
type Validate struct {
	logger *slog.Logger
}

func NewValidate(logger *slog.Logger) *Validate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validate{logger: logger}
}

func (e *Validate) Execute(ctx context.Context, documentRef string, options map[string]any) ([]byte, error) {
	raw, ok := options["schema"]
	if !ok {
		return nil, Permanent(fmt.Errorf("validation job options missing %q", "schema"))
	}
	schemaJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal schema: %w", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, Permanent(fmt.Errorf("add schema: %w", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, Permanent(fmt.Errorf("compile schema: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(documentRef)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, Permanent(fmt.Errorf("document is not valid JSON: %w", err))
	}

	payload := map[string]any{"valid": true}
	if err := schema.Validate(v); err != nil {
		payload["valid"] = false
		payload["violation"] = err.Error()
	}
	e.logger.Debug("validate.exec.ok", "document", documentRef, "valid", payload["valid"])
	return json.Marshal(payload)
}
