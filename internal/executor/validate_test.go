package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

var personSchema = map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
	},
}

func TestValidateConformingDocument(t *testing.T) {
	e := NewValidate(nil)
	doc := writeDoc(t, `{"name": "ada"}`)

	payload, err := e.Execute(context.Background(), doc, map[string]any{"schema": personSchema})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, true, out["valid"])
	assert.NotContains(t, out, "violation")
}

func TestValidateViolationIsASuccessfulOutcome(t *testing.T) {
	e := NewValidate(nil)
	doc := writeDoc(t, `{"age": 3}`)

	payload, err := e.Execute(context.Background(), doc, map[string]any{"schema": personSchema})
	require.NoError(t, err, "a failed validation is a result, not a task error")

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, false, out["valid"])
	assert.NotEmpty(t, out["violation"])
}

func TestValidatePermanentFailures(t *testing.T) {
	e := NewValidate(nil)
	doc := writeDoc(t, `{"name": "ada"}`)

	_, err := e.Execute(context.Background(), doc, nil)
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "missing schema cannot be fixed by retrying")

	notJSON := writeDoc(t, `<html>`)
	_, err = e.Execute(context.Background(), notJSON, map[string]any{"schema": personSchema})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestValidateMissingFileIsRetryable(t *testing.T) {
	e := NewValidate(nil)
	_, err := e.Execute(context.Background(), "/nonexistent/doc.json", map[string]any{"schema": personSchema})
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "the file may appear after an ingest race")
}
