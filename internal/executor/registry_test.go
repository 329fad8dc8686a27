package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

func noop(_ context.Context, _ string, _ map[string]any) ([]byte, error) {
	return []byte(`{}`), nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("ocr", Func(noop))

	_, ok := r.Lookup("ocr")
	assert.True(t, ok)
	_, ok = r.Lookup("nlp")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"ocr"}, r.JobTypes())
}

func TestRegistryValidateOptionsWithoutSchema(t *testing.T) {
	r := NewRegistry()
	r.Register("ocr", Func(noop))

	assert.NoError(t, r.ValidateOptions("ocr", map[string]any{"anything": "goes"}))
	assert.ErrorIs(t, r.ValidateOptions("nlp", nil), common.ErrUnknownJobType)
}

func TestRegistryValidateOptionsAgainstSchema(t *testing.T) {
	r := NewRegistry()
	schema := []byte(`{
		"type": "object",
		"properties": {"language": {"type": "string", "minLength": 2}},
		"additionalProperties": false
	}`)
	require.NoError(t, r.RegisterWithSchema("ocr", Func(noop), schema))

	assert.NoError(t, r.ValidateOptions("ocr", map[string]any{"language": "deu"}))
	assert.NoError(t, r.ValidateOptions("ocr", nil))

	err := r.ValidateOptions("ocr", map[string]any{"language": 42})
	require.Error(t, err)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "OPTIONS_INVALID", appErr.Code)

	assert.Error(t, r.ValidateOptions("ocr", map[string]any{"unknown": true}))
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.RegisterWithSchema("ocr", Func(noop), []byte(`{"type": 17}`)))
}

func TestPermanentClassification(t *testing.T) {
	base := errors.New("bad input")
	assert.False(t, IsPermanent(base))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(errors.Join(errors.New("wrap"), Permanent(base))))
	assert.Nil(t, Permanent(nil))
	assert.ErrorIs(t, Permanent(base), base)
}
