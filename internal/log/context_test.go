package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = ContextWithSessionID(ctx, "sess-1")
	ctx = ContextWithItemID(ctx, "item-42")

	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "item-42", ItemIDFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(context.Background()))
	assert.Empty(t, ItemIDFromContext(context.Background()))
	assert.Empty(t, SessionIDFromContext(nil)) //nolint:staticcheck // nil guard is part of the contract
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithSessionID(context.Background(), "sess-9")
	ctx = ContextWithItemID(ctx, "item-9")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-9", entry[FieldSessionID])
	assert.Equal(t, "item-9", entry[FieldItemID])
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasSession := entry[FieldSessionID]
	assert.False(t, hasSession)
}
