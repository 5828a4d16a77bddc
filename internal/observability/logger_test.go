package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	return fields
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithComponent(WithCorrelationID(WithSession(base, "s-1"), "c-1"), "transport")
	logger.Info().Msg("hello")

	fields := decodeLine(t, &buf)
	assert.Equal(t, "s-1", fields["session_id"])
	assert.Equal(t, "c-1", fields["correlation_id"])
	assert.Equal(t, "transport", fields["component"])
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := WithCorrelationID(zerolog.New(&buf), "")
	logger.Info().Msg("hello")

	id, ok := decodeLine(t, &buf)["correlation_id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}
