package logging

import (
	"testing"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zapcore.Field{Key: "token", Type: zapcore.StringType, String: "s3cr3t"},
		zapcore.Field{Key: "header", Type: zapcore.StringType, String: "Bearer abc.def"},
		zapcore.Field{Key: "task", Type: zapcore.StringType, String: "t-1"},
	)

	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, `"header":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"task":"t-1"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)

	out := encode(t, enc, zapcore.Field{Key: "token", Type: zapcore.StringType, String: "visible"})
	assert.Contains(t, out, "visible")
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("nats_token", config.Secret("abcdef"))
	assert.Equal(t, "[REDACTED:6]", f.String)
}
