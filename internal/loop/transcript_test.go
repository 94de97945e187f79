package loop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTranscript = `
task_id: demo
actors:
  - name: writer
    turns:
      - content: "Plan:\n1. outline"
        delay: 10ms
      - content: "final draft"
        artifacts:
          - name: report.md
            content: "# Report"
  - name: reviewer
    turns:
      - content: '{"score": 60}'
      - content: '{"score": 95}'
`

func TestParseTranscript(t *testing.T) {
	tr, err := ParseTranscript([]byte(sampleTranscript))
	require.NoError(t, err)

	assert.Equal(t, "demo", tr.TaskID)
	require.Len(t, tr.Actors, 2)
	assert.Equal(t, "writer", tr.Actors[0].Name)
	assert.Equal(t, 10*time.Millisecond, tr.Actors[0].Turns[0].Delay.Duration())
	require.Len(t, tr.Actors[0].Turns[1].Artifacts, 1)
	assert.Equal(t, "report.md", tr.Actors[0].Turns[1].Artifacts[0].Name)
}

func TestParseTranscript_JSON(t *testing.T) {
	tr, err := ParseTranscript([]byte(`{"actors":[{"name":"a","turns":[{"content":"hi","delay":"5ms"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, tr.Actors[0].Turns[0].Delay.Duration())
}

func TestParseTranscript_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "  ", wantErr: "empty"},
		{name: "no actors", input: "actors: []", wantErr: "at least one actor"},
		{name: "unnamed actor", input: "actors:\n  - turns: []", wantErr: "has no name"},
		{name: "duplicate", input: "actors:\n  - name: a\n  - name: a", wantErr: "duplicate"},
		{name: "artifact without source", input: "actors:\n  - name: a\n    turns:\n      - content: x\n        artifacts:\n          - name: f", wantErr: "path or content"},
		{name: "bad yaml", input: "actors: [", wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTranscript([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTranscript_InlineOnly(t *testing.T) {
	tr, err := ParseTranscript([]byte(sampleTranscript))
	require.NoError(t, err)
	require.NoError(t, tr.InlineOnly())

	tr.Actors[0].Turns[1].Artifacts = append(tr.Actors[0].Turns[1].Artifacts,
		ScriptedArtifact{Name: "passwd", Path: "/etc/passwd"})
	err = tr.InlineOnly()
	require.ErrorIs(t, err, ErrArtifactPath)
	assert.Contains(t, err.Error(), "passwd")
}

func TestLoadTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTranscript), 0o600))

	tr, err := LoadTranscript(path)
	require.NoError(t, err)
	assert.Len(t, tr.Actors, 2)

	_, err = LoadTranscript(dir)
	assert.Error(t, err)

	_, err = LoadTranscript(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
