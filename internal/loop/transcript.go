package loop

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxTranscriptSize bounds transcript files and request bodies.
const maxTranscriptSize = 1024 * 1024

// Transcript describes a scripted task.
type Transcript struct {
	TaskID string            `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Actors []TranscriptActor `json:"actors" yaml:"actors"`
}

// TranscriptActor is one participant and its turns.
type TranscriptActor struct {
	Name  string         `json:"name" yaml:"name"`
	Turns []ScriptedTurn `json:"turns" yaml:"turns"`
}

// ScriptedTurn is one replayed message.
type ScriptedTurn struct {
	Content   string             `json:"content" yaml:"content"`
	Delay     config.Duration    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Artifacts []ScriptedArtifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// ScriptedArtifact references a file, or carries its content inline.
type ScriptedArtifact struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Content     string `json:"content,omitempty" yaml:"content,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

// Validate checks the transcript is runnable.
func (t Transcript) Validate() error {
	if len(t.Actors) == 0 {
		return errors.New("transcript: at least one actor is required")
	}
	seen := make(map[string]bool, len(t.Actors))
	for i, a := range t.Actors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("transcript: actor %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("transcript: duplicate actor %q", name)
		}
		seen[name] = true
		for j, turn := range a.Turns {
			for _, art := range turn.Artifacts {
				if art.Name == "" {
					return fmt.Errorf("transcript: actor %q turn %d has an unnamed artifact", name, j)
				}
				if art.Path == "" && art.Content == "" {
					return fmt.Errorf("transcript: artifact %q needs a path or content", art.Name)
				}
			}
		}
	}
	return nil
}

// ErrArtifactPath is returned by InlineOnly for artifacts that reference a
// file on the host.
var ErrArtifactPath = errors.New("transcript: artifact paths are not accepted here")

// InlineOnly rejects transcripts whose artifacts reference host files.
// Transcripts received from remote clients must carry artifact content inline.
func (t Transcript) InlineOnly() error {
	for _, a := range t.Actors {
		for _, turn := range a.Turns {
			for _, art := range turn.Artifacts {
				if art.Path != "" {
					return fmt.Errorf("%w: %q", ErrArtifactPath, art.Name)
				}
			}
		}
	}
	return nil
}

// GroupChat builds a chat of scripted actors. Inline artifacts are written
// below workDir.
func (t Transcript) GroupChat(workDir string, logger *zap.Logger) *GroupChat {
	actors := make([]Actor, 0, len(t.Actors))
	for _, a := range t.Actors {
		actors = append(actors, NewScriptedActor(a.Name, a.Turns, workDir))
	}
	return NewGroupChat(logger, actors...)
}

// ParseTranscript decodes and validates a YAML transcript. JSON is valid YAML,
// so request bodies go through here as well.
func ParseTranscript(data []byte) (Transcript, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Transcript{}, errors.New("transcript: payload is empty")
	}
	if len(data) > maxTranscriptSize {
		return Transcript{}, fmt.Errorf("transcript: payload exceeds %d bytes", maxTranscriptSize)
	}
	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("transcript: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

// LoadTranscript reads a transcript file.
func LoadTranscript(path string) (Transcript, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Transcript{}, fmt.Errorf("transcript: %s is a directory", path)
	}
	if info.Size() > maxTranscriptSize {
		return Transcript{}, fmt.Errorf("transcript: %s exceeds %d bytes", path, maxTranscriptSize)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	t, err := ParseTranscript(data)
	if err != nil {
		return Transcript{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
