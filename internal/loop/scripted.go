package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
)

// ScriptedActor replays a fixed list of turns.
type ScriptedActor struct {
	name    string
	turns   []ScriptedTurn
	workDir string

	mu   sync.Mutex
	next int
}

// NewScriptedActor creates an actor that answers with turns in order.
// Artifacts with inline content are written below workDir when emitted.
func NewScriptedActor(name string, turns []ScriptedTurn, workDir string) *ScriptedActor {
	return &ScriptedActor{name: name, turns: turns, workDir: workDir}
}

func (a *ScriptedActor) Name() string { return a.name }

// Respond returns the next scripted turn after its delay.
func (a *ScriptedActor) Respond(ctx context.Context, _ []termination.Message) (Turn, error) {
	a.mu.Lock()
	if a.next >= len(a.turns) {
		a.mu.Unlock()
		return Turn{}, ErrActorExhausted
	}
	st := a.turns[a.next]
	a.next++
	a.mu.Unlock()

	if d := st.Delay.Duration(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Turn{}, ctx.Err()
		case <-timer.C:
		}
	}

	turn := Turn{Content: st.Content}
	for _, art := range st.Artifacts {
		local, err := a.materialize(art)
		if err != nil {
			return Turn{}, err
		}
		turn.Artifacts = append(turn.Artifacts, local)
	}
	return turn, nil
}

// materialize writes inline artifact content to disk.
func (a *ScriptedActor) materialize(art ScriptedArtifact) (orchestrator.LocalArtifact, error) {
	local := orchestrator.LocalArtifact{Name: art.Name, Path: art.Path, ContentType: art.ContentType}
	if art.Content == "" || art.Path != "" {
		return local, nil
	}
	if a.workDir == "" {
		return local, fmt.Errorf("artifact %s has inline content but no work directory", art.Name)
	}
	if err := os.MkdirAll(a.workDir, 0o700); err != nil {
		return local, fmt.Errorf("create work dir: %w", err)
	}
	local.Path = filepath.Join(a.workDir, filepath.Base(art.Name))
	if err := os.WriteFile(local.Path, []byte(art.Content), 0o600); err != nil {
		return local, fmt.Errorf("write artifact %s: %w", art.Name, err)
	}
	return local, nil
}
