package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  embeddings:
    name: openai
    model: text-embedding-3-small
database:
  postgres_dsn: "postgres://localhost/copilot"
rag:
  top_k: 5
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  embeddings:
    name: openai
    model: text-embedding-3-small
database:
  postgres_dsn: "postgres://localhost/copilot"
rag:
  top_k: 8
  include_docs: true
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func noEnv(string) string { return "" }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// change records onChange calls.
type change struct{ old, new *config.Config }

// newWatcher starts a watcher that never ticks on its own; tests drive it
// with Check.
func newWatcher(t *testing.T, content string, opts ...config.WatcherOption) (*config.Watcher, string, *[]change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	var calls []change
	opts = append([]config.WatcherOption{config.WithInterval(time.Hour), config.WithGetenv(noEnv)}, opts...)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		calls = append(calls, change{old, new})
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, &calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil || cfg.Server.LogLevel != config.LogInfo || cfg.RAG.TopK != 5 {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil, config.WithGetenv(noEnv)); err == nil {
		t.Fatal("expected error for an invalid file")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rewrite   string
		wantCalls int
		wantLevel config.LogLevel
	}{
		{name: "unchanged", rewrite: watcherValidYAML, wantCalls: 0, wantLevel: config.LogInfo},
		{name: "comment only", rewrite: "# tuned for the night shift\n" + watcherValidYAML, wantCalls: 0, wantLevel: config.LogInfo},
		{name: "live change", rewrite: watcherUpdatedYAML, wantCalls: 1, wantLevel: config.LogDebug},
		{name: "invalid keeps previous", rewrite: watcherInvalidYAML, wantCalls: 0, wantLevel: config.LogInfo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w, path, calls := newWatcher(t, watcherValidYAML)

			writeFile(t, path, tc.rewrite)
			w.Check()

			if len(*calls) != tc.wantCalls {
				t.Fatalf("onChange called %d times, want %d", len(*calls), tc.wantCalls)
			}
			if got := w.Current().Server.LogLevel; got != tc.wantLevel {
				t.Errorf("Current() log_level = %q, want %q", got, tc.wantLevel)
			}
			if tc.wantCalls == 0 {
				return
			}
			c := (*calls)[0]
			if c.old.Server.LogLevel != config.LogInfo || c.new.RAG.TopK != 8 || !c.new.RAG.IncludeDocs {
				t.Errorf("change = old %+v, new %+v", c.old.RAG, c.new.RAG)
			}
			if d := config.Diff(c.old, c.new); !d.RAGChanged || len(d.RestartRequired) != 0 {
				t.Errorf("diff = %+v, want a live rag change only", d)
			}
		})
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, path, calls := newWatcher(t, watcherValidYAML)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	w.Check()
	if len(*calls) != 0 {
		t.Errorf("touch fired onChange %d times", len(*calls))
	}
}

func TestWatcher_WithFile(t *testing.T) {
	t.Parallel()
	lexPath := filepath.Join(t.TempDir(), "keywords.yaml")
	writeFile(t, lexPath, "card_names: [나라사랑카드]\n")

	reloads := 0
	w, _, _ := newWatcher(t, watcherValidYAML, config.WithFile(lexPath, func() { reloads++ }))

	w.Check()
	if reloads != 0 {
		t.Fatalf("unchanged lexicon fired %d reloads", reloads)
	}

	writeFile(t, lexPath, "card_names: [나라사랑카드, K-패스]\n")
	w.Check()
	w.Check()
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}

	if err := os.Remove(lexPath); err != nil {
		t.Fatal(err)
	}
	w.Check()
	if reloads != 1 {
		t.Errorf("missing lexicon fired a reload")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)
	w.Stop()
	w.Stop()
}
