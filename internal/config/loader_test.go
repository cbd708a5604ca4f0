package config_test

import (
	"strings"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "empty config misses required fields",
			yaml:    ``,
			wantErr: []string{"providers.llm.name", "providers.embeddings.name", "database.postgres_dsn"},
		},
		{
			name:    "invalid log level",
			yaml:    minimalYAML + "server:\n  log_level: verbose\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "tls without key",
			yaml:    minimalYAML + "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "invalid retrieve mode",
			yaml:    minimalYAML + "rag:\n  retrieve_mode: sparse\n",
			wantErr: []string{"rag.retrieve_mode"},
		},
		{
			name:    "top_k out of range",
			yaml:    minimalYAML + "rag:\n  top_k: 500\n",
			wantErr: []string{"rag.top_k"},
		},
		{
			name:    "negative ttl",
			yaml:    minimalYAML + "rag:\n  card_cache_ttl: -1\n",
			wantErr: []string{"rag.card_cache_ttl"},
		},
		{
			name:    "negative durations",
			yaml:    minimalYAML + "session:\n  idle_timeout: -1m\nlexicon:\n  reload_interval: -5s\n",
			wantErr: []string{"session.idle_timeout", "lexicon.reload_interval"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(minimalYAML, "name: openai\n    model", "name: my-gateway\n    model", 1)
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Errorf("unknown provider name should not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known provider names for %q", kind)
		}
	}
}
