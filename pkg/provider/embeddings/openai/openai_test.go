package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		requested int
		want      int
	}{
		{"text-embedding-3-small", 0, 1536},
		{"text-embedding-3-large", 0, 3072},
		{"text-embedding-3-large", 1536, 1536},
		{"text-embedding-ada-002", 0, 1536},
		{"some-future-model", 0, 1536},
	}
	for _, tt := range tests {
		p := &Provider{model: tt.model, dimensions: tt.requested}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("%s/%d: Dimensions() = %d, want %d", tt.model, tt.requested, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("sk-test", "", WithBaseURL("https://custom.example.com"), WithOrganization("org-1"), WithTimeout(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestEmbed_BlankInputRejectedLocally(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Embed blank: err = %v, want ErrEmptyInput", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"ok", ""}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("EmbedBatch blank: err = %v, want ErrEmptyInput", err)
	}
	if v, err := p.EmbedBatch(context.Background(), nil); v != nil || err != nil {
		t.Errorf("EmbedBatch nil = %v, %v", v, err)
	}
}

// embedAPI answers embeddings requests with one vector per input, each
// holding the input's position, listed in reverse order.
func embedAPI(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var dims atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input      json.RawMessage `json:"input"`
			Dimensions int64           `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dims.Store(body.Dimensions)

		var inputs []string
		if err := json.Unmarshal(body.Input, &inputs); err != nil {
			var one string
			if err := json.Unmarshal(body.Input, &one); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{one}
		}
		data := make([]map[string]any, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float64{float64(i), 0.5}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &dims
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv, dims := embedAPI(t)
	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.EmbedBatch(context.Background(), []string{"카드 분실", "재발급", "한도 조회"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d vectors, want 3", len(out))
	}
	for i, v := range out {
		if v[0] != float32(i) {
			t.Errorf("vector %d carries index %v", i, v[0])
		}
	}
	if dims.Load() != 0 {
		t.Errorf("dimensions sent without WithDimensions: %d", dims.Load())
	}
}

func TestEmbed_RequestsDimensions(t *testing.T) {
	t.Parallel()

	srv, dims := embedAPI(t)
	p, err := New("sk-test", "text-embedding-3-large", WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()), WithDimensions(1536))
	if err != nil {
		t.Fatal(err)
	}
	v, err := p.Embed(context.Background(), "나라사랑카드")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || v[1] != 0.5 {
		t.Errorf("Embed = %v", v)
	}
	if dims.Load() != 1536 {
		t.Errorf("dimensions = %d, want 1536", dims.Load())
	}
	if p.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d", p.Dimensions())
	}
}

func TestToFloat32(t *testing.T) {
	t.Parallel()

	out := toFloat32([]float64{1, 2.5, -0.5})
	want := []float32{1, 2.5, -0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], want[i])
		}
	}
}
