package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/health"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/pipeline"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/server"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
)

// fakeRAG echoes the query as the guidance script.
type fakeRAG struct {
	mu       sync.Mutex
	requests []pipeline.Request
	ended    []string
	err      error
}

func (f *fakeRAG) Run(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return pipeline.Response{}, f.err
	}
	if strings.TrimSpace(req.Query) == "" {
		return pipeline.Response{}, pipeline.ErrEmptyQuery
	}
	return pipeline.Response{
		GuidanceScript: req.Query,
		GuideScript:    pipeline.GuideScript{Message: req.Query},
		Routing:        router.Decision{Route: router.RouteCardUsage, ShouldSearch: true},
	}, nil
}

func (f *fakeRAG) EndSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "unknown" {
		return session.ErrNotFound
	}
	f.ended = append(f.ended, id)
	return nil
}

func (f *fakeRAG) snapshot() ([]pipeline.Request, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.requests...), append([]string(nil), f.ended...)
}

func TestHandleRAG(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantScript string
	}{
		{name: "ok", body: `{"session_id":"call-1","query":"나라사랑 분실","include_docs":true}`, wantStatus: http.StatusOK, wantScript: "나라사랑 분실"},
		{name: "empty query", body: `{"query":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{"query":`, wantStatus: http.StatusBadRequest},
		{name: "internal", body: `{"query":"x"}`, err: errors.New("pipeline: retrieve: corpus: unknown scope filter"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rag := &fakeRAG{err: tc.err}
			h := server.New(rag).Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rag", strings.NewReader(tc.body)))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.wantStatus != http.StatusOK {
				if strings.Contains(rec.Body.String(), "unknown scope") {
					t.Errorf("internal detail leaked: %s", rec.Body)
				}
				return
			}
			var resp pipeline.Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.GuidanceScript != tc.wantScript {
				t.Errorf("guidanceScript = %q, want %q", resp.GuidanceScript, tc.wantScript)
			}
			reqs, _ := rag.snapshot()
			if len(reqs) != 1 || reqs[0].SessionID != "call-1" || reqs[0].IncludeDocs == nil || !*reqs[0].IncludeDocs {
				t.Errorf("pipeline request = %+v", reqs)
			}
			if rec.Header().Get("X-Session-ID") != "call-1" {
				t.Errorf("X-Session-ID = %q", rec.Header().Get("X-Session-ID"))
			}
		})
	}
}

func TestHandleRAG_GeneratesSessionID(t *testing.T) {
	t.Parallel()
	rag := &fakeRAG{}
	h := server.New(rag).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rag", strings.NewReader(`{"query":"애플페이 등록"}`)))

	reqs, _ := rag.snapshot()
	if len(reqs) != 1 || reqs[0].SessionID == "" {
		t.Fatalf("pipeline request = %+v", reqs)
	}
	if rec.Header().Get("X-Session-ID") != reqs[0].SessionID {
		t.Errorf("X-Session-ID = %q, want %q", rec.Header().Get("X-Session-ID"), reqs[0].SessionID)
	}
}

func TestHandleEndSession(t *testing.T) {
	t.Parallel()
	rag := &fakeRAG{}
	h := server.New(rag).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/call-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	if _, ended := rag.snapshot(); len(ended) != 1 || ended[0] != "call-1" {
		t.Errorf("ended = %v", ended)
	}
}

func TestHealthMounted(t *testing.T) {
	t.Parallel()
	h := server.New(&fakeRAG{}, server.WithHealth(health.New())).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	rag := &fakeRAG{}
	srv := httptest.NewServer(server.New(rag).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?session_id=call-7"
	conn, httpResp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := httpResp.Header.Get("X-Session-ID"); got != "call-7" {
		t.Errorf("X-Session-ID = %q", got)
	}

	utterances := []string{"나라사랑 잃어버렸어요", `{"query":"애플페이 등록이 안돼요","include_docs":true}`}
	wantScripts := []string{"나라사랑 잃어버렸어요", "애플페이 등록이 안돼요"}
	for i, u := range utterances {
		if err := conn.Write(ctx, websocket.MessageText, []byte(u)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var resp pipeline.Response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.GuidanceScript != wantScripts[i] {
			t.Errorf("frame %d script = %q, want %q", i, resp.GuidanceScript, wantScripts[i])
		}
	}
	conn.Close(websocket.StatusNormalClosure, "bye")

	// The session ends when the stream closes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		reqs, ended := rag.snapshot()
		if len(ended) == 1 {
			if ended[0] != "call-7" {
				t.Errorf("ended = %v", ended)
			}
			if len(reqs) != 2 || reqs[0].SessionID != "call-7" || reqs[1].IncludeDocs == nil {
				t.Errorf("requests = %+v", reqs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not ended after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
