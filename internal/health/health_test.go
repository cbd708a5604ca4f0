package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func down(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "database", Check: down("refused")})

	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of checks", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all up",
			checkers:   []Checker{Ping("database", pinger{}), Soft(Ping("redis", pinger{}))},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name:       "redis down degrades",
			checkers:   []Checker{Ping("database", pinger{}), Soft(Ping("redis", pinger{errors.New("i/o timeout")}))},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"database": "ok", "redis": "degraded: i/o timeout"},
		},
		{
			name: "database down fails",
			checkers: []Checker{
				Ping("database", pinger{errors.New("connection refused")}),
				Soft(Checker{Name: "llm", Check: down("all circuits open")}),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"database": "fail: connection refused", "llm": "degraded: all circuits open"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			var rep Report
			if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if rep.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if rep.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, rep.Checks[name], want)
				}
			}
		})
	}
}

func TestEvaluate_RunsConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	rep := h.Evaluate(context.Background())
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Evaluate took %v, checks did not overlap", elapsed)
	}
	if rep.Status != StatusOK || len(rep.Checks) != 3 {
		t.Errorf("report = %+v", rep)
	}
}

func TestEvaluate_CancelledContextFailsChecks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := New(Checker{Name: "database", Check: func(ctx context.Context) error { return ctx.Err() }}).Evaluate(ctx)
	if rep.Status != StatusFail || !strings.Contains(rep.Checks["database"], "canceled") {
		t.Errorf("report = %+v", rep)
	}
}

func TestSoft(t *testing.T) {
	t.Parallel()
	c := Checker{Name: "redis", Check: ok}
	if Soft(c).Optional != true || c.Optional {
		t.Error("Soft should return an optional copy")
	}
}
