package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"timebox/internal/auth"
	"timebox/internal/eventbus"
	"timebox/internal/schedule"
	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

// stubSolver places every task in its own hour slot.
type stubSolver struct {
	err error
}

func (s stubSolver) Solve(_ context.Context, tasks []solver.TaskInput) ([]solver.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	out := make([]solver.Result, 0, len(tasks))
	for i, t := range tasks {
		start := base.Add(time.Duration(i) * 4 * time.Hour)
		end := start.Add(time.Duration(t.Duration * float64(time.Hour)))
		out = append(out, solver.Result{
			ID:        t.ID,
			StartTime: &solver.Timestamp{Time: start},
			EndTime:   &solver.Timestamp{Time: end},
		})
	}
	return out, nil
}

func newTestServer(t *testing.T, slv solver.Solver, cfg Config) *Server {
	t.Helper()
	if slv == nil {
		slv = stubSolver{}
	}
	store := storage.NewMemory()
	orch := schedule.NewOrchestrator(store, slv, eventbus.New(), logx.Nop())
	verifier := auth.NewStatic([]auth.Key{
		{Token: "alice-token", Owner: "alice"},
		{Token: "bob-token", Owner: "bob"},
	})
	return NewServer(cfg, orch, verifier, logx.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const addBody = `{"name":"write report","duration":2,"deadline":"2026-09-02T17:00:00Z"}`

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()

	if rec := doJSON(t, h, http.MethodGet, "/schedule", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/schedule", "wrong", ""); rec.Code != http.StatusForbidden {
		t.Errorf("bad token: code = %d, want 403", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/schedule", "alice-token", ""); rec.Code != http.StatusOK {
		t.Errorf("good token: code = %d, want 200", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()
	if rec := doJSON(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}

func TestAddAndList(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", addBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: code = %d, body = %s", rec.Code, rec.Body)
	}
	var resp scheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID == "" {
		t.Error("expected task_id in response")
	}
	if len(resp.Schedule) != 1 || resp.Schedule[0].WindowStart == nil {
		t.Fatalf("schedule = %+v", resp.Schedule)
	}

	// GET never solves and is owner-scoped.
	rec = doJSON(t, h, http.MethodGet, "/schedule", "bob-token", "")
	var bobResp scheduleResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &bobResp)
	if len(bobResp.Schedule) != 0 {
		t.Errorf("bob sees alice's schedule: %+v", bobResp.Schedule)
	}
}

func TestAddValidation(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()

	cases := []struct {
		name string
		body string
	}{
		{"empty name", `{"name":"","duration":2,"deadline":"2026-09-02T17:00:00Z"}`},
		{"zero duration", `{"name":"x","duration":0,"deadline":"2026-09-02T17:00:00Z"}`},
		{"missing deadline", `{"name":"x","duration":2}`},
		{"bad priority", `{"name":"x","duration":2,"deadline":"2026-09-02T17:00:00Z","priority":"urgent"}`},
		{"unknown field", `{"name":"x","duration":2,"deadline":"2026-09-02T17:00:00Z","color":"red"}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
		})
	}
}

func TestEditAndStatusRoutes(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", addBody)
	var resp scheduleResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	id := resp.TaskID

	rec = doJSON(t, h, http.MethodPut, "/schedule/"+id, "alice-token", `{"duration":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: code = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPut, "/schedule/"+id+"/status", "alice-token", `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: code = %d, body = %s", rec.Code, rec.Body)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Schedule) != 1 || resp.Schedule[0].Status != "completed" {
		t.Errorf("schedule = %+v", resp.Schedule)
	}

	if rec = doJSON(t, h, http.MethodPut, "/schedule/"+id+"/status", "alice-token", `{"status":"paused"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: code = %d, want 400", rec.Code)
	}
	if rec = doJSON(t, h, http.MethodPut, "/schedule/"+id, "alice-token", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty edit: code = %d, want 400", rec.Code)
	}
}

func TestNotFoundAndCrossOwner(t *testing.T) {
	h := newTestServer(t, nil, Config{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", addBody)
	var resp scheduleResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	if rec = doJSON(t, h, http.MethodDelete, "/schedule/nope", "alice-token", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: code = %d, want 404", rec.Code)
	}
	// Bob deleting alice's task looks identical to a missing task.
	if rec = doJSON(t, h, http.MethodDelete, "/schedule/"+resp.TaskID, "bob-token", ""); rec.Code != http.StatusNotFound {
		t.Errorf("cross-owner delete: code = %d, want 404", rec.Code)
	}
}

func TestSolverFailureMapsTo500(t *testing.T) {
	h := newTestServer(t, stubSolver{err: &solver.TransientError{Err: context.DeadlineExceeded}}, Config{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", addBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	var er errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &er)
	if er.Error == "" {
		t.Error("expected error body")
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	h := newTestServer(t, nil, Config{RatePerSec: 0.001, RateBurst: 2}).Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/schedule", "alice-token", addBody)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("codes = %v, first two must pass", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, third must be 429", codes)
	}

	// Reads and other owners are unaffected.
	if rec := doJSON(t, h, http.MethodGet, "/schedule", "alice-token", ""); rec.Code != http.StatusOK {
		t.Errorf("read limited: code = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/schedule", "bob-token", addBody); rec.Code != http.StatusOK {
		t.Errorf("other owner limited: code = %d", rec.Code)
	}
}
