package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/model"
	"github.com/mohans/geodiff/internal/task"
)

type stubEnqueuer struct {
	calls int
	err   error
}

func (s *stubEnqueuer) EnqueueAnalysis(_ context.Context, _ string, _ model.AnalysisRequest) error {
	s.calls++
	return s.err
}

func newTestRouter(t *testing.T, enq *stubEnqueuer) (*gin.Engine, *task.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := task.NewMemoryStore(24 * time.Hour)
	return SetupRoutes(NewHandlers(store, enq, zap.NewNop())), store
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const validBody = `{"bbox":[2.2,48.8,2.4,48.9],"from_date":"2023-01-01","to_date":"2023-06-01","analysis_kind":"ndvi"}`

func TestSubmit_AcceptedAndImmediatelyPollable(t *testing.T) {
	enq := &stubEnqueuer{}
	router, _ := newTestRouter(t, enq)

	w := postJSON(t, router, "/api/analysis", validBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TaskID == "" || resp.Status != "queued" {
		t.Fatalf("unexpected submit response: %+v", resp)
	}
	if enq.calls != 1 {
		t.Fatalf("want exactly one enqueue, got %d", enq.calls)
	}

	// The id must be pollable right away, never a 404 after a 202.
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+resp.TaskID, nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w2.Code)
	}
	var status StatusResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Status != "queued" && status.Status != "processing" {
		t.Fatalf("freshly submitted task must be queued or processing, got %q", status.Status)
	}
	if status.Result != nil || status.Error != nil {
		t.Fatalf("non-terminal status must not carry result or error")
	}
}

func TestSubmit_RejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"bbox wrong length", `{"bbox":[2.2,48.8,2.4],"from_date":"2023-01-01","to_date":"2023-06-01","analysis_kind":"ndvi"}`},
		{"bbox inverted", `{"bbox":[2.4,48.8,2.2,48.9],"from_date":"2023-01-01","to_date":"2023-06-01","analysis_kind":"ndvi"}`},
		{"bad date", `{"bbox":[2.2,48.8,2.4,48.9],"from_date":"01/01/2023","to_date":"2023-06-01","analysis_kind":"ndvi"}`},
		{"dates reversed", `{"bbox":[2.2,48.8,2.4,48.9],"from_date":"2023-06-01","to_date":"2023-01-01","analysis_kind":"ndvi"}`},
		{"unknown kind", `{"bbox":[2.2,48.8,2.4,48.9],"from_date":"2023-01-01","to_date":"2023-06-01","analysis_kind":"evi"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enq := &stubEnqueuer{}
			router, _ := newTestRouter(t, enq)
			w := postJSON(t, router, "/api/analysis", c.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d: %s", w.Code, w.Body.String())
			}
			if enq.calls != 0 {
				t.Fatalf("rejected request must not create or enqueue a task")
			}
		})
	}
}

func TestSubmit_EqualDatesAreAccepted(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})
	body := `{"bbox":[2.2,48.8,2.4,48.9],"from_date":"2023-01-01","to_date":"2023-01-01","analysis_kind":"ndwi"}`
	if w := postJSON(t, router, "/api/analysis", body); w.Code != http.StatusAccepted {
		t.Fatalf("equal dates signal single-image mode and must be accepted, got %d", w.Code)
	}
}

func TestSubmit_EnqueueFailureAbandonsTask(t *testing.T) {
	enq := &stubEnqueuer{err: errors.New("redis is down")}
	gin.SetMode(gin.TestMode)
	store := task.NewMemoryStore(time.Millisecond)
	router := SetupRoutes(NewHandlers(store, enq, zap.NewNop()))

	w := postJSON(t, router, "/api/analysis", validBody)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", w.Code)
	}
	var resp struct {
		Error model.Error `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Kind != model.KindTransient {
		t.Fatalf("want transient error, got %+v", resp.Error)
	}

	// The orphaned task is failed, not stuck queued forever; with the
	// sweep clock pushed past the horizon it is also evictable.
	if n := evictAllTerminal(store); n != 1 {
		t.Fatalf("want exactly one abandoned terminal task, got %d", n)
	}
}

// evictAllTerminal sweeps with a horizon of zero by waiting out clock
// granularity; terminal tasks finished in the past are eligible.
func evictAllTerminal(store *task.MemoryStore) int {
	time.Sleep(5 * time.Millisecond)
	return store.Sweep()
}

func TestStatus_UnknownID(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analysis/status/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestStatus_TerminalStates(t *testing.T) {
	router, store := newTestRouter(t, &stubEnqueuer{})
	ctx := context.Background()

	w := postJSON(t, router, "/api/analysis", validBody)
	var sub SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Drive the task to completed through the store, as the worker would.
	if _, err := store.Start(ctx, sub.TaskID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	change := -33.33
	if err := store.Complete(ctx, sub.TaskID, &model.Result{Kind: "NDVI", ChangePercentage: &change}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+sub.TaskID, nil))
	var status StatusResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Status != "completed" || status.Result == nil || *status.Result.ChangePercentage != -33.33 {
		t.Fatalf("unexpected completed response: %+v", status)
	}
	if status.Error != nil {
		t.Fatalf("completed response must not carry an error")
	}
}
