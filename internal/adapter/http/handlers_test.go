package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ContextForge/internal/adapter/ws"
	"github.com/Strob0t/ContextForge/internal/config"
	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/port/modelclient"
	"github.com/Strob0t/ContextForge/internal/port/toolexec"
	"github.com/Strob0t/ContextForge/internal/resilience"
	"github.com/Strob0t/ContextForge/internal/service"
)

// scriptedModel streams the queued results in order.
type scriptedModel struct {
	mu      sync.Mutex
	results []*modelclient.Result
	call    int
}

func (m *scriptedModel) StreamChat(_ context.Context, _ modelclient.Request, onDelta func(string) error) (*modelclient.Result, error) {
	m.mu.Lock()
	idx := m.call
	m.call++
	m.mu.Unlock()
	if idx >= len(m.results) {
		return nil, fmt.Errorf("unexpected model call %d", idx)
	}
	res := m.results[idx]
	for _, r := range res.Content {
		if err := onDelta(string(r)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func newTestRouter(t *testing.T, model modelclient.Client) *chi.Mux {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Engine{
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		MaxToolDepth:    5,
		ToolCycleBudget: time.Second,
		ApprovalTimeout: 50 * time.Millisecond,
		ApprovalPolicy:  "auto_approve",
		MaxFileRefBytes: 1 << 20,
	}
	notifier := service.NewDispatcher(ws.NewHub(), nil, log)
	breaker := resilience.NewBreaker(10, time.Second)
	engine := service.NewEngine(model, toolexec.NewRegistry(), nil, notifier, nil, breaker, nil, cfg, log)
	retrieval := service.NewRetrieval(engine, nil, 0)

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(engine, retrieval))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) chat.Snapshot {
	t.Helper()
	var snap chat.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (body %s)", err, rec.Body.String())
	}
	return snap
}

func createContextHTTP(t *testing.T, r http.Handler) chat.Snapshot {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/api/v1/contexts", map[string]string{
		"title": "test",
		"model": "test-model",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create context status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeSnapshot(t, rec)
}

func waitIdle(t *testing.T, r http.Handler, ctxID string) chat.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, r, http.MethodGet, "/api/v1/contexts/"+ctxID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get context status = %d", rec.Code)
		}
		snap := decodeSnapshot(t, rec)
		if snap.State.Kind == chat.StateIdle {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("context never returned to idle")
	return chat.Snapshot{}
}

func TestContextLifecycle(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})

	snap := createContextHTTP(t, r)
	if snap.State.Kind != chat.StateIdle || snap.ActiveBranch != "main" {
		t.Errorf("fresh context snapshot = %+v", snap)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/contexts", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}
	var list []chat.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Errorf("list = %s", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/v1/contexts/"+snap.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/api/v1/contexts/"+snap.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestCreateContextValidation(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/contexts", map[string]string{"title": "no model"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing model status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/contexts", map[string]string{
		"model":           "test-model",
		"approval_policy": "bogus",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad policy status = %d", rec.Code)
	}
}

func TestSendInputAndRetrieve(t *testing.T) {
	model := &scriptedModel{results: []*modelclient.Result{
		{Content: "abc", FinishReason: "stop"},
	}}
	r := newTestRouter(t, model)
	snap := createContextHTTP(t, r)
	base := "/api/v1/contexts/" + snap.ID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/input", map[string]string{"text": "hi"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("input status = %d, body %s", rec.Code, rec.Body.String())
	}
	accepted := decodeSnapshot(t, rec)
	if accepted.State.Kind != chat.StateProcessingUserInput {
		t.Errorf("accepted state = %s", accepted.State.Kind)
	}

	final := waitIdle(t, r, snap.ID.String())
	if len(final.MessageIDs) != 2 {
		t.Fatalf("messages = %d", len(final.MessageIDs))
	}
	msgID := final.MessageIDs[1].String()

	// Fragment pull past a watermark.
	rec = doJSON(t, r, http.MethodGet, base+"/messages/"+msgID+"/fragments?from_sequence=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fragments status = %d", rec.Code)
	}
	var page service.FragmentPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Chunks) != 2 || !page.Finalized || page.CurrentSequence != 3 {
		t.Errorf("page = %+v", page)
	}

	// Batch fetch in request order, unknown IDs skipped.
	rec = doJSON(t, r, http.MethodPost, base+"/messages/batch", map[string]any{
		"message_ids": []string{msgID, final.MessageIDs[0].String()},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d", rec.Code)
	}
	var batch struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch.Messages) != 2 || batch.Messages[0].PlainText() != "abc" {
		t.Errorf("batch = %+v", batch.Messages)
	}

	// Transition history.
	rec = doJSON(t, r, http.MethodGet, base+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var hist struct {
		Transitions []chat.Transition `json:"transitions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Transitions) == 0 {
		t.Error("no transitions")
	}
}

func TestSendInputValidation(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})
	snap := createContextHTTP(t, r)
	base := "/api/v1/contexts/" + snap.ID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/input", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, base+"/input", map[string]string{"kind": "file_reference"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, "/api/v1/contexts/not-a-uuid/input", map[string]string{"text": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad uuid status = %d", rec.Code)
	}
}

func TestCancelWithoutTurnConflicts(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})
	snap := createContextHTTP(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/contexts/"+snap.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel idle status = %d", rec.Code)
	}
}

func TestApprovalEndpoint(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})
	snap := createContextHTTP(t, r)
	base := "/api/v1/contexts/" + snap.ID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/approvals", map[string]any{
		"tool_call_ids": []string{"call-1"},
		"decision":      "maybe",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad decision status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, base+"/approvals", map[string]any{
		"tool_call_ids": []string{"call-1"},
		"decision":      "allow",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("no pending approval status = %d", rec.Code)
	}
}

func TestBranchEndpoints(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})
	snap := createContextHTTP(t, r)
	base := "/api/v1/contexts/" + snap.ID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/branches", map[string]string{"name": "variant"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create branch status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeSnapshot(t, rec)
	if len(created.Branches) != 2 {
		t.Errorf("branches = %v", created.Branches)
	}
	if _, ok := created.BranchMessages["variant"]; !ok {
		t.Errorf("branch map missing variant: %v", created.BranchMessages)
	}

	rec = doJSON(t, r, http.MethodPost, base+"/branches", map[string]string{"name": "variant"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate branch status = %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, base+"/branches/switch", map[string]string{"name": "variant"})
	if rec.Code != http.StatusOK {
		t.Fatalf("switch status = %d", rec.Code)
	}
	switched := decodeSnapshot(t, rec)
	if switched.ActiveBranch != "variant" {
		t.Errorf("active branch = %s", switched.ActiveBranch)
	}

	rec = doJSON(t, r, http.MethodPost, base+"/branches/switch", map[string]string{"name": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown branch status = %d", rec.Code)
	}
}

func TestVersionEndpoint(t *testing.T) {
	r := newTestRouter(t, &scriptedModel{})
	rec := doJSON(t, r, http.MethodGet, "/api/v1/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("version status = %d", rec.Code)
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.Version == "" {
		t.Errorf("version body = %s", rec.Body.String())
	}
}
