package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/ContextForge/internal/domain/chat"
	"github.com/Strob0t/ContextForge/internal/service"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	engine    *service.Engine
	retrieval *service.Retrieval
}

// NewHandlers wires the handler set.
func NewHandlers(engine *service.Engine, retrieval *service.Retrieval) *Handlers {
	return &Handlers{engine: engine, retrieval: retrieval}
}

type createContextRequest struct {
	Title          string `json:"title"`
	Model          string `json:"model"`
	Mode           string `json:"mode,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
}

// CreateContext handles POST /api/v1/contexts.
func (h *Handlers) CreateContext(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createContextRequest](w, r)
	if !ok {
		return
	}
	snap, err := h.engine.CreateContext(r.Context(), req.Title, chat.ContextConfig{
		Model:          req.Model,
		Mode:           req.Mode,
		ApprovalPolicy: req.ApprovalPolicy,
	})
	if err != nil {
		writeDomainError(w, err, "context not created")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// ListContexts handles GET /api/v1/contexts.
func (h *Handlers) ListContexts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListContexts(r.Context()))
}

// GetContext handles GET /api/v1/contexts/{id}.
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	snap, err := h.engine.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeleteContext handles DELETE /api/v1/contexts/{id}.
func (h *Handlers) DeleteContext(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	if err := h.engine.DeleteContext(r.Context(), id); err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendInput handles POST /api/v1/contexts/{id}/input. The turn runs
// asynchronously; the snapshot in the 202 response shows the accepted state.
func (h *Handlers) SendInput(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	input, ok := readJSON[service.InputPayload](w, r)
	if !ok {
		return
	}
	if input.Kind == "" {
		input.Kind = service.InputText
	}
	if input.Kind == service.InputText && input.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if input.Kind == service.InputFileReference && input.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	snap, err := h.engine.SendInput(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// CancelTurn handles POST /api/v1/contexts/{id}/cancel.
func (h *Handlers) CancelTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	snap, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type approvalRequest struct {
	ToolCallIDs []string `json:"tool_call_ids"`
	Decision    string   `json:"decision"`
}

// ResolveApproval handles POST /api/v1/contexts/{id}/approvals.
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	req, ok := readJSON[approvalRequest](w, r)
	if !ok {
		return
	}
	if req.Decision != "allow" && req.Decision != "deny" {
		writeError(w, http.StatusBadRequest, "decision must be allow or deny")
		return
	}
	if !h.engine.ResolveApproval(id, req.ToolCallIDs, req.Decision) {
		writeError(w, http.StatusNotFound, "no pending approval for these tool calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type batchRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// BatchMessages handles POST /api/v1/contexts/{id}/messages/batch.
func (h *Handlers) BatchMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	req, ok := readJSON[batchRequest](w, r)
	if !ok {
		return
	}
	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		mid, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message id "+raw)
			return
		}
		ids = append(ids, mid)
	}
	msgs, err := h.retrieval.Messages(r.Context(), id, ids)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Fragments handles GET /api/v1/contexts/{id}/messages/{message_id}/fragments.
// The from_sequence query parameter is the consumer's watermark.
func (h *Handlers) Fragments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	msgID, ok := parseID(w, chi.URLParam(r, "message_id"), "message id")
	if !ok {
		return
	}
	var from uint64
	if raw := r.URL.Query().Get("from_sequence"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_sequence")
			return
		}
		from = parsed
	}
	page, err := h.retrieval.FragmentsSince(r.Context(), id, msgID, from)
	if err != nil {
		writeDomainError(w, err, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// History handles GET /api/v1/contexts/{id}/history.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	transitions, err := h.retrieval.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": transitions})
}

type branchRequest struct {
	Name string `json:"name"`
}

// CreateBranch handles POST /api/v1/contexts/{id}/branches.
func (h *Handlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	req, ok := readJSON[branchRequest](w, r)
	if !ok {
		return
	}
	snap, err := h.engine.CreateBranch(r.Context(), id, req.Name)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// SwitchBranch handles POST /api/v1/contexts/{id}/branches/switch.
func (h *Handlers) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "context id")
	if !ok {
		return
	}
	req, ok := readJSON[branchRequest](w, r)
	if !ok {
		return
	}
	snap, err := h.engine.SwitchBranch(r.Context(), id, req.Name)
	if err != nil {
		writeDomainError(w, err, "branch not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
