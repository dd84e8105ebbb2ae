package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"actiongate/internal/capability/models"
	"actiongate/internal/confirmation"
	"actiongate/internal/enforcement"
	"actiongate/internal/session"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/httputil"
	"actiongate/pkg/requestcontext"
)

// Session is the part of a running session an overlay client drives: it
// proposes actions, forwards the human's gestures and asks for authority.
type Session interface {
	Propose(ctx context.Context, proposal any) (*confirmation.Machine, error)
	Authorize(ctx context.Context, m *confirmation.Machine, req session.ExecuteRequest) (models.CheckResult, error)
	Touch(ctx context.Context)
}

// proposals holds the machines created over HTTP until they are spent.
type proposals struct {
	mu       sync.Mutex
	machines map[id.ContextID]*confirmation.Machine
}

func (p *proposals) put(m *confirmation.Machine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.machines[m.Action().ID()] = m
}

func (p *proposals) get(contextID id.ContextID) (*confirmation.Machine, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.machines[contextID]
	return m, ok
}

func (p *proposals) drop(contextID id.ContextID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.machines, contextID)
}

type proposeRequest struct {
	Proposal json.RawMessage `json:"proposal"`
}

type proposalResponse struct {
	ContextID  string `json:"context_id"`
	SourceHash string `json:"source_hash"`
	State      string `json:"state"`
}

type gestureRequest struct {
	Event string `json:"event"`
}

type authorizeRequest struct {
	Capability string                       `json:"capability"`
	Proposal   json.RawMessage              `json:"proposal"`
	Input      *enforcement.InputDescriptor `json:"input,omitempty"`
	Output     string                       `json:"output,omitempty"`
	Target     session.Boundary             `json:"target,omitzero"`
}

// handlePropose binds a proposal to a fresh machine and shows it.
func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req proposeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(req.Proposal) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "proposal is required"))
		return
	}
	m, err := h.session.Propose(ctx, req.Proposal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	state, err := m.Show(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.proposals.put(m)
	httputil.WriteJSON(w, http.StatusCreated, proposalResponse{
		ContextID:  m.Action().ID().String(),
		SourceHash: m.Action().SourceHash(),
		State:      string(state),
	})
}

// handleGesture forwards one human gesture. SHOW and HOLD_TIMEOUT are not
// gestures and are refused.
func (h *Handler) handleGesture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := h.proposalFor(w, r)
	if !ok {
		return
	}
	var req gestureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ev := confirmation.Event(req.Event)
	if !ev.IsGesture() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "event must be a human gesture"))
		return
	}
	state, err := m.Fire(ctx, ev)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if state == confirmation.StateRejected {
		h.proposals.drop(m.Action().ID())
	}
	httputil.WriteJSON(w, http.StatusOK, proposalResponse{
		ContextID:  m.Action().ID().String(),
		SourceHash: m.Action().SourceHash(),
		State:      string(state),
	})
}

// handleAuthorize asks for authority on a confirmed proposal. The caller
// runs the action itself once this returns 200; a 428 carries the challenge.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := h.proposalFor(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	capability, err := models.ParseCapability(req.Capability)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.session.Authorize(ctx, m, session.ExecuteRequest{
		Capability: capability,
		Proposal:   req.Proposal,
		Input:      req.Input,
		Output:     req.Output,
		Target:     req.Target,
	})
	if err != nil {
		h.logger.InfoContext(ctx, "authorization not granted",
			"request_id", requestcontext.RequestID(ctx),
			"context_id", m.Action().ID().String(),
			"decision", string(res.Decision),
			"error", err,
		)
		httputil.WriteJSON(w, httputil.StatusFor(dErrors.CodeOf(err)), res)
		return
	}
	h.proposals.drop(m.Action().ID())
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleActivity records that the human is present without a gesture.
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	h.session.Touch(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) proposalFor(w http.ResponseWriter, r *http.Request) (*confirmation.Machine, bool) {
	contextID, err := id.ParseContextID(chi.URLParam(r, "contextID"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	m, ok := h.proposals.get(contextID)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "proposal not found"))
		return nil, false
	}
	return m, true
}
