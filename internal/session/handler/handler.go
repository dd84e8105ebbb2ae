// Package handler exposes a running session over HTTP: grant inspection and
// issuance, revocation, lockdown, integrity, ACC responses, and the
// propose/gesture/authorize flow an overlay client drives.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"actiongate/internal/acc"
	"actiongate/internal/capability/models"
	"actiongate/internal/confirmation"
	"actiongate/internal/integrity"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/httputil"
	"actiongate/pkg/platform/middleware/admin"
	"actiongate/pkg/platform/middleware/request"
	"actiongate/pkg/requestcontext"
)

type Authority interface {
	ActiveGrants() []models.Grant
	Grant(ctx context.Context, req models.GrantRequest) (models.Grant, error)
	RevokeAll(ctx context.Context, reason string) int
	Lockdown() (bool, string)
	ClearLockdown(ctx context.Context, operator string) error
}

type Challenges interface {
	Validate(ctx context.Context, accID id.ACCID, response string) (acc.Token, error)
	Revoke(ctx context.Context, accID id.ACCID) error
}

type Prover interface {
	Certify(ctx context.Context) integrity.Certificate
	Last() (integrity.Certificate, bool)
}

type Chain interface {
	ChainID() string
	Head() (uint64, string)
}

type Handler struct {
	session    Session
	proposals  *proposals
	authority  Authority
	challenges Challenges
	prover     Prover
	chain      Chain
	adminToken string
	logger     *slog.Logger
}

func New(sess Session, authority Authority, challenges Challenges, prover Prover, chain Chain, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		session:    sess,
		proposals:  &proposals{machines: make(map[id.ContextID]*confirmation.Machine)},
		authority:  authority,
		challenges: challenges,
		prover:     prover,
		chain:      chain,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Register mounts every route under /v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(request.Context())
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))

		r.Get("/authority/grants", h.handleListGrants)
		r.Post("/authority/grants", h.handleGrant)
		r.Post("/authority/revoke", h.handleRevokeAll)
		r.Get("/authority/lockdown", h.handleLockdownStatus)
		r.Post("/authority/lockdown/clear", h.handleClearLockdown)

		r.Get("/integrity", h.handleLastCertificate)
		r.Post("/integrity/certify", h.handleCertify)
		r.Get("/audit/head", h.handleAuditHead)

		r.Post("/acc/{accID}/response", h.handleACCResponse)
		r.Delete("/acc/{accID}", h.handleACCDismiss)

		r.Post("/actions", h.handlePropose)
		r.Post("/actions/{contextID}/gesture", h.handleGesture)
		r.Post("/actions/{contextID}/authorize", h.handleAuthorize)
		r.Post("/session/activity", h.handleActivity)
	})
}

type grantRequest struct {
	Capability  string `json:"capability"`
	Scope       string `json:"scope"`
	TTL         string `json:"ttl"`
	RequiresACC bool   `json:"requires_acc"`
	Resource    string `json:"resource,omitempty"`
}

type grantResponse struct {
	GrantID     string    `json:"grant_id"`
	Capability  string    `json:"capability"`
	Scope       string    `json:"scope"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	TTL         string    `json:"ttl"`
	RequiresACC bool      `json:"requires_acc"`
	Resource    string    `json:"resource,omitempty"`
	Source      string    `json:"source"`
}

func toGrantResponse(g models.Grant) grantResponse {
	return grantResponse{
		GrantID:     g.ID.String(),
		Capability:  string(g.Capability),
		Scope:       g.Scope,
		IssuedAt:    g.IssuedAt,
		ExpiresAt:   g.ExpiresAt,
		TTL:         g.TTL.String(),
		RequiresACC: g.RequiresACC,
		Resource:    g.Resource.Path,
		Source:      g.Source,
	}
}

func (h *Handler) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants := h.authority.ActiveGrants()
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req grantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	capability, err := models.ParseCapability(req.Capability)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "ttl must be a duration such as 30m"))
		return
	}

	source := "operator"
	if op := requestcontext.Operator(ctx); op != "" {
		source = "operator:" + op
	}
	g, err := h.authority.Grant(ctx, models.GrantRequest{
		Capability:  capability,
		Scope:       req.Scope,
		TTL:         ttl,
		RequiresACC: req.RequiresACC,
		Resource:    req.Resource,
		Source:      source,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "grant refused",
			"request_id", requestcontext.RequestID(ctx),
			"capability", req.Capability,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toGrantResponse(g))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := revokeRequest{Reason: "operator"}
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	n := h.authority.RevokeAll(ctx, req.Reason)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (h *Handler) handleLockdownStatus(w http.ResponseWriter, r *http.Request) {
	locked, reason := h.authority.Lockdown()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"locked": locked, "reason": reason})
}

func (h *Handler) handleClearLockdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.authority.ClearLockdown(ctx, requestcontext.Operator(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLastCertificate(w http.ResponseWriter, r *http.Request) {
	cert, ok := h.prover.Last()
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no certificate issued yet"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

func (h *Handler) handleCertify(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.prover.Certify(r.Context()))
}

func (h *Handler) handleAuditHead(w http.ResponseWriter, r *http.Request) {
	seq, head := h.chain.Head()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"chain_id":  h.chain.ChainID(),
		"sequence":  seq,
		"head_hash": head,
	})
}

type accResponseRequest struct {
	Response string `json:"response"`
}

type accResponse struct {
	ACCID       string    `json:"acc_id"`
	State       string    `json:"state"`
	ValidatedAt time.Time `json:"validated_at"`
}

func (h *Handler) handleACCResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accID, err := id.ParseACCID(chi.URLParam(r, "accID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req accResponseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	tok, err := h.challenges.Validate(ctx, accID, req.Response)
	if err != nil {
		h.logger.WarnContext(ctx, "acc response rejected",
			"request_id", requestcontext.RequestID(ctx),
			"acc_id", accID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accResponse{
		ACCID:       tok.ID.String(),
		State:       string(tok.State),
		ValidatedAt: tok.ValidatedAt,
	})
}

func (h *Handler) handleACCDismiss(w http.ResponseWriter, r *http.Request) {
	accID, err := id.ParseACCID(chi.URLParam(r, "accID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.challenges.Revoke(r.Context(), accID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
