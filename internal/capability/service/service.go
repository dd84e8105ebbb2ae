// Package service is the capability authority: it issues time-scoped grants,
// decides whether a proposed action may run, and revokes everything at once.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/capability/models"
	"actiongate/internal/enforcement"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/sentinel"
	"actiongate/pkg/requestcontext"
)

var (
	ErrSessionInactive = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeForbidden, "session is no longer active")
	ErrLockedDown      = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeForbidden, "authority is in lockdown")
)

// Metrics is the subset of platform metrics the authority reports to.
type Metrics interface {
	IncCheck(capability, decision string)
	ObserveCheckLatency(d time.Duration)
}

// Authority owns the grant set of one session. Every mutation and every
// check runs under mu, so a RevokeAll is visible to the very next check.
// Lock order is Authority, then acc.Manager, then audit.Log.
type Authority struct {
	log     *audit.Log
	acc     *acc.Manager
	guard   *enforcement.Guard
	clock   clock.Clock
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer

	mu       sync.RWMutex
	grants   []models.Grant
	active   bool
	lockdown string
}

type Option func(*Authority)

func WithClock(c clock.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authority) { a.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(a *Authority) { a.metrics = metrics }
}

func New(log *audit.Log, accManager *acc.Manager, guard *enforcement.Guard, opts ...Option) (*Authority, error) {
	if log == nil {
		return nil, errors.New("audit log is required")
	}
	if accManager == nil {
		return nil, errors.New("acc manager is required")
	}
	if guard == nil {
		return nil, errors.New("enforcement guard is required")
	}
	a := &Authority{
		log:    log,
		acc:    accManager,
		guard:  guard,
		clock:  clock.Real(),
		logger: slog.Default(),
		tracer: otel.Tracer("actiongate/capability"),
		active: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Grant creates a grant and emits AUTHORITY_GRANTED. A resource path is
// bound to its platform identity now and re-verified on every check.
func (a *Authority) Grant(ctx context.Context, req models.GrantRequest) (models.Grant, error) {
	if err := req.Validate(); err != nil {
		return models.Grant{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return models.Grant{}, err
	}
	return a.grantLocked(ctx, req)
}

// ApplyPreset grants every entry of a preset to scope. Nothing is granted
// unless every entry is valid.
func (a *Authority) ApplyPreset(ctx context.Context, name, scope string, entries []models.PresetEntry) ([]models.Grant, error) {
	reqs := make([]models.GrantRequest, 0, len(entries))
	for _, e := range entries {
		req := models.GrantRequest{
			Capability:  e.Capability,
			Scope:       scope,
			TTL:         e.TTL,
			RequiresACC: e.RequiresACC,
			Resource:    e.Resource,
			Source:      "preset:" + name,
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usableLocked(); err != nil {
		return nil, err
	}
	out := make([]models.Grant, 0, len(reqs))
	for _, req := range reqs {
		g, err := a.grantLocked(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (a *Authority) grantLocked(ctx context.Context, req models.GrantRequest) (models.Grant, error) {
	now := a.clock.Now()
	g := models.Grant{
		ID:          id.NewGrantID(),
		Capability:  req.Capability,
		Scope:       req.Scope,
		IssuedAt:    now,
		TTL:         req.TTL,
		ExpiresAt:   now.Add(req.TTL),
		RequiresACC: req.RequiresACC,
		Source:      req.Source,
	}
	if g.Source == "" {
		g.Source = "explicit"
	}
	if req.Resource != "" {
		identity, err := a.guard.BindResource(ctx, req.Resource)
		if err != nil {
			return models.Grant{}, err
		}
		g.Resource = identity
	}
	a.grants = append(a.grants, g)

	a.log.MustEmit(ctx, audit.AuthorityGranted{
		GrantID:     g.ID,
		Capability:  string(g.Capability),
		Scope:       g.Scope,
		TTLMillis:   g.TTL.Milliseconds(),
		ExpiresAt:   g.ExpiresAt,
		RequiresACC: g.RequiresACC,
		Resource:    req.Resource,
		Source:      g.Source,
	})
	a.logger.InfoContext(ctx, "capability granted",
		"grant_id", g.ID.String(),
		"capability", string(g.Capability),
		"scope", g.Scope,
		"ttl", g.TTL.String(),
		"requires_acc", g.RequiresACC,
	)
	return g, nil
}

// ActiveGrants returns the grants that would satisfy a check right now.
func (a *Authority) ActiveGrants() []models.Grant {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.active || a.lockdown != "" {
		return []models.Grant{}
	}
	now := a.clock.Now()
	out := make([]models.Grant, 0, len(a.grants))
	for _, g := range a.grants {
		if g.IsValidAt(now) {
			out = append(out, g)
		}
	}
	return out
}

// Check decides whether one proposed action may run. It never blocks on the
// human: a RequiresACC result carries the challenge and the caller halts
// until acc.Manager.Validate succeeds, then checks again.
func (a *Authority) Check(ctx context.Context, req models.CheckRequest) models.CheckResult {
	ctx, span := a.tracer.Start(ctx, "capability.Check", trace.WithAttributes(
		attribute.String("capability", string(req.Capability)),
		attribute.String("scope", req.Scope),
	))
	defer span.End()
	start := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	res := a.checkLocked(ctx, req)

	span.SetAttributes(attribute.String("decision", string(res.Decision)))
	if a.metrics != nil {
		a.metrics.IncCheck(string(req.Capability), string(res.Decision))
		a.metrics.ObserveCheckLatency(a.clock.Now().Sub(start))
	}
	return res
}

func (a *Authority) checkLocked(ctx context.Context, req models.CheckRequest) models.CheckResult {
	res := models.CheckResult{
		Capability: req.Capability,
		Scope:      req.Scope,
		ContextID:  req.Context.ID(),
	}
	a.log.MustEmit(ctx, audit.CapabilityCheck{
		Capability: string(req.Capability),
		Scope:      req.Scope,
		ContextID:  req.Context.ID(),
		SourceHash: req.Context.SourceHash(),
	})

	switch {
	case req.Context.IsZero():
		return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "action context is required")
	case !req.Capability.IsValid():
		return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "unknown capability")
	case !a.active:
		return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "session is no longer active")
	case a.lockdown != "":
		return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "authority is in lockdown")
	}

	// A visible system dialog stops everything, granted or not.
	if err := a.guard.CheckModal(ctx); err != nil {
		return a.denyErrLocked(ctx, res, err)
	}

	grant, ok := a.findGrantLocked(req.Capability, req.Scope)
	if !ok {
		return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "no active grant for capability and scope")
	}
	res.GrantID = grant.ID

	if !grant.Resource.IsZero() {
		if err := a.guard.VerifyResource(ctx, grant.Resource); err != nil {
			return a.denyErrLocked(ctx, res, err)
		}
	}
	switch req.Capability.ResourceClass() {
	case models.ResourceInput:
		if req.Input == nil {
			return a.denyLocked(ctx, res, dErrors.CodeOSPermissionDenied, "input target was not described")
		}
		if err := a.guard.ClassifyInput(ctx, *req.Input); err != nil {
			return a.denyErrLocked(ctx, res, err)
		}
	case models.ResourceFocus:
		if req.Input != nil {
			if err := a.guard.ClassifyFocus(ctx, *req.Input); err != nil {
				return a.denyErrLocked(ctx, res, err)
			}
		}
	case models.ResourceExport:
		if req.Output == "" {
			return a.denyLocked(ctx, res, dErrors.CodeOSPermissionDenied, "export output was not named")
		}
		// A grant bound to an output location only covers that location.
		if !grant.Resource.IsZero() && filepath.Clean(req.Output) != filepath.Clean(grant.Resource.Path) {
			return a.denyLocked(ctx, res, dErrors.CodeOSPermissionDenied, "export output differs from the bound location")
		}
	}

	if !grant.RequiresACC {
		return a.allowLocked(ctx, res, nil)
	}
	if accID, ok := a.acc.Redeem(grant.ID, req.Context.ID()); ok {
		return a.allowLocked(ctx, res, &accID)
	}
	return a.requireACCLocked(ctx, res, grant)
}

// findGrantLocked drops expired grants and returns the first live match.
func (a *Authority) findGrantLocked(c models.Capability, scope string) (models.Grant, bool) {
	now := a.clock.Now()
	live := a.grants[:0]
	for _, g := range a.grants {
		if g.IsValidAt(now) {
			live = append(live, g)
		}
	}
	a.grants = live
	for _, g := range a.grants {
		if g.Capability == c && g.Scope == scope {
			return g, true
		}
	}
	return models.Grant{}, false
}

func (a *Authority) allowLocked(ctx context.Context, res models.CheckResult, accID *id.ACCID) models.CheckResult {
	res.Decision = models.DecisionAllowed
	if accID != nil {
		res.ACCID = *accID
	}
	a.log.MustEmit(ctx, audit.CapabilityAllowed{
		Capability: string(res.Capability),
		Scope:      res.Scope,
		ContextID:  res.ContextID,
		GrantID:    res.GrantID,
		ACCID:      accID,
	})
	a.logger.InfoContext(ctx, "capability allowed",
		"capability", string(res.Capability),
		"context_id", res.ContextID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return res
}

// requireACCLocked halts the invocation behind a challenge. A challenge
// already outstanding for the same grant and context is shown again rather
// than replaced.
func (a *Authority) requireACCLocked(ctx context.Context, res models.CheckResult, grant models.Grant) models.CheckResult {
	a.log.MustEmit(ctx, audit.CapabilityRequiresACC{
		Capability: string(res.Capability),
		Scope:      res.Scope,
		ContextID:  res.ContextID,
		GrantID:    grant.ID,
	})

	tok, ok := a.acc.Pending(grant.ID, res.ContextID)
	if !ok {
		var err error
		tok, err = a.acc.Issue(ctx, grant.ID, res.ContextID)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to issue acc challenge", "error", err)
			return a.denyLocked(ctx, res, dErrors.CodeCapabilityDenied, "confirmation challenge unavailable")
		}
	}

	a.log.MustEmit(ctx, audit.ExecutionHaltedPendingACC{
		ContextID:  res.ContextID,
		ACCID:      tok.ID,
		Capability: string(res.Capability),
	})
	res.Decision = models.DecisionRequiresACC
	res.Code = dErrors.CodeACCRequired
	res.ACCID = tok.ID
	res.Challenge = &models.Challenge{
		ACCID:     tok.ID,
		Kind:      string(tok.Kind),
		Prompt:    tok.Prompt,
		ExpiresAt: tok.ExpiresAt,
	}
	return res
}

func (a *Authority) denyErrLocked(ctx context.Context, res models.CheckResult, err error) models.CheckResult {
	code := dErrors.CodeOf(err)
	if code.Tag() == "" {
		code = dErrors.CodeOSPermissionDenied
	}
	var de *dErrors.Error
	reason := err.Error()
	if errors.As(err, &de) {
		reason = de.Message
	}
	return a.denyLocked(ctx, res, code, reason)
}

func (a *Authority) denyLocked(ctx context.Context, res models.CheckResult, code dErrors.Code, reason string) models.CheckResult {
	res.Decision = models.DecisionDenied
	res.Code = code
	res.Reason = reason
	a.log.MustEmit(ctx, audit.CapabilityDenied{
		Capability: string(res.Capability),
		Scope:      res.Scope,
		ContextID:  res.ContextID,
		Tag:        code.Tag(),
		Reason:     reason,
	})
	a.logger.InfoContext(ctx, "capability denied",
		"capability", string(res.Capability),
		"tag", code.Tag(),
		"reason", reason,
		"context_id", res.ContextID.String(),
	)
	return res
}

// RevokeAll clears every grant and invalidates every ACC token. It is a
// barrier: checks that start after it returns see no grants.
func (a *Authority) RevokeAll(ctx context.Context, reason string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revokeAllLocked(ctx, reason)
}

func (a *Authority) revokeAllLocked(ctx context.Context, reason string) int {
	n := len(a.grants)
	a.grants = nil
	a.log.MustEmit(ctx, audit.RevokeAllAuthorities{Reason: reason})
	a.log.MustEmit(ctx, audit.CapabilityGrantsCleared{Count: n})
	tokens := a.acc.InvalidateAll(ctx)
	a.logger.InfoContext(ctx, "all authorities revoked", "reason", reason, "grants", n, "acc_tokens", tokens)
	return n
}

// EnterLockdown revokes everything and denies every later check until an
// operator clears it. Entering twice is a no-op.
func (a *Authority) EnterLockdown(ctx context.Context, reason string, sequence uint64, headHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lockdown != "" {
		return
	}
	a.lockdown = reason
	a.log.MustEmit(ctx, audit.LockdownEngaged{Reason: reason, HeadHash: headHash, Sequence: sequence})
	a.logger.ErrorContext(ctx, "authority lockdown engaged", "reason", reason, "sequence", sequence)
	a.revokeAllLocked(ctx, "lockdown: "+reason)
}

// ClearLockdown lifts a lockdown. Revoked grants stay revoked.
func (a *Authority) ClearLockdown(ctx context.Context, operator string) error {
	if operator == "" {
		return dErrors.New(dErrors.CodeValidation, "operator is required to clear lockdown")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lockdown == "" {
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict, "authority is not in lockdown")
	}
	a.lockdown = ""
	a.log.MustEmit(ctx, audit.LockdownCleared{Operator: operator})
	a.logger.WarnContext(ctx, "authority lockdown cleared", "operator", operator)
	return nil
}

// Lockdown reports whether the authority is locked down and why.
func (a *Authority) Lockdown() (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lockdown != "", a.lockdown
}

// Deactivate marks the owning session as ended. Grants stop being valid even
// if a caller skipped RevokeAll.
func (a *Authority) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}

func (a *Authority) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Guard exposes the enforcement guard for job orchestration.
func (a *Authority) Guard() *enforcement.Guard { return a.guard }

func (a *Authority) usableLocked() error {
	if !a.active {
		return ErrSessionInactive
	}
	if a.lockdown != "" {
		return ErrLockedDown
	}
	return nil
}
