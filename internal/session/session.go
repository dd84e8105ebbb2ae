// Package session owns one SessionAuthority: the grant set, the ACC tokens
// and the audit chain of a single running session, plus the orchestration
// that turns a confirmed proposal into an execution.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/capability/models"
	"actiongate/internal/capability/service"
	"actiongate/internal/confirmation"
	"actiongate/internal/enforcement"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/sentinel"
)

const DefaultTTL = 8 * time.Hour

var (
	ErrEnded        = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeForbidden, "session has ended")
	ErrJobNotFound  = dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "job not found")
	ErrNotConfirmed = dErrors.New(dErrors.CodeCapabilityDenied, "action was not confirmed")
	ErrAlreadyRun   = dErrors.New(dErrors.CodeCapabilityDenied, "action context already executed")

	ErrProposalChanged = dErrors.Wrap(sentinel.ErrMismatch, dErrors.CodeCapabilityDenied, "proposal changed since confirmation")
	ErrPaused          = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeCapabilityDenied, "session is paused until the human re-engages")
	ErrBoundaryCrossed = dErrors.Wrap(sentinel.ErrMismatch, dErrors.CodeCapabilityDenied, "execution leaves the session boundary")
)

// Preset is a named set of grants applied when the session starts.
type Preset struct {
	Name    string
	Entries []models.PresetEntry
}

// ExecuteRequest names the capability an execution needs and carries the
// proposal about to run, which must be the one the human confirmed.
type ExecuteRequest struct {
	Capability models.Capability
	Proposal   any
	Input      *enforcement.InputDescriptor
	// Output is the export destination for RENDER_EXPORT.
	Output string
	// Target is where the execution lands, compared to the session boundary.
	Target Boundary
}

type Session struct {
	id            id.SessionID
	scope         string
	ttl           time.Duration
	preset        *Preset
	holdThreshold time.Duration
	log           *audit.Log
	authority     *service.Authority
	acc           *acc.Manager
	clock         clock.Clock
	logger        *slog.Logger
	fsmMetrics    confirmation.Metrics
	idleTimeout   time.Duration
	boundary      Boundary

	startedAt time.Time
	expiresAt time.Time

	mu        sync.Mutex
	ended     bool
	endReason string
	ttlTimer  *clock.Timer
	executed  map[id.ContextID]struct{}
	jobs      map[string]enforcement.JobHandle

	lastActivity time.Time
	paused       bool
	idleTimer    *clock.Timer
	idleGen      uint64
}

type Option func(*Session)

func WithID(sid id.SessionID) Option {
	return func(s *Session) { s.id = sid }
}

func WithScope(scope string) Option {
	return func(s *Session) { s.scope = scope }
}

func WithTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithPreset(p Preset) Option {
	return func(s *Session) { s.preset = &p }
}

func WithHoldThreshold(d time.Duration) Option {
	return func(s *Session) { s.holdThreshold = d }
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithConfirmationMetrics(m confirmation.Metrics) Option {
	return func(s *Session) { s.fsmMetrics = m }
}

// WithIdleTimeout pauses the session after d without a human gesture.
// Zero disables the pause.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

func WithBoundary(b Boundary) Option {
	return func(s *Session) { s.boundary = b }
}

// New starts a session: it emits SESSION_STARTED, applies the preset and
// arms the session TTL. The TTL is never extended.
func New(ctx context.Context, log *audit.Log, authority *service.Authority, accManager *acc.Manager, opts ...Option) (*Session, error) {
	if log == nil || authority == nil || accManager == nil {
		return nil, errors.New("audit log, authority and acc manager are required")
	}
	s := &Session{
		id:            id.NewSessionID(),
		scope:         "default",
		ttl:           DefaultTTL,
		holdThreshold: confirmation.DefaultHoldThreshold,
		log:           log,
		authority:     authority,
		acc:           accManager,
		clock:         clock.Real(),
		logger:        slog.Default(),
		executed:      make(map[id.ContextID]struct{}),
		jobs:          make(map[string]enforcement.JobHandle),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startedAt = s.clock.Now()
	s.expiresAt = s.startedAt.Add(s.ttl)
	s.lastActivity = s.startedAt
	s.log.MustEmit(ctx, audit.SessionStarted{SessionID: s.id, Scope: s.scope, ExpiresAt: s.expiresAt})

	if s.preset != nil && len(s.preset.Entries) > 0 {
		if _, err := s.authority.ApplyPreset(ctx, s.preset.Name, s.scope, s.preset.Entries); err != nil {
			s.End(ctx, "preset_failed")
			return nil, err
		}
	}

	s.mu.Lock()
	s.ttlTimer = s.clock.AfterFunc(s.ttl, func() { s.End(context.Background(), "ttl_expired") })
	s.armIdleLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session started",
		"session_id", s.id.String(),
		"scope", s.scope,
		"expires_at", s.expiresAt,
		"idle_timeout", s.idleTimeout,
		"boundary", s.boundary,
	)
	return s, nil
}

func (s *Session) ID() id.SessionID              { return s.id }
func (s *Session) Scope() string                 { return s.scope }
func (s *Session) StartedAt() time.Time          { return s.startedAt }
func (s *Session) ExpiresAt() time.Time          { return s.expiresAt }
func (s *Session) Log() *audit.Log               { return s.log }
func (s *Session) Authority() *service.Authority { return s.authority }
func (s *Session) ACC() *acc.Manager             { return s.acc }
func (s *Session) Boundary() Boundary            { return s.boundary }

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// Paused reports whether the session is halted for lack of human activity.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Touch records a human gesture. It resumes a paused session and restarts
// the idle countdown. Confirmation machines created by Propose call it on
// every accepted gesture.
func (s *Session) Touch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.lastActivity = s.clock.Now()
	wasPaused := s.paused
	s.paused = false
	s.armIdleLocked()
	if wasPaused {
		s.log.MustEmit(ctx, audit.SessionResumed{SessionID: s.id})
		s.logger.InfoContext(ctx, "session resumed", "session_id", s.id.String())
	}
}

func (s *Session) armIdleLocked() {
	if s.idleTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = s.clock.AfterFunc(s.idleTimeout, func() { s.idleElapsed(gen) })
}

// idleElapsed ignores timers superseded by a later Touch.
func (s *Session) idleElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.paused || gen != s.idleGen {
		return
	}
	s.paused = true
	ctx := context.Background()
	s.log.MustEmit(ctx, audit.SessionPaused{SessionID: s.id, IdleSince: s.lastActivity})
	s.logger.InfoContext(ctx, "session paused for inactivity",
		"session_id", s.id.String(),
		"idle_since", s.lastActivity,
	)
}

// Propose binds a new confirmation machine to the exact proposal content.
func (s *Session) Propose(ctx context.Context, proposal any) (*confirmation.Machine, error) {
	if !s.Active() {
		return nil, ErrEnded
	}
	action, err := id.NewActionContext(proposal, s.clock.Now())
	if err != nil {
		return nil, err
	}
	opts := []confirmation.Option{
		confirmation.WithHoldThreshold(s.holdThreshold),
		confirmation.WithClock(s.clock),
		confirmation.WithLogger(s.logger),
		confirmation.WithActivity(s.Touch),
	}
	if s.fsmMetrics != nil {
		opts = append(opts, confirmation.WithMetrics(s.fsmMetrics))
	}
	return confirmation.New(action, s.log, opts...), nil
}

// Execute runs fn for a confirmed proposal once the authority allows it.
// A RequiresACC result is returned with an [ACC_REQUIRED] error and fn does
// not run; the caller resubmits after the challenge is answered.
func (s *Session) Execute(ctx context.Context, m *confirmation.Machine, req ExecuteRequest, fn func(ctx context.Context) error) (models.CheckResult, error) {
	res, err := s.authorize(ctx, m, req)
	if err != nil {
		return res, err
	}

	s.log.MustEmit(ctx, audit.ExecutionStarted{ContextID: res.ContextID, Capability: string(req.Capability)})
	runErr := fn(ctx)
	completed := audit.ExecutionCompleted{ContextID: res.ContextID, Capability: string(req.Capability), Outcome: "success"}
	if runErr != nil {
		completed.Outcome = "failure"
		completed.Error = runErr.Error()
	}
	s.log.MustEmit(ctx, completed)
	return res, runErr
}

// ExecuteJob starts a confirmed RENDER_EXPORT as a killable job. The export
// destination defaults to the job's output path.
func (s *Session) ExecuteJob(ctx context.Context, m *confirmation.Machine, req ExecuteRequest, spec enforcement.JobSpec) (models.CheckResult, enforcement.JobHandle, error) {
	req.Capability = models.CapabilityRenderExport
	if req.Output == "" {
		req.Output = spec.OutputPath
	}
	res, err := s.authorize(ctx, m, req)
	if err != nil {
		return res, enforcement.JobHandle{}, err
	}

	spec.ContextID = res.ContextID
	handle, err := s.authority.Guard().StartJob(ctx, spec)
	if err != nil {
		s.log.MustEmit(ctx, audit.ExecutionCompleted{
			ContextID: res.ContextID, Capability: string(req.Capability), Outcome: "failure", Error: err.Error(),
		})
		return res, enforcement.JobHandle{}, err
	}
	s.mu.Lock()
	s.jobs[handle.ID] = handle
	s.mu.Unlock()
	s.log.MustEmit(ctx, audit.ExecutionStarted{ContextID: res.ContextID, Capability: string(req.Capability), JobID: handle.ID})
	return res, handle, nil
}

// Terminate kills a running job and records whether its output settled.
func (s *Session) Terminate(ctx context.Context, jobID string) (enforcement.Termination, error) {
	s.mu.Lock()
	handle, ok := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()
	if !ok {
		return enforcement.Termination{}, ErrJobNotFound
	}
	return s.terminate(ctx, handle)
}

func (s *Session) terminate(ctx context.Context, handle enforcement.JobHandle) (enforcement.Termination, error) {
	term, err := s.authority.Guard().TerminateJob(ctx, handle)
	s.log.MustEmit(ctx, audit.JobTerminated{ContextID: handle.ContextID, JobID: handle.ID, Stable: term.Stable})
	outcome := "terminated"
	if !term.Stable {
		outcome = "terminated_unstable"
	}
	s.log.MustEmit(ctx, audit.ExecutionCompleted{
		ContextID:  handle.ContextID,
		Capability: string(models.CapabilityRenderExport),
		Outcome:    outcome,
		Error:      term.Reason,
	})
	return term, err
}

// Authorize runs the same gate as Execute for callers that run the action
// themselves, such as a remote agent. The context is spent on success.
func (s *Session) Authorize(ctx context.Context, m *confirmation.Machine, req ExecuteRequest) (models.CheckResult, error) {
	return s.authorize(ctx, m, req)
}

// authorize gates one execution: the session must be live and attended, the
// machine EXECUTED, the context not run before, the proposal unchanged, the
// target inside the boundary, and the authority must allow it. The context
// is marked as run only when the authority allows.
func (s *Session) authorize(ctx context.Context, m *confirmation.Machine, req ExecuteRequest) (models.CheckResult, error) {
	denied := models.CheckResult{
		Decision:   models.DecisionDenied,
		Capability: req.Capability,
		Scope:      s.scope,
		ContextID:  m.Action().ID(),
		Code:       dErrors.CodeCapabilityDenied,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		denied.Reason = "session has ended"
		return s.refuseLocked(ctx, denied, "session_ended", denied.Err())
	}
	if s.paused {
		denied.Reason = "session is paused"
		return s.refuseLocked(ctx, denied, "session_paused", ErrPaused)
	}
	if m.State() != confirmation.StateExecuted {
		denied.Reason = "action was not confirmed"
		return s.refuseLocked(ctx, denied, "not_confirmed", ErrNotConfirmed)
	}
	if _, ran := s.executed[m.Action().ID()]; ran {
		denied.Reason = "action context already executed"
		return s.refuseLocked(ctx, denied, "already_executed", ErrAlreadyRun)
	}
	if !m.Action().Matches(req.Proposal) {
		denied.Reason = "proposal changed since confirmation"
		return s.refuseLocked(ctx, denied, "proposal_changed", ErrProposalChanged)
	}
	if crossing, crossed := s.boundary.Crossed(req.Target); crossed {
		s.log.MustEmit(ctx, audit.SessionBoundaryCrossed{
			SessionID: s.id,
			ContextID: m.Action().ID(),
			Field:     crossing.Field,
			Expected:  crossing.Expected,
			Actual:    crossing.Actual,
		})
		denied.Reason = "execution leaves the session " + crossing.Field
		return s.refuseLocked(ctx, denied, "boundary_crossed", ErrBoundaryCrossed)
	}

	res := s.authority.Check(ctx, models.CheckRequest{
		Capability: req.Capability,
		Scope:      s.scope,
		Context:    m.Action(),
		Input:      req.Input,
		Output:     req.Output,
	})
	if !res.Allowed() {
		return res, res.Err()
	}
	s.executed[m.Action().ID()] = struct{}{}
	return res, nil
}

func (s *Session) refuseLocked(ctx context.Context, denied models.CheckResult, reason string, err error) (models.CheckResult, error) {
	s.log.MustEmit(ctx, audit.ExecutionRefused{
		ContextID:  denied.ContextID,
		Capability: string(denied.Capability),
		Reason:     reason,
	})
	s.logger.WarnContext(ctx, "execution refused",
		"context_id", denied.ContextID.String(),
		"capability", string(denied.Capability),
		"reason", reason,
	)
	return denied, err
}

// End tears the session down: every grant and token is invalidated, running
// jobs are terminated and SESSION_INACTIVE is emitted. Only the first call
// has any effect.
func (s *Session) End(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endReason = reason
	s.ttlTimer.Stop()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	jobs := make([]enforcement.JobHandle, 0, len(s.jobs))
	for _, h := range s.jobs {
		jobs = append(jobs, h)
	}
	s.jobs = make(map[string]enforcement.JobHandle)
	s.mu.Unlock()

	s.authority.RevokeAll(ctx, reason)
	s.authority.Deactivate()
	for _, h := range jobs {
		if _, err := s.terminate(ctx, h); err != nil {
			s.logger.ErrorContext(ctx, "failed to terminate job at session end", "job_id", h.ID, "error", err)
		}
	}
	s.log.MustEmit(ctx, audit.SessionInactive{SessionID: s.id, Reason: reason})
	s.logger.InfoContext(ctx, "session ended", "session_id", s.id.String(), "reason", reason)
}

// EndReason is empty while the session is active.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}
