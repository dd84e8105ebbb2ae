// Package acc issues and validates single-use confirmation challenges that
// sit on top of a capability grant for high-risk invocations.
package acc

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"actiongate/internal/audit"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/sentinel"
	"actiongate/pkg/requestcontext"
)

// Validation failures. Compare with errors.Is or dErrors.HasCode.
var (
	ErrTokenNotFound     = dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "acc token not found")
	ErrTokenExpired      = dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeExpired, "acc token expired")
	ErrTokenAlreadyUsed  = dErrors.Wrap(sentinel.ErrAlreadyUsed, dErrors.CodeAlreadyUsed, "acc token already used")
	ErrTokenRevoked      = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeExpired, "acc token revoked")
	ErrChallengeMismatch = dErrors.Wrap(sentinel.ErrMismatch, dErrors.CodeForbidden, "acc challenge response mismatch")
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
)

// Metrics is the subset of platform metrics the manager reports to.
type Metrics interface {
	IncACC(outcome string)
}

type Manager struct {
	log         *audit.Log
	clock       clock.Clock
	logger      *slog.Logger
	metrics     Metrics
	tracer      trace.Tracer
	ttl         time.Duration
	maxAttempts int
	kind        Kind
	generate    Generator

	mu     sync.Mutex
	tokens map[id.ACCID]*Token
	timers map[id.ACCID]*clock.Timer
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxAttempts bounds wrong responses; the last allowed miss expires the token.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithKind(k Kind) Option {
	return func(m *Manager) {
		if k.IsValid() {
			m.kind = k
		}
	}
}

func WithGenerator(g Generator) Option {
	return func(m *Manager) { m.generate = g }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func New(log *audit.Log, opts ...Option) *Manager {
	m := &Manager{
		log:         log,
		clock:       clock.Real(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("actiongate/acc"),
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		kind:        KindTypeCode,
		generate:    RandomChallenge,
		tokens:      make(map[id.ACCID]*Token),
		timers:      make(map[id.ACCID]*clock.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a token bound to grantID and contextID, schedules its expiry
// and emits ACC_ISSUED.
func (m *Manager) Issue(ctx context.Context, grantID id.GrantID, contextID id.ContextID) (Token, error) {
	challenge, err := m.generate(m.kind)
	if err != nil {
		return Token{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate acc challenge")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	tok := &Token{
		ID:            id.NewACCID(),
		GrantID:       grantID,
		ContextID:     contextID,
		Kind:          challenge.Kind,
		Prompt:        challenge.Prompt,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.ttl),
		State:         StateIssued,
		challengeHash: digest(challenge.Response),
	}
	m.tokens[tok.ID] = tok
	accID := tok.ID
	m.timers[accID] = m.clock.AfterFunc(m.ttl, func() { m.expire(accID) })

	m.log.MustEmit(ctx, audit.ACCIssued{
		ACCID:     tok.ID,
		GrantID:   grantID,
		ContextID: contextID,
		Kind:      string(tok.Kind),
		ExpiresAt: tok.ExpiresAt,
	})
	m.incACC("issued")
	return *tok, nil
}

// Validate checks a human response. Order matters: existence, expiry and
// replay are decided before the response is compared, so a correct answer
// to a used token is still a replay.
func (m *Manager) Validate(ctx context.Context, accID id.ACCID, response string) (Token, error) {
	ctx, span := m.tracer.Start(ctx, "acc.Validate", trace.WithAttributes(attribute.String("acc.id", accID.String())))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.MustEmit(ctx, audit.ACCResponseReceived{ACCID: accID})
	now := m.clock.Now()

	tok, ok := m.tokens[accID]
	if !ok {
		return Token{}, m.reject(ctx, accID, "not_found", 0, ErrTokenNotFound)
	}
	if tok.State == StateIssued && !now.Before(tok.ExpiresAt) {
		m.expireLocked(ctx, tok, "ttl")
	}
	switch tok.State {
	case StateExpired:
		return *tok, m.reject(ctx, accID, "expired", tok.Attempts, ErrTokenExpired)
	case StateConsumed:
		if !now.Before(tok.ExpiresAt) {
			return *tok, m.reject(ctx, accID, "expired", tok.Attempts, ErrTokenExpired)
		}
		m.logger.WarnContext(ctx, "acc replay rejected",
			"acc_id", accID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return *tok, m.reject(ctx, accID, "already_used", tok.Attempts, ErrTokenAlreadyUsed)
	case StateRevoked:
		return *tok, m.reject(ctx, accID, "revoked", tok.Attempts, ErrTokenRevoked)
	}

	got := digest(response)
	if subtle.ConstantTimeCompare(got[:], tok.challengeHash[:]) != 1 {
		tok.Attempts++
		err := m.reject(ctx, accID, "mismatch", tok.Attempts, ErrChallengeMismatch)
		if tok.Attempts >= m.maxAttempts {
			m.expireLocked(ctx, tok, "attempts_exhausted")
		}
		return *tok, err
	}

	tok.State = StateConsumed
	tok.ValidatedAt = now
	m.stopTimerLocked(accID)
	m.log.MustEmit(ctx, audit.ACCValidated{ACCID: accID, GrantID: tok.GrantID, ContextID: tok.ContextID})
	m.log.MustEmit(ctx, audit.ACCTokenConsumed{ACCID: accID, GrantID: tok.GrantID})
	m.incACC("validated")
	m.logger.InfoContext(ctx, "acc validated", "acc_id", accID.String(), "grant_id", tok.GrantID.String())
	return *tok, nil
}

func (m *Manager) reject(ctx context.Context, accID id.ACCID, reason string, attempts int, err error) error {
	m.log.MustEmit(ctx, audit.ACCRejected{ACCID: accID, Reason: reason, Attempts: attempts})
	m.incACC(reason)
	return err
}

// Pending returns the live, not yet validated token for this invocation.
func (m *Manager) Pending(grantID id.GrantID, contextID id.ContextID) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for _, tok := range m.tokens {
		if tok.boundTo(grantID, contextID) && tok.State == StateIssued && now.Before(tok.ExpiresAt) {
			return *tok, true
		}
	}
	return Token{}, false
}

// Redeem spends a validated token for this invocation. It succeeds at most
// once per token and only before the token's expiry.
func (m *Manager) Redeem(grantID id.GrantID, contextID id.ContextID) (id.ACCID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for _, tok := range m.tokens {
		if tok.boundTo(grantID, contextID) && tok.State == StateConsumed && !tok.Redeemed && !tok.Invalidated && now.Before(tok.ExpiresAt) {
			tok.Redeemed = true
			return tok.ID, true
		}
	}
	return id.ACCID{}, false
}

func (m *Manager) Get(accID id.ACCID) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[accID]
	if !ok {
		return Token{}, false
	}
	return *tok, true
}

// Outstanding lists tokens still awaiting a response.
func (m *Manager) Outstanding() []Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var out []Token
	for _, tok := range m.tokens {
		if tok.State == StateIssued && now.Before(tok.ExpiresAt) {
			out = append(out, *tok)
		}
	}
	return out
}

// Revoke invalidates one outstanding token, e.g. when the human dismisses it.
func (m *Manager) Revoke(ctx context.Context, accID id.ACCID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[accID]
	if !ok {
		return ErrTokenNotFound
	}
	if tok.State != StateIssued {
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict, "acc token is no longer outstanding")
	}
	tok.State = StateRevoked
	m.stopTimerLocked(accID)
	m.log.MustEmit(ctx, audit.ACCTokenRevoked{ACCID: accID})
	return nil
}

// InvalidateAll revokes every token that could still authorize something and
// emits ACC_TOKENS_INVALIDATED with the count. Calling it again is harmless.
func (m *Manager) InvalidateAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for accID, tok := range m.tokens {
		switch {
		case tok.State == StateIssued:
			tok.State = StateRevoked
			m.stopTimerLocked(accID)
		case tok.State == StateConsumed && !tok.Redeemed && !tok.Invalidated:
			tok.Invalidated = true
		default:
			continue
		}
		n++
	}
	m.log.MustEmit(ctx, audit.ACCTokensInvalidated{Count: n})
	return n
}

// expire runs from the expiry timer through the same lock as every caller.
func (m *Manager) expire(accID id.ACCID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, accID)
	if tok, ok := m.tokens[accID]; ok && tok.State == StateIssued {
		m.expireLocked(context.Background(), tok, "ttl")
	}
}

func (m *Manager) expireLocked(ctx context.Context, tok *Token, reason string) {
	tok.State = StateExpired
	m.stopTimerLocked(tok.ID)
	m.log.MustEmit(ctx, audit.ACCExpired{ACCID: tok.ID, Reason: reason})
	m.incACC("expired")
}

func (m *Manager) incACC(outcome string) {
	if m.metrics != nil {
		m.metrics.IncACC(outcome)
	}
}

func (m *Manager) stopTimerLocked(accID id.ACCID) {
	if t, ok := m.timers[accID]; ok {
		t.Stop()
		delete(m.timers, accID)
	}
}
