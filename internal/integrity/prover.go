// Package integrity certifies the audit chain on a schedule and escalates a
// broken chain into an authority lockdown.
package integrity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"actiongate/internal/audit"
	"actiongate/pkg/platform/clock"
)

type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Level maps a status to the integrity gauge value.
func (s Status) Level() float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Classify turns a verification error into a status. Only a broken chain is
// critical; anything else that stopped verification is advisory.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusHealthy
	case errors.Is(err, audit.ErrChainBroken):
		return StatusCritical
	default:
		return StatusDegraded
	}
}

type Certificate struct {
	Status    Status    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
	HeadHash  string    `json:"head_hash"`
	Sequence  uint64    `json:"sequence"`
	Detail    string    `json:"detail,omitempty"`
}

// Chain is what the prover verifies. *audit.Log satisfies it.
type Chain interface {
	Verify(ctx context.Context) error
	Head() (uint64, string)
}

// Lockdown is the enforcement side of a CRITICAL verdict.
type Lockdown interface {
	EnterLockdown(ctx context.Context, reason string, sequence uint64, headHash string)
}

// HealthSource reports trouble that makes a verdict advisory, such as an
// audit sink that stopped accepting writes.
type HealthSource interface {
	Degraded() bool
}

type Metrics interface {
	SetIntegrityStatus(level float64)
}

const DefaultInterval = 24 * time.Hour

type Prover struct {
	log      *audit.Log
	chain    Chain
	lockdown Lockdown
	health   []HealthSource
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer

	mu   sync.RWMutex
	last *Certificate
}

type Option func(*Prover)

// WithChain verifies c instead of the log the prover reports to.
func WithChain(c Chain) Option {
	return func(p *Prover) { p.chain = c }
}

func WithHealthSource(h HealthSource) Option {
	return func(p *Prover) {
		if h != nil {
			p.health = append(p.health, h)
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Prover) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Prover) { p.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Prover) { p.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(p *Prover) { p.metrics = m }
}

func New(log *audit.Log, lockdown Lockdown, opts ...Option) *Prover {
	p := &Prover{
		log:      log,
		chain:    log,
		lockdown: lockdown,
		clock:    clock.Real(),
		interval: DefaultInterval,
		logger:   slog.Default(),
		tracer:   otel.Tracer("actiongate/integrity"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Certify verifies the chain now. A CRITICAL verdict puts the authority in
// lockdown before Certify returns.
func (p *Prover) Certify(ctx context.Context) Certificate {
	ctx, span := p.tracer.Start(ctx, "integrity.Certify")
	defer span.End()

	seq, head := p.chain.Head()
	err := p.chain.Verify(ctx)
	cert := Certificate{
		Status:    Classify(err),
		CheckedAt: p.clock.Now(),
		HeadHash:  head,
		Sequence:  seq,
	}
	if err != nil {
		cert.Detail = err.Error()
	} else {
		for _, h := range p.health {
			if h.Degraded() {
				cert.Status = StatusDegraded
				cert.Detail = "audit persistence is failing"
				break
			}
		}
	}
	span.SetAttributes(attribute.String("integrity.status", string(cert.Status)))

	p.log.MustEmit(ctx, audit.IntegrityVerified{
		Status:   string(cert.Status),
		HeadHash: cert.HeadHash,
		Sequence: cert.Sequence,
		Detail:   cert.Detail,
	})
	if p.metrics != nil {
		p.metrics.SetIntegrityStatus(cert.Status.Level())
	}

	switch cert.Status {
	case StatusCritical:
		p.logger.ErrorContext(ctx, "audit chain broken", "sequence", seq, "detail", cert.Detail)
		if p.lockdown != nil {
			p.lockdown.EnterLockdown(ctx, "audit chain broken", seq, head)
		}
	case StatusDegraded:
		p.logger.WarnContext(ctx, "integrity degraded", "detail", cert.Detail)
	default:
		p.logger.InfoContext(ctx, "integrity certified", "sequence", seq, "head_hash", head)
	}

	p.mu.Lock()
	p.last = &cert
	p.mu.Unlock()
	return cert
}

// Last returns the most recent certificate, if any.
func (p *Prover) Last() (Certificate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Certificate{}, false
	}
	return *p.last, true
}

// Run certifies once immediately and then every interval until ctx ends.
func (p *Prover) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Certify(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Certify(ctx)
		}
	}
}
