package integrity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"actiongate/internal/audit"
	"actiongate/pkg/platform/clock"
)

// recordsChain verifies a detached copy of a chain, the way a sink read-back
// would.
type recordsChain struct {
	records []audit.Record
}

func (c recordsChain) Verify(context.Context) error { return audit.VerifyRecords(c.records) }

func (c recordsChain) Head() (uint64, string) {
	if len(c.records) == 0 {
		return 0, audit.GenesisHash
	}
	last := c.records[len(c.records)-1]
	return last.Sequence, last.Hash
}

type failingChain struct{ err error }

func (c failingChain) Verify(context.Context) error { return c.err }
func (failingChain) Head() (uint64, string)         { return 3, "head" }

type lockdownSpy struct {
	mu      sync.Mutex
	reasons []string
}

func (l *lockdownSpy) EnterLockdown(_ context.Context, reason string, _ uint64, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reasons = append(l.reasons, reason)
}

func (l *lockdownSpy) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reasons)
}

type degradedSource bool

func (d degradedSource) Degraded() bool { return bool(d) }

type gauge struct{ level float64 }

func (g *gauge) SetIntegrityStatus(level float64) { g.level = level }

type ProverSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *clock.FakeClock
	log      *audit.Log
	lockdown *lockdownSpy
	logger   *slog.Logger
}

func TestProverSuite(t *testing.T) {
	suite.Run(t, new(ProverSuite))
}

func (s *ProverSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.log = audit.NewLog("integrity-test", audit.WithClock(s.clock), audit.WithLogger(s.logger))
	s.lockdown = &lockdownSpy{}
	for i := 0; i < 5; i++ {
		s.log.MustEmit(s.ctx, audit.RevokeAllAuthorities{Reason: "seed"})
	}
}

func (s *ProverSuite) newProver(opts ...Option) *Prover {
	opts = append([]Option{WithClock(s.clock), WithLogger(s.logger)}, opts...)
	return New(s.log, s.lockdown, opts...)
}

func (s *ProverSuite) TestUntouchedChainIsHealthy() {
	g := &gauge{level: -1}
	p := s.newProver(WithMetrics(g))
	seq, head := s.log.Head()

	cert := p.Certify(s.ctx)
	s.Equal(StatusHealthy, cert.Status)
	s.Equal(seq, cert.Sequence)
	s.Equal(head, cert.HeadHash)
	s.Equal(s.clock.Now(), cert.CheckedAt)
	s.Zero(s.lockdown.count())
	s.Equal(0.0, g.level)

	last, ok := p.Last()
	s.True(ok)
	s.Equal(cert, last)
	s.Equal(audit.EventIntegrityVerified, s.log.Types()[len(s.log.Types())-1])
}

func (s *ProverSuite) TestMutatedDataIsCritical() {
	records := s.log.Records()
	records[2].Data = []byte(`{"reason":"edited"}`)
	g := &gauge{}
	p := s.newProver(WithChain(recordsChain{records: records}), WithMetrics(g))

	cert := p.Certify(s.ctx)
	s.Equal(StatusCritical, cert.Status)
	s.Contains(cert.Detail, "sequence 3")
	s.Equal(1, s.lockdown.count())
	s.Equal(2.0, g.level)
}

func (s *ProverSuite) TestVerificationErrorIsDegraded() {
	p := s.newProver(WithChain(failingChain{err: errors.New("read timeout")}))
	cert := p.Certify(s.ctx)
	s.Equal(StatusDegraded, cert.Status)
	s.Zero(s.lockdown.count())
}

func (s *ProverSuite) TestFailingSinkIsDegraded() {
	p := s.newProver(WithHealthSource(degradedSource(true)))
	s.Equal(StatusDegraded, p.Certify(s.ctx).Status)

	p = s.newProver(WithHealthSource(degradedSource(false)))
	s.Equal(StatusHealthy, p.Certify(s.ctx).Status)
}

func (s *ProverSuite) TestClassify() {
	s.Equal(StatusHealthy, Classify(nil))
	s.Equal(StatusCritical, Classify(&audit.ChainError{Sequence: 1, Reason: "hash mismatch"}))
	s.Equal(StatusDegraded, Classify(context.DeadlineExceeded))
}

func (s *ProverSuite) TestRunCertifiesOnSchedule() {
	p := s.newProver(WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	s.Eventually(func() bool {
		_, ok := p.Last()
		return ok
	}, time.Second, 5*time.Millisecond, "certifies at start")

	first, _ := p.Last()
	s.clock.Advance(time.Hour)
	s.Eventually(func() bool {
		last, _ := p.Last()
		return last.Sequence > first.Sequence
	}, time.Second, 5*time.Millisecond, "certifies again after the interval")

	cancel()
	s.NoError(<-done)
}
