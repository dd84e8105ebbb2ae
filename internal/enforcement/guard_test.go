package enforcement_test

//go:generate mockgen -source=adapter.go -destination=mocks/mock_adapter.go -package=mocks Adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"actiongate/internal/enforcement"
	"actiongate/internal/enforcement/mocks"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/circuit"
)

// =============================================================================
// Guard Test Suite
// =============================================================================
// Justification: the guard is where adapter failures turn into denials. Every
// way an adapter can fail to answer must come back as a tagged denial.

type GuardSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	adapter *mocks.MockAdapter
	guard   *enforcement.Guard
	ctx     context.Context
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.adapter = mocks.NewMockAdapter(s.ctrl)
	s.ctx = context.Background()
	var err error
	s.guard, err = enforcement.NewGuard(s.adapter,
		enforcement.WithCallTimeout(20*time.Millisecond),
		enforcement.WithGuardLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		enforcement.WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
	)
	s.Require().NoError(err)
}

func (s *GuardSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GuardSuite) TestNewGuard() {
	s.Run("nil adapter is rejected", func() {
		_, err := enforcement.NewGuard(nil)
		s.Error(err)
	})
}

func (s *GuardSuite) TestCheckModal() {
	s.Run("clear screen passes", func() {
		s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, nil)
		s.NoError(s.guard.CheckModal(s.ctx))
	})

	s.Run("visible dialog is a hard stop", func() {
		s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(true, nil)
		err := s.guard.CheckModal(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeOSHardStop))
		s.Contains(err.Error(), "[OS_HARD_STOP]")
	})

	s.Run("adapter error denies", func() {
		s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, errors.New("bus down"))
		err := s.guard.CheckModal(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
	})

	s.Run("slow adapter denies after the timeout", func() {
		s.adapter.EXPECT().IsModalBlocking(gomock.Any()).DoAndReturn(func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})
		err := s.guard.CheckModal(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
	})
}

func (s *GuardSuite) TestBreakerOpensAndRecovers() {
	s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, errors.New("unreachable")).Times(2)
	s.Error(s.guard.CheckModal(s.ctx))
	s.Error(s.guard.CheckModal(s.ctx))
	s.True(s.guard.Degraded())

	s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, nil)
	s.NoError(s.guard.CheckModal(s.ctx))
	s.False(s.guard.Degraded())
}

func (s *GuardSuite) TestResourceIdentity() {
	identity := enforcement.ResourceIdentity{Path: "/tmp/mix.wav", Key: "dev:42/ino:7"}

	s.Run("bind returns the adapter identity", func() {
		s.adapter.EXPECT().BindResourceIdentity(gomock.Any(), "/tmp/mix.wav").Return(identity, nil)
		got, err := s.guard.BindResource(s.ctx, "/tmp/mix.wav")
		s.Require().NoError(err)
		s.Equal(identity, got)
	})

	s.Run("empty identity is refused", func() {
		s.adapter.EXPECT().BindResourceIdentity(gomock.Any(), "/tmp/mix.wav").Return(enforcement.ResourceIdentity{}, nil)
		_, err := s.guard.BindResource(s.ctx, "/tmp/mix.wav")
		s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
	})

	s.Run("match passes", func() {
		s.adapter.EXPECT().VerifyResourceIdentity(gomock.Any(), identity).Return(enforcement.Match, nil)
		s.NoError(s.guard.VerifyResource(s.ctx, identity))
	})

	s.Run("mismatch denies", func() {
		s.adapter.EXPECT().VerifyResourceIdentity(gomock.Any(), identity).Return(enforcement.Mismatch, nil)
		err := s.guard.VerifyResource(s.ctx, identity)
		s.ErrorIs(err, enforcement.ErrIdentityMismatch)
	})

	s.Run("verification error denies", func() {
		s.adapter.EXPECT().VerifyResourceIdentity(gomock.Any(), identity).Return(enforcement.Match, errors.New("stat failed"))
		err := s.guard.VerifyResource(s.ctx, identity)
		s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
	})
}

func (s *GuardSuite) TestClassifyInput() {
	input := enforcement.InputDescriptor{Application: "daw", Role: "text", Label: "Track name"}
	cases := []struct {
		name    string
		class   enforcement.Classification
		err     error
		allowed bool
	}{
		{"safe target", enforcement.ClassificationSafe, nil, true},
		{"sensitive target", enforcement.ClassificationSensitive, nil, false},
		{"unknown target", enforcement.ClassificationUnknown, nil, false},
		{"unrecognised classification", enforcement.Classification("MAYBE"), nil, false},
		{"classifier error", enforcement.ClassificationSafe, errors.New("no accessibility"), false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.adapter.EXPECT().ClassifyInputTarget(gomock.Any(), input).Return(tc.class, tc.err)
			err := s.guard.ClassifyInput(s.ctx, input)
			if tc.allowed {
				s.NoError(err)
				return
			}
			s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
		})
	}
}

func (s *GuardSuite) TestClassifyFocus() {
	target := enforcement.InputDescriptor{Application: "daw", Role: "button", Label: "Solo"}
	cases := []struct {
		name    string
		class   enforcement.Classification
		err     error
		allowed bool
	}{
		{"safe target", enforcement.ClassificationSafe, nil, true},
		{"unknown target", enforcement.ClassificationUnknown, nil, true},
		{"sensitive target", enforcement.ClassificationSensitive, nil, false},
		{"classifier error", enforcement.ClassificationSafe, errors.New("no accessibility"), false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.adapter.EXPECT().ClassifyInputTarget(gomock.Any(), target).Return(tc.class, tc.err)
			err := s.guard.ClassifyFocus(s.ctx, target)
			if tc.allowed {
				s.NoError(err)
				return
			}
			s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
		})
	}
}

func (s *GuardSuite) TestJobs() {
	spec := enforcement.JobSpec{Name: "export"}
	handle := enforcement.JobHandle{ID: "job-1"}

	s.Run("start failure is a denial", func() {
		s.adapter.EXPECT().StartKillableJob(gomock.Any(), gomock.Any()).Return(enforcement.JobHandle{}, errors.New("spawn failed"))
		_, err := s.guard.StartJob(s.ctx, spec)
		s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied))
	})

	s.Run("terminate failure is never stable", func() {
		s.adapter.EXPECT().TerminateJob(gomock.Any(), handle).Return(enforcement.Termination{Stable: true}, errors.New("kill failed"))
		term, err := s.guard.TerminateJob(s.ctx, handle)
		s.Error(err)
		s.False(term.Stable)
	})

	s.Run("terminate passes the verdict through", func() {
		s.adapter.EXPECT().TerminateJob(gomock.Any(), handle).Return(enforcement.Termination{Stable: true}, nil)
		term, err := s.guard.TerminateJob(s.ctx, handle)
		s.Require().NoError(err)
		s.True(term.Stable)
	})
}

// Justification: an open breaker has no half-open timer, so recovery depends on
// the adapter still being asked while every answer is thrown away.
func (s *GuardSuite) TestOpenBreakerStillAsksButDenies() {
	guard, err := enforcement.NewGuard(s.adapter,
		enforcement.WithCallTimeout(20*time.Millisecond),
		enforcement.WithGuardLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, errors.New("unreachable")).Times(3)
	for range 3 {
		s.Error(guard.CheckModal(s.ctx))
	}
	s.Require().True(guard.Degraded())

	s.adapter.EXPECT().IsModalBlocking(gomock.Any()).Return(false, nil).Times(2)
	err = guard.CheckModal(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeOSPermissionDenied), "first success while open is discarded")
	s.True(guard.Degraded())

	s.NoError(guard.CheckModal(s.ctx))
	s.False(guard.Degraded())
}
