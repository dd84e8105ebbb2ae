package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/circuit"
	"actiongate/pkg/platform/sentinel"
)

// DefaultCallTimeout bounds every adapter call.
const DefaultCallTimeout = 250 * time.Millisecond

var (
	ErrIdentityMismatch  = dErrors.Wrap(sentinel.ErrMismatch, dErrors.CodeOSPermissionDenied, "resource identity changed since grant")
	ErrSensitiveInput    = dErrors.New(dErrors.CodeOSPermissionDenied, "input target is sensitive")
	ErrUnclassifiedInput = dErrors.New(dErrors.CodeOSPermissionDenied, "input target could not be classified")
	ErrSensitiveFocus    = dErrors.New(dErrors.CodeOSPermissionDenied, "focus target is sensitive")
	ErrModalBlocking     = dErrors.New(dErrors.CodeOSHardStop, "system dialog is blocking")
)

// Guard wraps an Adapter so that every failure to answer becomes a denial.
// Errors returned by Guard carry CodeOSHardStop or CodeOSPermissionDenied.
type Guard struct {
	adapter Adapter
	timeout time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type GuardOption func(*Guard)

func WithCallTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) GuardOption {
	return func(g *Guard) {
		if b != nil {
			g.breaker = b
		}
	}
}

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

func NewGuard(adapter Adapter, opts ...GuardOption) (*Guard, error) {
	if adapter == nil {
		return nil, errors.New("enforcement adapter is required")
	}
	g := &Guard{
		adapter: adapter,
		timeout: DefaultCallTimeout,
		breaker: circuit.New("enforcement-adapter", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Degraded reports whether the adapter has recently been failing.
func (g *Guard) Degraded() bool { return g.breaker.IsOpen() }

// CheckModal returns nil only when the adapter positively answers that no
// blocking dialog is visible.
func (g *Guard) CheckModal(ctx context.Context) error {
	blocking, err := call(ctx, g, "is_modal_blocking", g.adapter.IsModalBlocking)
	if err != nil {
		return err
	}
	if blocking {
		return ErrModalBlocking
	}
	return nil
}

func (g *Guard) BindResource(ctx context.Context, path string) (ResourceIdentity, error) {
	identity, err := call(ctx, g, "bind_resource_identity", func(ctx context.Context) (ResourceIdentity, error) {
		return g.adapter.BindResourceIdentity(ctx, path)
	})
	if err != nil {
		return ResourceIdentity{}, err
	}
	if identity.IsZero() {
		return ResourceIdentity{}, dErrors.New(dErrors.CodeOSPermissionDenied, "adapter returned an empty resource identity")
	}
	return identity, nil
}

func (g *Guard) VerifyResource(ctx context.Context, identity ResourceIdentity) error {
	match, err := call(ctx, g, "verify_resource_identity", func(ctx context.Context) (IdentityMatch, error) {
		return g.adapter.VerifyResourceIdentity(ctx, identity)
	})
	if err != nil {
		return err
	}
	if match != Match {
		return ErrIdentityMismatch
	}
	return nil
}

// ClassifyInput denies SENSITIVE and UNKNOWN targets alike.
func (g *Guard) ClassifyInput(ctx context.Context, input InputDescriptor) error {
	class, err := g.classify(ctx, input)
	if err != nil {
		return err
	}
	switch class {
	case ClassificationSafe:
		return nil
	case ClassificationSensitive:
		return ErrSensitiveInput
	default:
		return ErrUnclassifiedInput
	}
}

// ClassifyFocus only refuses moving focus onto a SENSITIVE target. Nothing
// is typed, so an UNKNOWN target is allowed.
func (g *Guard) ClassifyFocus(ctx context.Context, target InputDescriptor) error {
	class, err := g.classify(ctx, target)
	if err != nil {
		return err
	}
	if class == ClassificationSensitive {
		return ErrSensitiveFocus
	}
	return nil
}

func (g *Guard) classify(ctx context.Context, input InputDescriptor) (Classification, error) {
	return call(ctx, g, "classify_input_target", func(ctx context.Context) (Classification, error) {
		return g.adapter.ClassifyInputTarget(ctx, input)
	})
}

// StartJob is not bounded by the call timeout; starting a job may take as
// long as ctx allows.
func (g *Guard) StartJob(ctx context.Context, spec JobSpec) (JobHandle, error) {
	handle, err := g.adapter.StartKillableJob(ctx, spec)
	if err != nil {
		return JobHandle{}, dErrors.Wrap(err, dErrors.CodeOSPermissionDenied, "failed to start job")
	}
	return handle, nil
}

// TerminateJob reports an unstable termination on any adapter failure.
func (g *Guard) TerminateJob(ctx context.Context, handle JobHandle) (Termination, error) {
	term, err := g.adapter.TerminateJob(ctx, handle)
	if err != nil {
		g.logger.ErrorContext(ctx, "job termination failed", "job_id", handle.ID, "error", err)
		return Termination{Stable: false, Reason: err.Error()}, dErrors.Wrap(err, dErrors.CodeOSPermissionDenied, "failed to terminate job")
	}
	return term, nil
}

type result[T any] struct {
	val T
	err error
}

// call runs fn with the guard's timeout. An adapter that ignores ctx still
// cannot hold a check past the deadline.
func call[T any](ctx context.Context, g *Guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	var res result[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result[T]{err: fmt.Errorf("%s: %w", op, ctx.Err())}
	}

	if res.err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "enforcement adapter circuit opened", "op", op)
		}
		g.logger.WarnContext(ctx, "enforcement adapter failed, denying", "op", op, "error", res.err)
		return zero, dErrors.Wrap(res.err, dErrors.CodeOSPermissionDenied, "enforcement adapter unavailable")
	}
	usePrimary, change := g.breaker.RecordSuccess()
	if change.Closed {
		g.logger.InfoContext(ctx, "enforcement adapter circuit closed", "op", op)
	}
	if !usePrimary {
		return zero, dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeOSPermissionDenied, "enforcement adapter recovering")
	}
	return res.val, nil
}
