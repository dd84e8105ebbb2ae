package enforcement

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/sentinel"
)

// DefaultSettle is how long Headless waits between the two output samples
// that decide whether a terminated job left a stable file.
const DefaultSettle = 50 * time.Millisecond

// Headless is the adapter for processes with no windowing system. No dialog
// can ever block, file identity comes from os.SameFile, and input targets
// cannot be classified, so text input is always denied.
type Headless struct {
	clock  clock.Clock
	settle time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	bound map[string]fs.FileInfo
	jobs  map[string]*headlessJob
}

type headlessJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type HeadlessOption func(*Headless)

func WithHeadlessClock(c clock.Clock) HeadlessOption {
	return func(h *Headless) { h.clock = c }
}

func WithSettle(d time.Duration) HeadlessOption {
	return func(h *Headless) {
		if d >= 0 {
			h.settle = d
		}
	}
}

func WithHeadlessLogger(logger *slog.Logger) HeadlessOption {
	return func(h *Headless) { h.logger = logger }
}

func NewHeadless(opts ...HeadlessOption) *Headless {
	h := &Headless{
		clock:  clock.Real(),
		settle: DefaultSettle,
		logger: slog.Default(),
		bound:  make(map[string]fs.FileInfo),
		jobs:   make(map[string]*headlessJob),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Headless) IsModalBlocking(context.Context) (bool, error) { return false, nil }

func (h *Headless) BindResourceIdentity(_ context.Context, path string) (ResourceIdentity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ResourceIdentity{}, err
	}
	key := uuid.NewString()
	h.mu.Lock()
	h.bound[key] = info
	h.mu.Unlock()
	return ResourceIdentity{Path: path, Key: key, CapturedAt: h.clock.Now()}, nil
}

func (h *Headless) VerifyResourceIdentity(_ context.Context, identity ResourceIdentity) (IdentityMatch, error) {
	h.mu.Lock()
	bound, ok := h.bound[identity.Key]
	h.mu.Unlock()
	if !ok {
		return Mismatch, nil
	}
	current, err := os.Stat(identity.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mismatch, nil
	}
	if err != nil {
		return Mismatch, err
	}
	if !os.SameFile(bound, current) {
		return Mismatch, nil
	}
	return Match, nil
}

func (h *Headless) StartKillableJob(ctx context.Context, spec JobSpec) (JobHandle, error) {
	if spec.Run == nil {
		return JobHandle{}, errors.New("job has no work")
	}
	handle := JobHandle{ID: uuid.NewString(), ContextID: spec.ContextID, StartedAt: h.clock.Now()}
	if spec.OutputPath != "" {
		handle.Output = ResourceIdentity{Path: spec.OutputPath}
	}

	// The job outlives the request that started it; only TerminateJob stops it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &headlessJob{cancel: cancel, done: make(chan struct{})}
	h.mu.Lock()
	h.jobs[handle.ID] = job
	h.mu.Unlock()

	go func() {
		defer close(job.done)
		job.err = spec.Run(jobCtx)
	}()
	return handle, nil
}

func (h *Headless) TerminateJob(ctx context.Context, handle JobHandle) (Termination, error) {
	h.mu.Lock()
	job, ok := h.jobs[handle.ID]
	delete(h.jobs, handle.ID)
	h.mu.Unlock()
	if !ok {
		return Termination{}, sentinel.ErrNotFound
	}

	job.cancel()
	select {
	case <-job.done:
	case <-ctx.Done():
		return Termination{Stable: false, Reason: "job did not stop"}, nil
	}
	if job.err != nil && !errors.Is(job.err, context.Canceled) {
		h.logger.WarnContext(ctx, "job ended with error", "job_id", handle.ID, "error", job.err)
	}
	if handle.Output.Path == "" {
		return Termination{Stable: true}, nil
	}
	return h.sampleOutput(ctx, handle.Output.Path)
}

// sampleOutput stats the output twice, settle apart. The file is stable when
// it is the same file with the same size and modification time both times.
func (h *Headless) sampleOutput(ctx context.Context, path string) (Termination, error) {
	first, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Termination{Stable: true, Reason: "no output written"}, nil
	}
	if err != nil {
		return Termination{}, err
	}

	if h.settle > 0 {
		wait := make(chan struct{})
		t := h.clock.AfterFunc(h.settle, func() { close(wait) })
		select {
		case <-wait:
		case <-ctx.Done():
			t.Stop()
			return Termination{Stable: false, Reason: "interrupted while sampling output"}, nil
		}
	}

	second, err := os.Stat(path)
	if err != nil {
		return Termination{Stable: false, Reason: "output disappeared"}, nil
	}
	if !os.SameFile(first, second) {
		return Termination{Stable: false, Reason: "output replaced"}, nil
	}
	if first.Size() != second.Size() || !first.ModTime().Equal(second.ModTime()) {
		return Termination{Stable: false, Reason: "output still changing"}, nil
	}
	return Termination{Stable: true}, nil
}

func (h *Headless) ClassifyInputTarget(context.Context, InputDescriptor) (Classification, error) {
	return ClassificationUnknown, nil
}
