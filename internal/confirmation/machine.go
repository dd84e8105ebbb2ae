// Package confirmation captures a sustained human gesture for one proposed
// action before that action may ask for authority.
package confirmation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"actiongate/internal/audit"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/sentinel"
)

type State string

const (
	StateGenerated    State = "GENERATED"
	StateVisibleGhost State = "VISIBLE_GHOST"
	StateHolding      State = "HOLDING"
	StatePreviewArmed State = "PREVIEW_ARMED"
	StateExecuted     State = "EXECUTED"
	StateRejected     State = "REJECTED"
)

func (s State) IsTerminal() bool {
	return s == StateExecuted || s == StateRejected
}

type Event string

const (
	EventShow        Event = "SHOW"
	EventHoldStart   Event = "HOLD_START"
	EventHoldTimeout Event = "HOLD_TIMEOUT"
	EventHoldEnd     Event = "HOLD_END"
	EventConfirm     Event = "CONFIRM"
	EventReject      Event = "REJECT"
)

// IsGesture reports whether the event comes from the human rather than from
// the display or the hold timer.
func (e Event) IsGesture() bool {
	switch e {
	case EventHoldStart, EventHoldEnd, EventConfirm, EventReject:
		return true
	}
	return false
}

// DefaultHoldThreshold is how long a press must be sustained to arm.
const DefaultHoldThreshold = 400 * time.Millisecond

// ErrInvalidEvent is returned for events that do not apply to the current
// state. The machine is left unchanged.
var ErrInvalidEvent = dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict, "event not valid in current state")

// transitions is the whole state machine. REJECT is added for every
// non-terminal state in init.
var transitions = map[State]map[Event]State{
	StateGenerated: {
		EventShow: StateVisibleGhost,
	},
	StateVisibleGhost: {
		EventHoldStart: StateHolding,
	},
	StateHolding: {
		EventHoldTimeout: StatePreviewArmed,
		EventHoldEnd:     StateVisibleGhost,
	},
	StatePreviewArmed: {
		EventConfirm: StateExecuted,
		// Releasing after the threshold keeps the preview armed.
		EventHoldEnd: StatePreviewArmed,
	},
	StateExecuted: {},
	StateRejected: {},
}

func init() {
	for state, events := range transitions {
		if !state.IsTerminal() {
			events[EventReject] = StateRejected
		}
	}
}

// Metrics is the subset of platform metrics the machine reports to.
type Metrics interface {
	IncTransition(from, to string)
}

// Transition is one applied state change.
type Transition struct {
	From  State
	To    State
	Event Event
	At    time.Time
}

// Machine is bound to exactly one ActionContext for its whole life.
type Machine struct {
	action    id.ActionContext
	threshold time.Duration
	log       *audit.Log
	clock     clock.Clock
	logger    *slog.Logger
	metrics   Metrics
	activity  func(context.Context)

	mu         sync.Mutex
	state      State
	timer      *clock.Timer
	generation uint64
	history    []Transition
}

type Option func(*Machine)

func WithHoldThreshold(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.threshold = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithActivity is called after every accepted human gesture, outside the
// machine's lock.
func WithActivity(fn func(context.Context)) Option {
	return func(m *Machine) { m.activity = fn }
}

func New(action id.ActionContext, log *audit.Log, opts ...Option) *Machine {
	m := &Machine{
		action:    action,
		threshold: DefaultHoldThreshold,
		log:       log,
		clock:     clock.Real(),
		logger:    slog.Default(),
		state:     StateGenerated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Action() id.ActionContext { return m.action }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns the applied transitions in order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Fire applies a caller-driven event. HOLD_TIMEOUT belongs to the hold timer
// and is rejected here like any other invalid event.
func (m *Machine) Fire(ctx context.Context, ev Event) (State, error) {
	state, err := m.fire(ctx, ev)
	if err == nil && m.activity != nil && ev.IsGesture() {
		m.activity(ctx)
	}
	return state, err
}

func (m *Machine) fire(ctx context.Context, ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev == EventHoldTimeout {
		return m.state, m.rejectLocked(ctx, ev)
	}
	return m.applyLocked(ctx, ev)
}

func (m *Machine) Show(ctx context.Context) (State, error)      { return m.Fire(ctx, EventShow) }
func (m *Machine) HoldStart(ctx context.Context) (State, error) { return m.Fire(ctx, EventHoldStart) }
func (m *Machine) HoldEnd(ctx context.Context) (State, error)   { return m.Fire(ctx, EventHoldEnd) }
func (m *Machine) Confirm(ctx context.Context) (State, error)   { return m.Fire(ctx, EventConfirm) }
func (m *Machine) Reject(ctx context.Context) (State, error)    { return m.Fire(ctx, EventReject) }

func (m *Machine) applyLocked(ctx context.Context, ev Event) (State, error) {
	next, ok := transitions[m.state][ev]
	if !ok {
		return m.state, m.rejectLocked(ctx, ev)
	}
	from := m.state
	if from == next {
		return m.state, nil
	}

	// Leaving HOLDING by any path cancels the running hold timer.
	if from == StateHolding {
		m.cancelTimerLocked()
	}
	if next == StateHolding {
		m.generation++
		gen := m.generation
		m.timer = m.clock.AfterFunc(m.threshold, func() { m.holdElapsed(gen) })
	}

	m.state = next
	m.history = append(m.history, Transition{From: from, To: next, Event: ev, At: m.clock.Now()})
	m.log.MustEmit(ctx, audit.ConfirmationTransition{
		ContextID: m.action.ID(),
		From:      string(from),
		To:        string(next),
		Event:     string(ev),
	})
	if m.metrics != nil {
		m.metrics.IncTransition(string(from), string(next))
	}
	return m.state, nil
}

func (m *Machine) rejectLocked(ctx context.Context, ev Event) error {
	m.logger.WarnContext(ctx, "confirmation event rejected",
		"event", string(ev),
		"state", string(m.state),
		"context_id", m.action.ID().String(),
	)
	m.log.MustEmit(ctx, audit.ConfirmationEventRejected{
		ContextID: m.action.ID(),
		State:     string(m.state),
		Event:     string(ev),
	})
	return ErrInvalidEvent
}

// holdElapsed feeds HOLD_TIMEOUT through the same transition path. A firing
// from an earlier hold (released, then pressed again) is ignored.
func (m *Machine) holdElapsed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.state != StateHolding {
		return
	}
	m.timer = nil
	_, _ = m.applyLocked(context.Background(), EventHoldTimeout)
}

func (m *Machine) cancelTimerLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
