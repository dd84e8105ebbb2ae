// Package enforcement defines the contract between the capability authority
// and the platform. Backends are pluggable; the authority never branches on
// which platform it runs on.
package enforcement

import (
	"context"
	"time"

	id "actiongate/pkg/domain"
)

// ResourceIdentity is the platform-level identity of a resource captured at
// grant time. Key is opaque to everyone but the adapter that issued it.
type ResourceIdentity struct {
	Path       string    `json:"path"`
	Key        string    `json:"key"`
	CapturedAt time.Time `json:"captured_at"`
}

func (r ResourceIdentity) IsZero() bool { return r.Key == "" }

type IdentityMatch int

const (
	Mismatch IdentityMatch = iota
	Match
)

func (m IdentityMatch) String() string {
	if m == Match {
		return "match"
	}
	return "mismatch"
}

// JobSpec describes a killable unit of work. Run must return once ctx is
// cancelled.
type JobSpec struct {
	ContextID  id.ContextID
	Name       string
	OutputPath string
	Run        func(ctx context.Context) error
}

type JobHandle struct {
	ID        string
	ContextID id.ContextID
	Output    ResourceIdentity
	StartedAt time.Time
}

// Termination reports whether the job's output stopped changing and kept its
// identity after the job was killed.
type Termination struct {
	Stable bool
	Reason string
}

// InputDescriptor is what the platform knows about a focused input target.
type InputDescriptor struct {
	Application string `json:"application"`
	Role        string `json:"role"`
	Label       string `json:"label"`
}

type Classification string

const (
	ClassificationSafe      Classification = "SAFE"
	ClassificationUnknown   Classification = "UNKNOWN"
	ClassificationSensitive Classification = "SENSITIVE"
)

// Adapter is implemented once per platform.
type Adapter interface {
	// IsModalBlocking reports whether an uncontrollable system dialog is
	// currently visible.
	IsModalBlocking(ctx context.Context) (bool, error)
	BindResourceIdentity(ctx context.Context, path string) (ResourceIdentity, error)
	VerifyResourceIdentity(ctx context.Context, identity ResourceIdentity) (IdentityMatch, error)
	StartKillableJob(ctx context.Context, spec JobSpec) (JobHandle, error)
	TerminateJob(ctx context.Context, handle JobHandle) (Termination, error)
	ClassifyInputTarget(ctx context.Context, input InputDescriptor) (Classification, error)
}
