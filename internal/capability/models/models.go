package models

import (
	"time"

	"actiongate/internal/enforcement"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
)

// Capability names one class of action. The set is closed.
type Capability string

const (
	CapabilityRenderExport        Capability = "RENDER_EXPORT"
	CapabilityFileRead            Capability = "FILE_READ"
	CapabilityFileWrite           Capability = "FILE_WRITE"
	CapabilityParameterAdjustment Capability = "PARAMETER_ADJUSTMENT"
	CapabilityUINavigation        Capability = "UI_NAVIGATION"
	CapabilityTransportControl    Capability = "TRANSPORT_CONTROL"
	CapabilityTextInput           Capability = "TEXT_INPUT"
)

func AllCapabilities() []Capability {
	return []Capability{
		CapabilityRenderExport,
		CapabilityFileRead,
		CapabilityFileWrite,
		CapabilityParameterAdjustment,
		CapabilityUINavigation,
		CapabilityTransportControl,
		CapabilityTextInput,
	}
}

func (c Capability) IsValid() bool {
	for _, known := range AllCapabilities() {
		if c == known {
			return true
		}
	}
	return false
}

func (c Capability) String() string { return string(c) }

func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown capability: "+s)
	}
	return c, nil
}

// ResourceClass is the protected resource a capability touches, which
// decides which enforcement checks apply.
type ResourceClass string

const (
	ResourceNone   ResourceClass = "none"
	ResourceFile   ResourceClass = "file"
	ResourceExport ResourceClass = "export_job"
	ResourceFocus  ResourceClass = "ui_focus"
	ResourceInput  ResourceClass = "input_field"
)

func (c Capability) ResourceClass() ResourceClass {
	switch c {
	case CapabilityFileRead, CapabilityFileWrite:
		return ResourceFile
	case CapabilityRenderExport:
		return ResourceExport
	case CapabilityUINavigation:
		return ResourceFocus
	case CapabilityTextInput:
		return ResourceInput
	default:
		return ResourceNone
	}
}

// Grant is a time-scoped issuance of one capability to one scope. Grants are
// never mutated after creation.
type Grant struct {
	ID          id.GrantID                   `json:"grant_id"`
	Capability  Capability                   `json:"capability"`
	Scope       string                       `json:"scope"`
	IssuedAt    time.Time                    `json:"issued_at"`
	TTL         time.Duration                `json:"ttl"`
	ExpiresAt   time.Time                    `json:"expires_at"`
	RequiresACC bool                         `json:"requires_acc"`
	Resource    enforcement.ResourceIdentity `json:"resource,omitzero"`
	Source      string                       `json:"source"`
}

// IsValidAt reports now < IssuedAt + TTL. Session liveness is the
// authority's concern.
func (g Grant) IsValidAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// GrantRequest is the input to an explicit grant or one preset entry.
type GrantRequest struct {
	Capability  Capability
	Scope       string
	TTL         time.Duration
	RequiresACC bool
	// Resource is a path whose identity is bound at grant time.
	Resource string
	Source   string
}

func (r GrantRequest) Validate() error {
	if !r.Capability.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown capability: "+string(r.Capability))
	}
	if r.Scope == "" {
		return dErrors.New(dErrors.CodeValidation, "scope is required")
	}
	if r.TTL <= 0 {
		return dErrors.New(dErrors.CodeValidation, "ttl must be positive")
	}
	return nil
}

type Decision string

const (
	DecisionAllowed     Decision = "ALLOWED"
	DecisionRequiresACC Decision = "REQUIRES_ACC"
	DecisionDenied      Decision = "DENIED"
)

// CheckRequest asks whether one proposed action may run.
type CheckRequest struct {
	Capability Capability
	Scope      string
	Context    id.ActionContext
	// Input describes the focused field for TEXT_INPUT checks, or the
	// navigation target for UI_NAVIGATION.
	Input *enforcement.InputDescriptor
	// Output names where a RENDER_EXPORT writes. Required for exports.
	Output string
}

// Challenge is what the caller shows the human while execution is halted.
type Challenge struct {
	ACCID     id.ACCID  `json:"acc_id"`
	Kind      string    `json:"kind"`
	Prompt    string    `json:"prompt"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckResult is the outcome of a capability check. Denials are values; Err
// converts them to tagged errors for callers that propagate errors.
type CheckResult struct {
	Decision   Decision     `json:"decision"`
	Capability Capability   `json:"capability"`
	Scope      string       `json:"scope"`
	ContextID  id.ContextID `json:"context_id"`
	GrantID    id.GrantID   `json:"grant_id,omitzero"`
	ACCID      id.ACCID     `json:"acc_id,omitzero"`
	Challenge  *Challenge   `json:"challenge,omitempty"`
	Code       dErrors.Code `json:"code,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

func (r CheckResult) Allowed() bool { return r.Decision == DecisionAllowed }

func (r CheckResult) Err() error {
	switch r.Decision {
	case DecisionAllowed:
		return nil
	case DecisionRequiresACC:
		return dErrors.New(dErrors.CodeACCRequired, "confirm the challenge to continue")
	default:
		code := r.Code
		if code == "" {
			code = dErrors.CodeCapabilityDenied
		}
		return dErrors.New(code, r.Reason)
	}
}

// PresetEntry is one line of a capability preset.
type PresetEntry struct {
	Capability  Capability    `yaml:"capability"`
	TTL         time.Duration `yaml:"ttl"`
	RequiresACC bool          `yaml:"requires_acc"`
	Resource    string        `yaml:"resource"`
}
