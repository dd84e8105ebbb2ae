package audit

import (
	"time"

	id "actiongate/pkg/domain"
)

// Payload is the event-specific data of an audit record. The set of
// implementations is closed: the unexported method keeps other packages from
// adding variants, and Decode must handle every one of them.
type Payload interface {
	EventType() EventType
	auditPayload()
}

type SessionStarted struct {
	SessionID id.SessionID `json:"session_id"`
	Scope     string       `json:"scope"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type AuthorityGranted struct {
	GrantID     id.GrantID `json:"grant_id"`
	Capability  string     `json:"capability"`
	Scope       string     `json:"scope"`
	TTLMillis   int64      `json:"ttl_ms"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RequiresACC bool       `json:"requires_acc"`
	Resource    string     `json:"resource,omitempty"`
	Source      string     `json:"source"`
}

type CapabilityCheck struct {
	Capability string       `json:"capability"`
	Scope      string       `json:"scope"`
	ContextID  id.ContextID `json:"context_id"`
	SourceHash string       `json:"source_hash"`
}

type CapabilityAllowed struct {
	Capability string       `json:"capability"`
	Scope      string       `json:"scope"`
	ContextID  id.ContextID `json:"context_id"`
	GrantID    id.GrantID   `json:"grant_id"`
	ACCID      *id.ACCID    `json:"acc_id,omitempty"`
}

type CapabilityDenied struct {
	Capability string       `json:"capability"`
	Scope      string       `json:"scope"`
	ContextID  id.ContextID `json:"context_id"`
	Tag        string       `json:"tag"`
	Reason     string       `json:"reason"`
}

type CapabilityRequiresACC struct {
	Capability string       `json:"capability"`
	Scope      string       `json:"scope"`
	ContextID  id.ContextID `json:"context_id"`
	GrantID    id.GrantID   `json:"grant_id"`
}

// ACCIssued never carries the expected response, only what was shown.
type ACCIssued struct {
	ACCID     id.ACCID     `json:"acc_id"`
	GrantID   id.GrantID   `json:"grant_id"`
	ContextID id.ContextID `json:"context_id"`
	Kind      string       `json:"kind"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type ACCResponseReceived struct {
	ACCID id.ACCID `json:"acc_id"`
}

type ACCValidated struct {
	ACCID     id.ACCID     `json:"acc_id"`
	GrantID   id.GrantID   `json:"grant_id"`
	ContextID id.ContextID `json:"context_id"`
}

type ACCTokenConsumed struct {
	ACCID   id.ACCID   `json:"acc_id"`
	GrantID id.GrantID `json:"grant_id"`
}

type ExecutionHaltedPendingACC struct {
	ContextID  id.ContextID `json:"context_id"`
	ACCID      id.ACCID     `json:"acc_id"`
	Capability string       `json:"capability"`
}

type ExecutionStarted struct {
	ContextID  id.ContextID `json:"context_id"`
	Capability string       `json:"capability"`
	JobID      string       `json:"job_id,omitempty"`
}

type ExecutionCompleted struct {
	ContextID  id.ContextID `json:"context_id"`
	Capability string       `json:"capability"`
	Outcome    string       `json:"outcome"`
	Error      string       `json:"error,omitempty"`
}

type RevokeAllAuthorities struct {
	Reason string `json:"reason"`
}

type CapabilityGrantsCleared struct {
	Count int `json:"count"`
}

type ACCTokensInvalidated struct {
	Count int `json:"count"`
}

type SessionInactive struct {
	SessionID id.SessionID `json:"session_id"`
	Reason    string       `json:"reason"`
}

type ACCRejected struct {
	ACCID    id.ACCID `json:"acc_id"`
	Reason   string   `json:"reason"`
	Attempts int      `json:"attempts,omitempty"`
}

type ACCExpired struct {
	ACCID  id.ACCID `json:"acc_id"`
	Reason string   `json:"reason"`
}

type ACCTokenRevoked struct {
	ACCID id.ACCID `json:"acc_id"`
}

type ConfirmationTransition struct {
	ContextID id.ContextID `json:"context_id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Event     string       `json:"event"`
}

type ConfirmationEventRejected struct {
	ContextID id.ContextID `json:"context_id"`
	State     string       `json:"state"`
	Event     string       `json:"event"`
}

type LockdownEngaged struct {
	Reason   string `json:"reason"`
	HeadHash string `json:"head_hash,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
}

type LockdownCleared struct {
	Operator string `json:"operator"`
}

type IntegrityVerified struct {
	Status   string `json:"status"`
	HeadHash string `json:"head_hash"`
	Sequence uint64 `json:"sequence"`
	Detail   string `json:"detail,omitempty"`
}

type JobTerminated struct {
	ContextID id.ContextID `json:"context_id"`
	JobID     string       `json:"job_id"`
	Stable    bool         `json:"stable"`
}

// ExecutionRefused records an execution stopped by the session before the
// authority was asked, or instead of it.
type ExecutionRefused struct {
	ContextID  id.ContextID `json:"context_id"`
	Capability string       `json:"capability"`
	Reason     string       `json:"reason"`
}

type SessionPaused struct {
	SessionID id.SessionID `json:"session_id"`
	IdleSince time.Time    `json:"idle_since"`
}

type SessionResumed struct {
	SessionID id.SessionID `json:"session_id"`
}

type SessionBoundaryCrossed struct {
	SessionID id.SessionID `json:"session_id"`
	ContextID id.ContextID `json:"context_id"`
	Field     string       `json:"field"`
	Expected  string       `json:"expected"`
	Actual    string       `json:"actual"`
}

func (SessionStarted) EventType() EventType            { return EventSessionStarted }
func (AuthorityGranted) EventType() EventType          { return EventAuthorityGranted }
func (CapabilityCheck) EventType() EventType           { return EventCapabilityCheck }
func (CapabilityAllowed) EventType() EventType         { return EventCapabilityAllowed }
func (CapabilityDenied) EventType() EventType          { return EventCapabilityDenied }
func (CapabilityRequiresACC) EventType() EventType     { return EventCapabilityRequiresACC }
func (ACCIssued) EventType() EventType                 { return EventACCIssued }
func (ACCResponseReceived) EventType() EventType       { return EventACCResponseReceived }
func (ACCValidated) EventType() EventType              { return EventACCValidated }
func (ACCTokenConsumed) EventType() EventType          { return EventACCTokenConsumed }
func (ExecutionHaltedPendingACC) EventType() EventType { return EventExecutionHaltedPendingACC }
func (ExecutionStarted) EventType() EventType          { return EventExecutionStarted }
func (ExecutionCompleted) EventType() EventType        { return EventExecutionCompleted }
func (RevokeAllAuthorities) EventType() EventType      { return EventRevokeAllAuthorities }
func (CapabilityGrantsCleared) EventType() EventType   { return EventCapabilityGrantsCleared }
func (ACCTokensInvalidated) EventType() EventType      { return EventACCTokensInvalidated }
func (SessionInactive) EventType() EventType           { return EventSessionInactive }
func (ACCRejected) EventType() EventType               { return EventACCRejected }
func (ACCExpired) EventType() EventType                { return EventACCExpired }
func (ACCTokenRevoked) EventType() EventType           { return EventACCTokenRevoked }
func (ConfirmationTransition) EventType() EventType    { return EventConfirmationTransition }
func (ConfirmationEventRejected) EventType() EventType { return EventConfirmationEventRejected }
func (LockdownEngaged) EventType() EventType           { return EventLockdownEngaged }
func (LockdownCleared) EventType() EventType           { return EventLockdownCleared }
func (IntegrityVerified) EventType() EventType         { return EventIntegrityVerified }
func (JobTerminated) EventType() EventType             { return EventJobTerminated }
func (ExecutionRefused) EventType() EventType          { return EventExecutionRefused }
func (SessionPaused) EventType() EventType             { return EventSessionPaused }
func (SessionResumed) EventType() EventType            { return EventSessionResumed }
func (SessionBoundaryCrossed) EventType() EventType    { return EventSessionBoundaryCrossed }

func (SessionStarted) auditPayload()            {}
func (AuthorityGranted) auditPayload()          {}
func (CapabilityCheck) auditPayload()           {}
func (CapabilityAllowed) auditPayload()         {}
func (CapabilityDenied) auditPayload()          {}
func (CapabilityRequiresACC) auditPayload()     {}
func (ACCIssued) auditPayload()                 {}
func (ACCResponseReceived) auditPayload()       {}
func (ACCValidated) auditPayload()              {}
func (ACCTokenConsumed) auditPayload()          {}
func (ExecutionHaltedPendingACC) auditPayload() {}
func (ExecutionStarted) auditPayload()          {}
func (ExecutionCompleted) auditPayload()        {}
func (RevokeAllAuthorities) auditPayload()      {}
func (CapabilityGrantsCleared) auditPayload()   {}
func (ACCTokensInvalidated) auditPayload()      {}
func (SessionInactive) auditPayload()           {}
func (ACCRejected) auditPayload()               {}
func (ACCExpired) auditPayload()                {}
func (ACCTokenRevoked) auditPayload()           {}
func (ConfirmationTransition) auditPayload()    {}
func (ConfirmationEventRejected) auditPayload() {}
func (LockdownEngaged) auditPayload()           {}
func (LockdownCleared) auditPayload()           {}
func (IntegrityVerified) auditPayload()         {}
func (JobTerminated) auditPayload()             {}
func (ExecutionRefused) auditPayload()          {}
func (SessionPaused) auditPayload()             {}
func (SessionResumed) auditPayload()            {}
func (SessionBoundaryCrossed) auditPayload()    {}

// newPayload returns an empty payload for t, or false for unknown types.
func newPayload(t EventType) (Payload, bool) {
	switch t {
	case EventSessionStarted:
		return &SessionStarted{}, true
	case EventAuthorityGranted:
		return &AuthorityGranted{}, true
	case EventCapabilityCheck:
		return &CapabilityCheck{}, true
	case EventCapabilityAllowed:
		return &CapabilityAllowed{}, true
	case EventCapabilityDenied:
		return &CapabilityDenied{}, true
	case EventCapabilityRequiresACC:
		return &CapabilityRequiresACC{}, true
	case EventACCIssued:
		return &ACCIssued{}, true
	case EventACCResponseReceived:
		return &ACCResponseReceived{}, true
	case EventACCValidated:
		return &ACCValidated{}, true
	case EventACCTokenConsumed:
		return &ACCTokenConsumed{}, true
	case EventExecutionHaltedPendingACC:
		return &ExecutionHaltedPendingACC{}, true
	case EventExecutionStarted:
		return &ExecutionStarted{}, true
	case EventExecutionCompleted:
		return &ExecutionCompleted{}, true
	case EventRevokeAllAuthorities:
		return &RevokeAllAuthorities{}, true
	case EventCapabilityGrantsCleared:
		return &CapabilityGrantsCleared{}, true
	case EventACCTokensInvalidated:
		return &ACCTokensInvalidated{}, true
	case EventSessionInactive:
		return &SessionInactive{}, true
	case EventACCRejected:
		return &ACCRejected{}, true
	case EventACCExpired:
		return &ACCExpired{}, true
	case EventACCTokenRevoked:
		return &ACCTokenRevoked{}, true
	case EventConfirmationTransition:
		return &ConfirmationTransition{}, true
	case EventConfirmationEventRejected:
		return &ConfirmationEventRejected{}, true
	case EventLockdownEngaged:
		return &LockdownEngaged{}, true
	case EventLockdownCleared:
		return &LockdownCleared{}, true
	case EventIntegrityVerified:
		return &IntegrityVerified{}, true
	case EventJobTerminated:
		return &JobTerminated{}, true
	case EventExecutionRefused:
		return &ExecutionRefused{}, true
	case EventSessionPaused:
		return &SessionPaused{}, true
	case EventSessionResumed:
		return &SessionResumed{}, true
	case EventSessionBoundaryCrossed:
		return &SessionBoundaryCrossed{}, true
	}
	return nil, false
}
