package audit

// EventCategory classifies audit events by their primary purpose so sinks
// can route and retain them differently.
type EventCategory string

const (
	// CategoryAuthority covers grants, checks and revocation decisions.
	CategoryAuthority EventCategory = "authority"
	// CategoryConsent covers human confirmation: ACC challenges and the
	// confirmation state machine.
	CategoryConsent EventCategory = "consent"
	// CategoryIntegrity covers chain verification and lockdown.
	CategoryIntegrity EventCategory = "integrity"
	// CategoryExecution covers the session lifecycle and action execution.
	CategoryExecution EventCategory = "execution"
)

// EventType is the closed audit taxonomy. Extend it only by appending new
// variants; never change the meaning of an existing one.
type EventType string

const (
	EventSessionStarted            EventType = "SESSION_STARTED"
	EventAuthorityGranted          EventType = "AUTHORITY_GRANTED"
	EventCapabilityCheck           EventType = "CAPABILITY_CHECK"
	EventCapabilityAllowed         EventType = "CAPABILITY_ALLOWED"
	EventCapabilityDenied          EventType = "CAPABILITY_DENIED"
	EventCapabilityRequiresACC     EventType = "CAPABILITY_REQUIRES_ACC"
	EventACCIssued                 EventType = "ACC_ISSUED"
	EventACCResponseReceived       EventType = "ACC_RESPONSE_RECEIVED"
	EventACCValidated              EventType = "ACC_VALIDATED"
	EventACCTokenConsumed          EventType = "ACC_TOKEN_CONSUMED"
	EventExecutionHaltedPendingACC EventType = "EXECUTION_HALTED_PENDING_ACC"
	EventExecutionStarted          EventType = "EXECUTION_STARTED"
	EventExecutionCompleted        EventType = "EXECUTION_COMPLETED"
	EventRevokeAllAuthorities      EventType = "REVOKE_ALL_AUTHORITIES"
	EventCapabilityGrantsCleared   EventType = "CAPABILITY_GRANTS_CLEARED"
	EventACCTokensInvalidated      EventType = "ACC_TOKENS_INVALIDATED"
	EventSessionInactive           EventType = "SESSION_INACTIVE"

	EventACCRejected               EventType = "ACC_REJECTED"
	EventACCExpired                EventType = "ACC_EXPIRED"
	EventACCTokenRevoked           EventType = "ACC_TOKEN_REVOKED"
	EventConfirmationTransition    EventType = "CONFIRMATION_TRANSITION"
	EventConfirmationEventRejected EventType = "CONFIRMATION_EVENT_REJECTED"
	EventLockdownEngaged           EventType = "LOCKDOWN_ENGAGED"
	EventLockdownCleared           EventType = "LOCKDOWN_CLEARED"
	EventIntegrityVerified         EventType = "INTEGRITY_VERIFIED"
	EventJobTerminated             EventType = "JOB_TERMINATED"
	EventExecutionRefused          EventType = "EXECUTION_REFUSED"
	EventSessionPaused             EventType = "SESSION_PAUSED"
	EventSessionResumed            EventType = "SESSION_RESUMED"
	EventSessionBoundaryCrossed    EventType = "SESSION_BOUNDARY_CROSSED"
)

var eventCategories = map[EventType]EventCategory{
	EventSessionStarted:            CategoryExecution,
	EventAuthorityGranted:          CategoryAuthority,
	EventCapabilityCheck:           CategoryAuthority,
	EventCapabilityAllowed:         CategoryAuthority,
	EventCapabilityDenied:          CategoryAuthority,
	EventCapabilityRequiresACC:     CategoryAuthority,
	EventACCIssued:                 CategoryConsent,
	EventACCResponseReceived:       CategoryConsent,
	EventACCValidated:              CategoryConsent,
	EventACCTokenConsumed:          CategoryConsent,
	EventExecutionHaltedPendingACC: CategoryExecution,
	EventExecutionStarted:          CategoryExecution,
	EventExecutionCompleted:        CategoryExecution,
	EventRevokeAllAuthorities:      CategoryAuthority,
	EventCapabilityGrantsCleared:   CategoryAuthority,
	EventACCTokensInvalidated:      CategoryConsent,
	EventSessionInactive:           CategoryExecution,
	EventACCRejected:               CategoryConsent,
	EventACCExpired:                CategoryConsent,
	EventACCTokenRevoked:           CategoryConsent,
	EventConfirmationTransition:    CategoryConsent,
	EventConfirmationEventRejected: CategoryConsent,
	EventLockdownEngaged:           CategoryIntegrity,
	EventLockdownCleared:           CategoryIntegrity,
	EventIntegrityVerified:         CategoryIntegrity,
	EventJobTerminated:             CategoryExecution,
	EventExecutionRefused:          CategoryExecution,
	EventSessionPaused:             CategoryExecution,
	EventSessionResumed:            CategoryExecution,
	EventSessionBoundaryCrossed:    CategoryExecution,
}

// AllEventTypes lists the taxonomy in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventSessionStarted, EventAuthorityGranted, EventCapabilityCheck,
		EventCapabilityAllowed, EventCapabilityDenied, EventCapabilityRequiresACC,
		EventACCIssued, EventACCResponseReceived, EventACCValidated,
		EventACCTokenConsumed, EventExecutionHaltedPendingACC, EventExecutionStarted,
		EventExecutionCompleted, EventRevokeAllAuthorities, EventCapabilityGrantsCleared,
		EventACCTokensInvalidated, EventSessionInactive,
		EventACCRejected, EventACCExpired, EventACCTokenRevoked,
		EventConfirmationTransition, EventConfirmationEventRejected,
		EventLockdownEngaged, EventLockdownCleared, EventIntegrityVerified,
		EventJobTerminated, EventExecutionRefused, EventSessionPaused,
		EventSessionResumed, EventSessionBoundaryCrossed,
	}
}

func (e EventType) IsValid() bool {
	_, ok := eventCategories[e]
	return ok
}

// Category returns the EventCategory for this event type.
// Unknown types default to CategoryExecution.
func (e EventType) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryExecution
}
