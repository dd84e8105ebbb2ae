package acc

import (
	"time"

	id "actiongate/pkg/domain"
)

// Kind selects how the human answers a challenge.
type Kind string

const (
	KindTypeCode          Kind = "TYPE_CODE"
	KindVoicePhrase       Kind = "VOICE_PHRASE"
	KindDeliberateGesture Kind = "DELIBERATE_GESTURE"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindTypeCode, KindVoicePhrase, KindDeliberateGesture:
		return true
	}
	return false
}

// State of a token. CONSUMED, EXPIRED and REVOKED are terminal.
type State string

const (
	StateIssued   State = "ISSUED"
	StateConsumed State = "CONSUMED"
	StateExpired  State = "EXPIRED"
	StateRevoked  State = "REVOKED"
)

// Token is a single-use confirmation bound to one grant and one action
// context. The expected response is held only as a digest.
type Token struct {
	ID          id.ACCID
	GrantID     id.GrantID
	ContextID   id.ContextID
	Kind        Kind
	Prompt      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	State       State
	Attempts    int
	ValidatedAt time.Time
	// Redeemed is set once a capability check has turned the validation
	// into an Allowed decision. A token authorizes one invocation.
	Redeemed bool
	// Invalidated marks a validated token cut off by a revoke-all. It stays
	// CONSUMED so a replay still reads as already used.
	Invalidated bool

	challengeHash [32]byte
}

// Used reports whether the token has been successfully validated.
func (t Token) Used() bool { return t.State == StateConsumed }

func (t Token) IsExpiredAt(now time.Time) bool {
	return t.State == StateExpired || !now.Before(t.ExpiresAt)
}

func (t Token) boundTo(grantID id.GrantID, contextID id.ContextID) bool {
	return t.GrantID == grantID && t.ContextID == contextID
}
