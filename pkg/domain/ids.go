package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "actiongate/pkg/domain-errors"
)

// Typed identifiers keep grant, token, context and session IDs from being
// passed in each other's place.
type (
	SessionID uuid.UUID
	GrantID   uuid.UUID
	ACCID     uuid.UUID
	ContextID uuid.UUID
)

func NewSessionID() SessionID { return SessionID(uuid.New()) }
func NewGrantID() GrantID     { return GrantID(uuid.New()) }
func NewACCID() ACCID         { return ACCID(uuid.New()) }
func NewContextID() ContextID { return ContextID(uuid.New()) }

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id GrantID) String() string   { return uuid.UUID(id).String() }
func (id ACCID) String() string     { return uuid.UUID(id).String() }
func (id ContextID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GrantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ACCID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ContextID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id GrantID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ACCID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ContextID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *GrantID) UnmarshalText(b []byte) error   { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *ACCID) UnmarshalText(b []byte) error     { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *ContextID) UnmarshalText(b []byte) error { return unmarshalID(b, (*uuid.UUID)(id)) }
func (id *SessionID) UnmarshalText(b []byte) error { return unmarshalID(b, (*uuid.UUID)(id)) }

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session ID")
	return SessionID(u), err
}

func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s, "grant ID")
	return GrantID(u), err
}

func ParseACCID(s string) (ACCID, error) {
	u, err := parseUUID(s, "ACC ID")
	return ACCID(u), err
}

func ParseContextID(s string) (ContextID, error) {
	u, err := parseUUID(s, "context ID")
	return ContextID(u), err
}

// parseUUID rejects empty, malformed and nil UUIDs at trust boundaries.
func parseUUID(s, kind string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func unmarshalID(b []byte, dst *uuid.UUID) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid identifier")
	}
	*dst = u
	return nil
}
