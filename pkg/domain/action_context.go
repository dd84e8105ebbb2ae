package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	dErrors "actiongate/pkg/domain-errors"
)

// ActionContext binds one proposed action to the exact content it was built
// from. It is immutable: fields are unexported and there are no setters.
type ActionContext struct {
	id         ContextID
	sourceHash string
	timestamp  time.Time
}

// NewActionContext hashes the canonical JSON form of proposal, so two
// proposals that differ only in key order or whitespace share a hash.
func NewActionContext(proposal any, now time.Time) (ActionContext, error) {
	hash, err := HashProposal(proposal)
	if err != nil {
		return ActionContext{}, err
	}
	return ActionContext{
		id:         NewContextID(),
		sourceHash: hash,
		timestamp:  now.UTC(),
	}, nil
}

// HashProposal returns the hex SHA-256 of proposal's RFC 8785 canonical JSON.
func HashProposal(proposal any) (string, error) {
	raw, err := json.Marshal(proposal)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "proposal is not serializable")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "proposal cannot be canonicalized")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (c ActionContext) ID() ContextID        { return c.id }
func (c ActionContext) SourceHash() string   { return c.sourceHash }
func (c ActionContext) Timestamp() time.Time { return c.timestamp }
func (c ActionContext) IsZero() bool         { return c.id.IsNil() }

// Matches reports whether proposal still hashes to this context's source hash.
func (c ActionContext) Matches(proposal any) bool {
	hash, err := HashProposal(proposal)
	return err == nil && hash == c.sourceHash
}
