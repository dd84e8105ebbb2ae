package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "actiongate/pkg/domain-errors"
)

func TestParseCapability(t *testing.T) {
	for _, c := range AllCapabilities() {
		got, err := ParseCapability(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCapability("DELETE_EVERYTHING")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestResourceClass(t *testing.T) {
	assert.Equal(t, ResourceFile, CapabilityFileWrite.ResourceClass())
	assert.Equal(t, ResourceExport, CapabilityRenderExport.ResourceClass())
	assert.Equal(t, ResourceInput, CapabilityTextInput.ResourceClass())
	assert.Equal(t, ResourceNone, CapabilityParameterAdjustment.ResourceClass())
}

func TestGrantIsValidAt(t *testing.T) {
	issued := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	g := Grant{IssuedAt: issued, TTL: time.Hour, ExpiresAt: issued.Add(time.Hour)}

	assert.True(t, g.IsValidAt(issued))
	assert.True(t, g.IsValidAt(issued.Add(59*time.Minute)))
	assert.False(t, g.IsValidAt(issued.Add(time.Hour)), "expiry instant is already invalid")
	assert.False(t, g.IsValidAt(issued.Add(2*time.Hour)))
}

func TestGrantRequestValidate(t *testing.T) {
	valid := GrantRequest{Capability: CapabilityFileRead, Scope: "studio", TTL: time.Minute}
	require.NoError(t, valid.Validate())

	cases := map[string]GrantRequest{
		"unknown capability": {Capability: "NOPE", Scope: "studio", TTL: time.Minute},
		"missing scope":      {Capability: CapabilityFileRead, TTL: time.Minute},
		"zero ttl":           {Capability: CapabilityFileRead, Scope: "studio"},
		"negative ttl":       {Capability: CapabilityFileRead, Scope: "studio", TTL: -time.Second},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
		})
	}
}

func TestCheckResultErr(t *testing.T) {
	assert.NoError(t, CheckResult{Decision: DecisionAllowed}.Err())

	err := CheckResult{Decision: DecisionRequiresACC}.Err()
	assert.Contains(t, err.Error(), "[ACC_REQUIRED]")

	err = CheckResult{Decision: DecisionDenied, Reason: "no active grant"}.Err()
	assert.Contains(t, err.Error(), "[CAPABILITY_DENIED]")

	err = CheckResult{Decision: DecisionDenied, Code: dErrors.CodeOSHardStop, Reason: "dialog"}.Err()
	assert.Contains(t, err.Error(), "[OS_HARD_STOP]")
}
