package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeCapabilityDenied, "no grant")
		assert.True(t, HasCode(err, CodeCapabilityDenied))
		assert.False(t, HasCode(err, CodeACCRequired))
	})

	t.Run("matches nested code", func(t *testing.T) {
		inner := New(CodeOSPermissionDenied, "adapter unavailable")
		outer := Wrap(inner, CodeCapabilityDenied, "check failed")
		assert.True(t, HasCode(outer, CodeOSPermissionDenied))
		assert.True(t, HasCode(outer, CodeCapabilityDenied))
	})

	t.Run("foreign errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestAuthorityTagsArePrefixed(t *testing.T) {
	tests := []struct {
		code Code
		tag  string
	}{
		{CodeCapabilityDenied, "[CAPABILITY_DENIED]"},
		{CodeACCRequired, "[ACC_REQUIRED]"},
		{CodeOSHardStop, "[OS_HARD_STOP]"},
		{CodeOSPermissionDenied, "[OS_PERMISSION_DENIED]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "denied")
			assert.Equal(t, tt.tag+" denied", err.Error())
			var de *Error
			assert.True(t, errors.As(err, &de))
			assert.Equal(t, tt.tag, de.Tag())
		})
	}

	assert.Equal(t, "", CodeNotFound.Tag())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}
