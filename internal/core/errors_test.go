package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsAndKind(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		sentinel  error
		kind      ErrorKind
		retryable bool
	}{
		{"invalid country", NewInvalidCountryCode("de"), ErrInvalidCountryCode, KindInvalidCountryCode, false},
		{"not found", NewCompanyNotFound(CountryCZ, "12345678"), ErrCompanyNotFound, KindCompanyNotFound, false},
		{"unavailable", NewRegistryUnavailable(CountrySK, "12345678", cause), ErrRegistryUnavailable, KindRegistryUnavailable, true},
		{"persistence", NewPersistence("store", cause), ErrPersistence, KindPersistence, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("lookup: %w", tt.err)

			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
			assert.Equal(t, tt.retryable, KindOf(wrapped).Retryable())

			for _, other := range []error{ErrInvalidCountryCode, ErrCompanyNotFound, ErrRegistryUnavailable, ErrPersistence} {
				if other != tt.sentinel {
					assert.NotErrorIs(t, wrapped, other)
				}
			}
		})
	}
}

func TestError_Messages(t *testing.T) {
	err := NewRegistryUnavailable(CountryCZ, "12345678", errors.New("HTTP 500"))
	assert.Equal(t, "Czech Republic registry error: HTTP 500", err.Error())

	err = NewCompanyNotFound(CountryPL, "123456785")
	assert.Equal(t, "Company 123456785 not found in Poland registry", err.Error())
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := NewPersistence("store", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cache store failed: deadlock detected", err.Error())
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.False(t, KindUnknown.Retryable())
}
