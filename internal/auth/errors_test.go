package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil", err: nil, expected: KindNone},
		{name: "credentials", err: ErrInvalidCredentials, expected: KindCredential},
		{name: "malformed answer", err: fmt.Errorf("x: %w", ErrMalformedResponse), expected: KindCredential},
		{name: "state mismatch", err: ErrStateMismatch, expected: KindCredential},
		{name: "network", err: &BackendError{Status: 502, Err: ErrNetwork}, expected: KindNetwork},
		{name: "malformed token", err: ErrTokenMalformed, expected: KindTokenMalformed},
		{name: "expired", err: asExpired(ErrInvalidCredentials), expected: KindSessionExpired},
		{name: "refresh unsupported", err: ErrRefreshUnsupported, expected: KindSessionExpired},
		{name: "misconfigured", err: misconfigured("x"), expected: KindMisconfigured},
		{name: "disabled", err: ErrProviderDisabled, expected: KindMisconfigured},
		{name: "other", err: errors.New("boom"), expected: KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Kind(tc.err))
		})
	}
}

func TestAsExpiredKeepsNetworkErrors(t *testing.T) {
	err := asExpired(ErrNetwork)
	assert.Equal(t, KindNetwork, Kind(err))
	assert.Equal(t, "session-expired", KindSessionExpired.String())
}
