package nonce

import (
	"crypto/rand"
	"fmt"
)

const (
	// StateLen is the length of an OAuth2 state value (~190 bits of entropy).
	StateLen = 32
	// TokenLen is the length of CSRF and opaque session tokens.
	TokenLen = 40
)

// Alphabet is the URL-safe character set every value is drawn from.
var Alphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_")

// State returns a fresh OAuth2 state value.
func State() (string, error) {
	return New(StateLen)
}

// Token returns a fresh opaque token.
func Token() (string, error) {
	return New(TokenLen)
}

// New returns a random string of the given length drawn from Alphabet.
func New(length int) (string, error) {
	out, err := NewChars(length, Alphabet)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// NewChars returns length random characters from chars. Bytes that would
// bias the distribution are rejected and redrawn.
func NewChars(length int, chars []byte) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	n := len(chars)
	if n < 2 || n > 256 { //nolint:mnd
		return nil, fmt.Errorf("nonce: alphabet size %d out of range", n)
	}

	// largest multiple of n that fits in a byte
	limit := 256 - (256 % n) //nolint:mnd
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2+8) //nolint:mnd

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("nonce: read random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= limit {
				continue
			}

			out = append(out, chars[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}

	return out, nil
}
