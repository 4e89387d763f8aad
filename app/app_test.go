package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashCommand(t *testing.T) {
	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"devbackend", "hash", "s3cret"})

	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())

	match, err := argon2id.ComparePasswordAndHash("s3cret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.True(t, match)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"providers", "login", "status", "can", "refresh", "logout", "watch", "devbackend"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}
}
