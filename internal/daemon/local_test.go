package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLocal(t *testing.T) {
	cfg := testConfig(t)

	l, err := OpenLocal(cfg)
	require.NoError(t, err)
	defer l.Close()

	user, converted, err := l.Enrollment.Register(context.Background(), "admin", "admin@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, 0, converted)
	assert.True(t, user.Staff())

	token, err := l.Tokens.GenerateToken(user)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Storage.BaseDir, "daemon", "signing.key"))
	require.NoError(t, err)

	// A daemon started afterwards accepts the token and sees the user
	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Shutdown()

	claims, err := d.GetTokens().ValidateToken(token)
	require.NoError(t, err)
	got, err := d.GetDB().GetUserByID(context.Background(), claims.UserID)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Username)
}

func TestOpenLocalWhileDaemonRuns(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Shutdown()

	l, err := OpenLocal(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
