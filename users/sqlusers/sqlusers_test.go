package sqlusers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebroad/ftpserver/users"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "users.db"), "admin", users.ClearTextPasswordEncryptor{})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_SaveAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	u := &users.User{
		Login:           "alice",
		HomeDir:         "/srv/alice",
		Enabled:         true,
		WritePermission: true,
		MaxIdleTime:     300,
		MaxUploadRate:   1024,
		MaxLoginNumber:  2,
	}
	require.NoError(t, m.SetPassword(u, "wonderland"))
	require.NoError(t, u.AddIP("10.0.0.0/8"))
	require.NoError(t, m.Save(ctx, u))

	got, err := m.Authenticate(ctx, users.UsernamePasswordCredential{Username: "alice", Password: "wonderland", RemoteAddr: "10.1.1.1:5000"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/alice", got.HomeDir)
	assert.True(t, got.WritePermission)
	assert.Equal(t, 300, got.MaxIdleTime)
	assert.Equal(t, 1024, got.MaxUploadRate)
	assert.Equal(t, 2, got.MaxLoginNumber)
	require.Len(t, got.IPs, 1)
	assert.Equal(t, "10.0.0.0/8", got.IPs[0].String())

	_, err = m.Authenticate(ctx, users.UsernamePasswordCredential{Username: "alice", Password: "wonderland", RemoteAddr: "192.168.1.1:5000"})
	assert.True(t, errors.Is(err, users.ErrAuthenticationFailed))
	_, err = m.Authenticate(ctx, users.UsernamePasswordCredential{Username: "alice", Password: "bad"})
	assert.True(t, errors.Is(err, users.ErrAuthenticationFailed))
	_, err = m.Authenticate(ctx, users.UsernamePasswordCredential{Username: "nobody", Password: "bad"})
	assert.True(t, errors.Is(err, users.ErrAuthenticationFailed))
}

func TestManager_UpdateKeepsPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.Save(ctx, &users.User{Login: "bob", Password: "builder", HomeDir: "/a", Enabled: true}))
	require.NoError(t, m.Save(ctx, &users.User{Login: "bob", HomeDir: "/b", Enabled: false}))

	got, err := m.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "builder", got.Password)
	assert.Equal(t, "/b", got.HomeDir)
	assert.False(t, got.Enabled)

	_, err = m.Authenticate(ctx, users.UsernamePasswordCredential{Username: "bob", Password: "builder"})
	assert.True(t, errors.Is(err, users.ErrAuthenticationFailed), "disabled user")
}

func TestManager_ListExistDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for _, login := range []string{"carol", "alice", "bob"} {
		require.NoError(t, m.Save(ctx, &users.User{Login: login, Password: "x", HomeDir: "/", Enabled: true}))
	}

	logins, err := m.ListLogins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, logins)

	ok, err := m.DoesExist(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Delete(ctx, "bob"))
	ok, err = m.DoesExist(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(m.Delete(ctx, "bob"), users.ErrUserNotFound))
	_, err = m.Get(ctx, "bob")
	assert.True(t, errors.Is(err, users.ErrUserNotFound))

	assert.True(t, m.IsAdmin("admin"))
	assert.Equal(t, "admin", m.AdminName())
}

func TestManager_rebind(t *testing.T) {
	pg := &Manager{driver: "pgx"}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
	lite := &Manager{driver: "sqlite"}
	assert.Equal(t, "b = ?", lite.rebind("b = ?"))
}
