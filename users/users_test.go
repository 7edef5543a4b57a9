package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_IPs(t *testing.T) {
	u := &User{}
	assert.True(t, u.AllowsIP("1.2.3.4"), "no prefixes allows everything")

	require.NoError(t, u.AddIP("10.0.0.0/8"))
	require.NoError(t, u.AddIP("192.168.1.5"))
	require.NoError(t, u.AddIP("192.168.1.5"))
	assert.Len(t, u.IPs, 2)
	assert.Error(t, u.AddIP("not-an-ip"))

	assert.True(t, u.FindIP("10.1.2.3"))
	assert.True(t, u.FindIP("10.1.2.3:2121"))
	assert.True(t, u.FindIP("192.168.1.5"))
	assert.False(t, u.FindIP("192.168.1.6"))
	assert.False(t, u.AllowsIP("8.8.8.8"))

	u.RemoveIP("192.168.1.5")
	assert.False(t, u.FindIP("192.168.1.5"))
	assert.Len(t, u.IPs, 1)

	c := u.Clone()
	require.NoError(t, c.AddIP("172.16.0.0/12"))
	assert.Len(t, u.IPs, 1)
}

func TestEncryptors(t *testing.T) {
	tests := []struct {
		name string
		enc  PasswordEncryptor
	}{
		{"md5", MD5PasswordEncryptor{}},
		{"clear", ClearTextPasswordEncryptor{}},
		{"salted", SaltedPasswordEncryptor{}},
		{"bcrypt", BcryptPasswordEncryptor{Cost: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := tt.enc.Encrypt("secret")
			require.NoError(t, err)
			assert.True(t, tt.enc.Matches("secret", stored))
			assert.False(t, tt.enc.Matches("Secret", stored))
			assert.False(t, tt.enc.Matches("", stored))
		})
	}
}

func TestMD5PasswordEncryptor(t *testing.T) {
	stored, err := MD5PasswordEncryptor{}.Encrypt("password")
	require.NoError(t, err)
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", stored)
	assert.True(t, MD5PasswordEncryptor{}.Matches("password", strings.ToUpper(stored)))
}

func TestSaltedPasswordEncryptor_Salted(t *testing.T) {
	a, err := SaltedPasswordEncryptor{}.Encrypt("secret")
	require.NoError(t, err)
	b, err := SaltedPasswordEncryptor{}.Encrypt("secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "{SSHA512}"))
	assert.False(t, SaltedPasswordEncryptor{}.Matches("secret", "{SSHA512}!!"))
}

func TestEncryptorByName(t *testing.T) {
	for name, want := range map[string]PasswordEncryptor{
		"":        MD5PasswordEncryptor{},
		"MD5":     MD5PasswordEncryptor{},
		"clear":   ClearTextPasswordEncryptor{},
		"ssha512": SaltedPasswordEncryptor{},
		"bcrypt":  BcryptPasswordEncryptor{},
	} {
		enc, err := EncryptorByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, enc, name)
	}
	_, err := EncryptorByName("rot13")
	assert.Error(t, err)
}

func TestBaseManager(t *testing.T) {
	b := NewBaseManager("", nil)
	assert.Equal(t, DefaultAdminName, b.AdminName())
	assert.True(t, b.IsAdmin("admin"))
	assert.False(t, b.IsAdmin("Admin"))
	assert.IsType(t, MD5PasswordEncryptor{}, b.PasswordEncryptor())

	b = NewBaseManager("root", ClearTextPasswordEncryptor{})
	assert.True(t, b.IsAdmin("root"))
	assert.False(t, b.IsAdmin("admin"))
}

func newTestUsers(t *testing.T) *LocalUsers {
	t.Helper()
	m := NewLocalUsers("admin", nil)
	_, err := m.Add("alice", "wonderland", "/srv/alice")
	require.NoError(t, err)

	disabled, err := m.Add("bob", "builder", "/srv/bob")
	require.NoError(t, err)
	disabled.Enabled = false
	require.NoError(t, m.Save(context.Background(), disabled))

	restricted, err := m.Add("carol", "secret", "/srv/carol")
	require.NoError(t, err)
	require.NoError(t, restricted.AddIP("10.0.0.0/8"))
	require.NoError(t, m.Save(context.Background(), restricted))

	anon, err := m.Add(AnonymousLogin, "", "/srv/pub")
	require.NoError(t, err)
	anon.WritePermission = false
	require.NoError(t, m.Save(context.Background(), anon))
	return m
}

func TestLocalUsers_Authenticate(t *testing.T) {
	m := newTestUsers(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cred Credential
		want string
	}{
		{"valid", UsernamePasswordCredential{Username: "alice", Password: "wonderland"}, "alice"},
		{"valid pointer", &UsernamePasswordCredential{Username: "alice", Password: "wonderland"}, "alice"},
		{"wrong password", UsernamePasswordCredential{Username: "alice", Password: "nope"}, ""},
		{"unknown user", UsernamePasswordCredential{Username: "mallory", Password: "x"}, ""},
		{"disabled user", UsernamePasswordCredential{Username: "bob", Password: "builder"}, ""},
		{"allowed ip", UsernamePasswordCredential{Username: "carol", Password: "secret", RemoteAddr: "10.9.9.9:4000"}, "carol"},
		{"denied ip", UsernamePasswordCredential{Username: "carol", Password: "secret", RemoteAddr: "11.0.0.1:4000"}, ""},
		{"anonymous", AnonymousCredential{RemoteAddr: "1.1.1.1"}, AnonymousLogin},
		{"nil credential", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := m.Authenticate(ctx, tt.cred)
			if tt.want == "" {
				assert.True(t, errors.Is(err, ErrAuthenticationFailed))
				assert.Nil(t, u)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.Login)
		})
	}
}

func TestLocalUsers_Store(t *testing.T) {
	m := newTestUsers(t)
	ctx := context.Background()

	ok, err := m.DoesExist(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	logins, err := m.ListLogins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{AnonymousLogin, "alice", "bob", "carol"}, logins)

	// saving without a password keeps the stored one
	u, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	u.Password = ""
	u.HomeDir = "/srv/other"
	require.NoError(t, m.Save(ctx, u))
	_, err = m.Authenticate(ctx, UsernamePasswordCredential{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)

	// Get returns copies
	u.HomeDir = "/changed"
	again, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "/srv/other", again.HomeDir)

	require.NoError(t, m.Delete(ctx, "alice"))
	assert.True(t, errors.Is(m.Delete(ctx, "alice"), ErrUserNotFound))
	_, err = m.Get(ctx, "alice")
	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.Error(t, m.Save(ctx, &User{}))
}

func TestFileManager(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.toml")

	m, err := NewFileManager(path, "admin", SaltedPasswordEncryptor{})
	require.NoError(t, err)
	logins, err := m.ListLogins(ctx)
	require.NoError(t, err)
	assert.Empty(t, logins)

	u, err := m.Add("alice", "wonderland", "/srv/alice")
	require.NoError(t, err)
	require.NoError(t, u.AddIP("10.0.0.0/8"))
	u.MaxIdleTime = 60
	require.NoError(t, m.Save(ctx, u))
	_, err = m.Add("bob", "builder", "/srv/bob")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "bob"))

	reloaded, err := NewFileManager(path, "admin", SaltedPasswordEncryptor{})
	require.NoError(t, err)
	logins, err = reloaded.ListLogins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, logins)

	got, err := reloaded.Authenticate(ctx, UsernamePasswordCredential{Username: "alice", Password: "wonderland", RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/alice", got.HomeDir)
	assert.Equal(t, 60, got.MaxIdleTime)
	assert.True(t, got.WritePermission)
	assert.Len(t, got.IPs, 1)
}

func TestFileManager_ConcurrentSave(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.toml")
	m, err := NewFileManager(path, "admin", ClearTextPasswordEncryptor{})
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.Save(ctx, &User{Login: fmt.Sprintf("u%02d", i), HomeDir: "/", Enabled: true})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	reloaded, err := NewFileManager(path, "admin", ClearTextPasswordEncryptor{})
	require.NoError(t, err)
	logins, err := reloaded.ListLogins(ctx)
	require.NoError(t, err)
	assert.Len(t, logins, n, "every saved user is in the file")
}
