package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebroad/ftpserver/config"
	"github.com/telebroad/ftpserver/users"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.FTP.Addr = "127.0.0.1:0"
	cfg.FTP.Root = t.TempDir()
	cfg.FTP.PublicIP = ""
	cfg.Users.Encryptor = "clear"
	cfg.Users.DefaultUser = "bob"
	cfg.Users.DefaultPass = "secret"
	cfg.Users.DefaultHome = "/bob"
	cfg.Users.DefaultIPs = []string{"127.0.0.1"}
	return cfg
}

func TestSetupUsers(t *testing.T) {
	tests := []struct {
		name    string
		backend func(t *testing.T, cfg *config.Config)
	}{
		{"local", func(t *testing.T, cfg *config.Config) {}},
		{"file", func(t *testing.T, cfg *config.Config) {
			cfg.Users.Backend = config.BackendFile
			cfg.Users.File = filepath.Join(t.TempDir(), "users.toml")
		}},
		{"sqlite", func(t *testing.T, cfg *config.Config) {
			cfg.Users.Backend = config.BackendSQL
			cfg.Users.Driver = "sqlite"
			cfg.Users.DSN = filepath.Join(t.TempDir(), "users.db")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.FTP.AnonymousEnabled = true
			tt.backend(t, cfg)
			require.NoError(t, cfg.Validate())

			ctx := context.Background()
			um, closeUsers, err := setupUsers(ctx, cfg, discardLogger())
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeUsers()) }()

			u, err := um.Authenticate(ctx, users.UsernamePasswordCredential{
				Username:   "bob",
				Password:   "secret",
				RemoteAddr: "127.0.0.1",
			})
			require.NoError(t, err)
			assert.Equal(t, "/bob", u.HomeDir)
			assert.True(t, u.WritePermission)

			_, err = um.Authenticate(ctx, users.UsernamePasswordCredential{
				Username:   "bob",
				Password:   "secret",
				RemoteAddr: "10.1.1.1",
			})
			assert.ErrorIs(t, err, users.ErrAuthenticationFailed, "DEFAULT_IP restricts the origin")

			anon, err := um.Authenticate(ctx, users.AnonymousCredential{RemoteAddr: "10.1.1.1"})
			require.NoError(t, err)
			assert.Equal(t, "/pub", anon.HomeDir)
			assert.False(t, anon.WritePermission)
		})
	}
}

func TestAddAnonymousUser_KeepsExisting(t *testing.T) {
	ctx := context.Background()
	um := users.NewLocalUsers("admin", users.ClearTextPasswordEncryptor{})
	_, err := um.Add(users.AnonymousLogin, "", "/incoming")
	require.NoError(t, err)

	require.NoError(t, addAnonymousUser(ctx, um, discardLogger()))
	u, err := um.Get(ctx, users.AnonymousLogin)
	require.NoError(t, err)
	assert.Equal(t, "/incoming", u.HomeDir)
}

func TestAddDefaultUser_Skipped(t *testing.T) {
	ctx := context.Background()
	um := users.NewLocalUsers("admin", users.ClearTextPasswordEncryptor{})
	require.NoError(t, addDefaultUser(ctx, um, config.UsersConfig{DefaultUser: "bob"}, discardLogger()))
	logins, err := um.ListLogins(ctx)
	require.NoError(t, err)
	assert.Empty(t, logins)

	err = addDefaultUser(ctx, um, config.UsersConfig{
		DefaultUser: "bob",
		DefaultPass: "secret",
		DefaultIPs:  []string{"nope"},
	}, discardLogger())
	assert.ErrorContains(t, err, "default ip")
}

func TestResolvePublicIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", resolvePublicIP(context.Background(), "203.0.113.7", discardLogger()))
	assert.Equal(t, "", resolvePublicIP(context.Background(), "", discardLogger()))
}

func TestSetupLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "debug"
	logger := setupLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	cfg.Log.Level = "warn"
	logger = setupLogger(cfg)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.SFTP.Addr = "127.0.0.1:0"
	cfg.SFTP.HostKeyFile = filepath.Join(t.TempDir(), "host_rsa")
	cfg.HTTP.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		started []string
	)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, discardLogger(), func(name string) {
			mu.Lock()
			started = append(started, name)
			if len(started) == 3 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, []string{"ftp", "sftp", "http"}, started)
	assert.FileExists(t, cfg.SFTP.HostKeyFile)
}

func TestRun_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig(t)
	cfg.FTP.Addr = l.Addr().String()

	err = run(context.Background(), cfg, discardLogger(), nil)
	assert.ErrorContains(t, err, "error starting ftp server")
}
