package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftpserver.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":21", cfg.FTP.Addr)
	assert.Equal(t, BackendLocal, cfg.Users.Backend)
	assert.Equal(t, 5*time.Minute, cfg.FTP.GetIdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.FTP.GetDataTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.FTP.GetLoginFailureDelay())

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[ftp]
addr = ":2121"
root = "/srv/ftp"
public_ip = "203.0.113.7"
pasv_min_port = 30000
pasv_max_port = 30009
max_connections = 50
idle_timeout = "90s"
anonymous_enabled = true

[sftp]
addr = ":2222"
host_key_file = "/etc/ftpserver/host_rsa"

[users]
backend = "sql"
driver = "sqlite"
dsn = "file:users.db"
encryptor = "bcrypt"
default_ips = ["10.0.0.0/8"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":2121", cfg.FTP.Addr)
	assert.Equal(t, "/srv/ftp", cfg.FTP.Root)
	assert.Equal(t, "203.0.113.7", cfg.FTP.PublicIP)
	assert.Equal(t, 30000, cfg.FTP.PasvMinPort)
	assert.Equal(t, 30009, cfg.FTP.PasvMaxPort)
	assert.Equal(t, 50, cfg.FTP.MaxConnections)
	assert.Equal(t, 90*time.Second, cfg.FTP.GetIdleTimeout())
	assert.True(t, cfg.FTP.AnonymousEnabled)
	assert.Equal(t, ":2222", cfg.SFTP.Addr)
	assert.Equal(t, BackendSQL, cfg.Users.Backend)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Users.DefaultIPs)

	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.FTP.GetDataTimeout())
	assert.Equal(t, "admin", cfg.Users.AdminName)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[ftp\naddr = 1"))
	assert.ErrorContains(t, err, "error reading config file")

	_, err = Load(writeConfig(t, "[ftp]\nadress = \":21\"\n"))
	assert.ErrorContains(t, err, "ftp.adress")

	_, err = Load(writeConfig(t, "[ftp]\nidle_timeout = \"soon\"\n"))
	assert.ErrorContains(t, err, "idle_timeout")
}

func TestLoad_Environment(t *testing.T) {
	path := writeConfig(t, "[ftp]\naddr = \":2121\"\npublic_ip = \"203.0.113.7\"\n")
	t.Setenv("FTP_SERVER_ADDR", ":21021")
	t.Setenv("PASV_MIN_PORT", "40000")
	t.Setenv("PASV_MAX_PORT", "40010")
	t.Setenv("DEFAULT_USER", "bob")
	t.Setenv("DEFAULT_PASS", "secret")
	t.Setenv("DEFAULT_IP", "10.0.0.1, 192.168.0.0/16,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":21021", cfg.FTP.Addr, "the environment wins over the file")
	assert.Equal(t, "203.0.113.7", cfg.FTP.PublicIP)
	assert.Equal(t, 40000, cfg.FTP.PasvMinPort)
	assert.Equal(t, 40010, cfg.FTP.PasvMaxPort)
	assert.Equal(t, "bob", cfg.Users.DefaultUser)
	assert.Equal(t, "secret", cfg.Users.DefaultPass)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Users.DefaultIPs)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SFTP_SERVER_ADDR": ":2022",
		"HTTP_SERVER_ADDR": ":8080",
		"CRT_FILE":         "/tls/cert.pem",
		"KEY_FILE":         "/tls/key.pem",
		"LOG_LEVEL":        "WARN",
		"PASV_MIN_PORT":    "",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, ":2022", cfg.SFTP.Addr)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/tls/cert.pem", cfg.TLS.CertFile)
	assert.Equal(t, "/tls/key.pem", cfg.TLS.KeyFile)
	assert.Equal(t, 0, cfg.FTP.PasvMinPort, "an empty number is ignored")
	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	env["PASV_MAX_PORT"] = "many"
	assert.ErrorContains(t, Default().ApplyEnv(lookup), "PASV_MAX_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"port range", func(c *Config) { c.FTP.PasvMinPort, c.FTP.PasvMaxPort = 3000, 2000 }, "pasv_max_port"},
		{"port bounds", func(c *Config) { c.FTP.PasvMaxPort = 70000 }, "between 0 and 65535"},
		{"public ip", func(c *Config) { c.FTP.PublicIP = "2001:db8::1" }, "not an IPv4"},
		{"auto public ip", func(c *Config) { c.FTP.PublicIP = "auto" }, ""},
		{"negative limit", func(c *Config) { c.FTP.MaxLogins = -1 }, "negative"},
		{"negative duration", func(c *Config) { c.FTP.DataTimeout = "-1s" }, "data_timeout"},
		{"ftps without cert", func(c *Config) { c.FTP.FtpsAddr = ":990" }, "cert_file"},
		{"ftps with cert", func(c *Config) {
			c.FTP.FtpsAddr = ":990"
			c.TLS.CertFile, c.TLS.KeyFile = "cert.pem", "key.pem"
		}, ""},
		{"nothing to serve", func(c *Config) { c.FTP.Addr = "" }, "no ftp"},
		{"file backend", func(c *Config) { c.Users.Backend = BackendFile }, "needs a file"},
		{"sql driver", func(c *Config) {
			c.Users.Backend = BackendSQL
			c.Users.Driver = "mysql"
			c.Users.DSN = "x"
		}, "unknown users driver"},
		{"sql dsn", func(c *Config) {
			c.Users.Backend = BackendSQL
			c.Users.Driver = "pgx"
		}, "needs a dsn"},
		{"backend", func(c *Config) { c.Users.Backend = "ldap" }, "unknown users backend"},
		{"encryptor", func(c *Config) { c.Users.Encryptor = "rot13" }, "unknown password encryptor"},
		{"default ip", func(c *Config) { c.Users.DefaultIPs = []string{"not-an-ip"} }, "default_ips"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
