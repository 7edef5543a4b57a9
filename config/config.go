// Package config loads the server configuration from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/telebroad/ftpserver/ftp"
	"github.com/telebroad/ftpserver/users"
)

// User backends
const (
	BackendLocal = "local"
	BackendFile  = "file"
	BackendSQL   = "sql"
)

// LogConfig configures the tint logger.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn or error
}

// FTPConfig configures the FTP and implicit FTPS listeners.
type FTPConfig struct {
	Addr     string `toml:"addr"`      // plain FTP, disabled when empty
	FtpsAddr string `toml:"ftps_addr"` // implicit FTPS, needs tls.cert_file and tls.key_file
	Root     string `toml:"root"`      // local directory holding the home directories

	// PublicIP is announced in PASV replies, "auto" asks ipify.org
	PublicIP    string `toml:"public_ip"`
	PasvMinPort int    `toml:"pasv_min_port"`
	PasvMaxPort int    `toml:"pasv_max_port"`

	MaxConnections    int    `toml:"max_connections"`
	MaxLogins         int    `toml:"max_logins"`
	MaxLoginFailures  int    `toml:"max_login_failures"`
	LoginFailureDelay string `toml:"login_failure_delay"`
	IdleTimeout       string `toml:"idle_timeout"`
	DataTimeout       string `toml:"data_timeout"`
	AnonymousEnabled  bool   `toml:"anonymous_enabled"`
	AllowPortBounce   bool   `toml:"allow_port_bounce"`
	WelcomeMessage    string `toml:"welcome_message"`
}

// TLSConfig holds the certificate used by FTPS and HTTPS.
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// SFTPConfig configures the SSH listener.
type SFTPConfig struct {
	Addr string `toml:"addr"` // disabled when empty
	// HostKeyFile is created with a new RSA key when missing, an empty value uses a key per run
	HostKeyFile string `toml:"host_key_file"`
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr string `toml:"addr"` // disabled when empty
}

// UsersConfig selects the user backend.
type UsersConfig struct {
	Backend   string `toml:"backend"` // local, file or sql
	File      string `toml:"file"`    // TOML user file of the file backend
	Driver    string `toml:"driver"`  // sqlite or pgx
	DSN       string `toml:"dsn"`
	AdminName string `toml:"admin_name"`
	Encryptor string `toml:"encryptor"` // md5, salted, bcrypt or clear

	// The default user is created at startup when both login and password are set
	DefaultUser string   `toml:"default_user"`
	DefaultPass string   `toml:"default_pass"`
	DefaultHome string   `toml:"default_home"`
	DefaultIPs  []string `toml:"default_ips"`
}

// Config is the whole server configuration.
type Config struct {
	Log   LogConfig   `toml:"log"`
	FTP   FTPConfig   `toml:"ftp"`
	TLS   TLSConfig   `toml:"tls"`
	SFTP  SFTPConfig  `toml:"sftp"`
	HTTP  HTTPConfig  `toml:"http"`
	Users UsersConfig `toml:"users"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		FTP: FTPConfig{
			Addr:              ":21",
			Root:              "/static",
			PublicIP:          "auto",
			MaxLoginFailures:  ftp.DefaultMaxLoginFailures,
			LoginFailureDelay: ftp.DefaultLoginFailureDelay.String(),
			IdleTimeout:       ftp.DefaultIdleTimeout.String(),
			DataTimeout:       ftp.DefaultDataTimeout.String(),
		},
		Users: UsersConfig{
			Backend:     BackendLocal,
			AdminName:   users.DefaultAdminName,
			Encryptor:   "md5",
			DefaultHome: "/",
		},
	}
}

// Load reads path over the defaults, applies the environment and validates the result.
// An empty path only uses the defaults and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the configuration with the environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"FTP_SERVER_ADDR", &c.FTP.Addr},
		{"FTPS_SERVER_ADDR", &c.FTP.FtpsAddr},
		{"SFTP_SERVER_ADDR", &c.SFTP.Addr},
		{"HTTP_SERVER_ADDR", &c.HTTP.Addr},
		{"FTP_SERVER_IPV4", &c.FTP.PublicIP},
		{"FTP_SERVER_ROOT", &c.FTP.Root},
		{"CRT_FILE", &c.TLS.CertFile},
		{"KEY_FILE", &c.TLS.KeyFile},
		{"LOG_LEVEL", &c.Log.Level},
		{"DEFAULT_USER", &c.Users.DefaultUser},
		{"DEFAULT_PASS", &c.Users.DefaultPass},
	}
	for _, s := range strs {
		if v, ok := lookup(s.name); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PASV_MIN_PORT", &c.FTP.PasvMinPort},
		{"PASV_MAX_PORT", &c.FTP.PasvMaxPort},
	}
	for _, i := range ints {
		v, ok := lookup(i.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("error parsing %s: %w", i.name, err)
		}
		*i.dst = n
	}

	if v, ok := lookup("DEFAULT_IP"); ok {
		c.Users.DefaultIPs = nil
		for _, ip := range strings.Split(v, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				c.Users.DefaultIPs = append(c.Users.DefaultIPs, ip)
			}
		}
	}
	return nil
}

// Validate checks the values that would only fail once the servers start.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.FTP.PasvMinPort < 0 || c.FTP.PasvMaxPort > 65535 {
		errs = append(errs, fmt.Errorf("passive ports must be between 0 and 65535"))
	}
	if c.FTP.PasvMinPort > 0 && c.FTP.PasvMaxPort < c.FTP.PasvMinPort {
		errs = append(errs, fmt.Errorf("pasv_max_port %d is lower than pasv_min_port %d", c.FTP.PasvMaxPort, c.FTP.PasvMinPort))
	}
	if ip := c.FTP.PublicIP; ip != "" && ip != "auto" {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Unmap().Is4() {
			errs = append(errs, fmt.Errorf("public_ip %q is not an IPv4 address", ip))
		}
	}
	if c.FTP.MaxConnections < 0 || c.FTP.MaxLogins < 0 || c.FTP.MaxLoginFailures < 0 {
		errs = append(errs, fmt.Errorf("connection and login limits can not be negative"))
	}
	for name, d := range map[string]string{
		"login_failure_delay": c.FTP.LoginFailureDelay,
		"idle_timeout":        c.FTP.IdleTimeout,
		"data_timeout":        c.FTP.DataTimeout,
	} {
		if _, err := parseDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.FTP.FtpsAddr != "" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("ftps_addr needs tls cert_file and key_file"))
	}
	if c.FTP.Addr == "" && c.FTP.FtpsAddr == "" && c.SFTP.Addr == "" {
		errs = append(errs, fmt.Errorf("no ftp, ftps or sftp address configured"))
	}

	switch c.Users.Backend {
	case BackendLocal:
	case BackendFile:
		if c.Users.File == "" {
			errs = append(errs, fmt.Errorf("users backend %q needs a file", BackendFile))
		}
	case BackendSQL:
		if c.Users.Driver != "sqlite" && c.Users.Driver != "pgx" {
			errs = append(errs, fmt.Errorf("unknown users driver %q", c.Users.Driver))
		}
		if c.Users.DSN == "" {
			errs = append(errs, fmt.Errorf("users backend %q needs a dsn", BackendSQL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown users backend %q", c.Users.Backend))
	}
	if _, err := users.EncryptorByName(c.Users.Encryptor); err != nil {
		errs = append(errs, err)
	}
	for _, ip := range c.Users.DefaultIPs {
		if err := (&users.User{}).AddIP(ip); err != nil {
			errs = append(errs, fmt.Errorf("default_ips %q: %w", ip, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LogLevel parses Log.Level, an empty level is info.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// GetIdleTimeout returns the idle timeout, 0 uses the server default.
func (c *FTPConfig) GetIdleTimeout() time.Duration {
	d, _ := parseDuration(c.IdleTimeout)
	return d
}

// GetDataTimeout returns the data connection timeout, 0 uses the server default.
func (c *FTPConfig) GetDataTimeout() time.Duration {
	d, _ := parseDuration(c.DataTimeout)
	return d
}

// GetLoginFailureDelay returns the delay after a failed PASS.
func (c *FTPConfig) GetLoginFailureDelay() time.Duration {
	d, _ := parseDuration(c.LoginFailureDelay)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
