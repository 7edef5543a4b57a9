// Description: This is the main file of the ftp server
// It starts the ftp, ftps (implicit TLS), sftp and admin http servers
// configured by the toml file given with -config and the environment variables

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"

	"github.com/telebroad/ftpserver/config"
	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/ftp"
	"github.com/telebroad/ftpserver/httphandler"
	"github.com/telebroad/ftpserver/keys"
	"github.com/telebroad/ftpserver/messages"
	"github.com/telebroad/ftpserver/metrics"
	"github.com/telebroad/ftpserver/sftp"
	"github.com/telebroad/ftpserver/users"
	"github.com/telebroad/ftpserver/users/sqlusers"
)

// startTimeout is how long a listener gets to fail before it counts as started
const startTimeout = time.Second

func main() {
	configPath := flag.String("config", os.Getenv("FTP_SERVER_CONFIG"), "path to the toml configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	// setting up the slog logger
	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	// Validate already rejected a bad level
	logLevel, _ := cfg.LogLevel()

	handlerOptions := &tint.Options{
		AddSource:  logLevel <= slog.LevelDebug,
		Level:      logLevel,
		TimeFormat: time.DateTime,
	}

	handler := tint.NewHandler(os.Stdout, handlerOptions)

	logger := slog.New(handler).With("app", "ftpserver")
	logger.Info("Logger initialized", "level", logLevel)

	return logger
}

// started is called with the name of every server once it listens
type started func(name string)

// run starts the configured servers and blocks until ctx is done, then closes them all.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, onStart started) (err error) {
	if onStart == nil {
		onStart = func(string) {}
	}

	um, closeUsers, err := setupUsers(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var closers []func() error
	defer func() {
		var result *multierror.Error
		// last started is closed first, the user store goes last
		for i := len(closers) - 1; i >= 0; i-- {
			result = multierror.Append(result, closers[i]())
		}
		result = multierror.Append(result, closeUsers())
		err = errors.Join(err, result.ErrorOrNil())
	}()

	msgs, err := messages.New()
	if err != nil {
		return fmt.Errorf("error loading messages: %w", err)
	}
	sessions := ftp.NewSessionManager()

	if cfg.FTP.Addr != "" || cfg.FTP.FtpsAddr != "" {
		sc := &ftp.ServerContext{
			Users:      um,
			Messages:   msgs,
			FileSystem: ftp.LocalFSFactory(cfg.FTP.Root),
			DataConnector: &ftp.TCPDataConnector{
				PasvMinPort: cfg.FTP.PasvMinPort,
				PasvMaxPort: cfg.FTP.PasvMaxPort,
				DialTimeout: cfg.FTP.GetDataTimeout(),
			},
			MaxConnections:    cfg.FTP.MaxConnections,
			MaxLogins:         cfg.FTP.MaxLogins,
			MaxLoginFailures:  cfg.FTP.MaxLoginFailures,
			LoginFailureDelay: cfg.FTP.GetLoginFailureDelay(),
			AnonymousEnabled:  cfg.FTP.AnonymousEnabled,
			AllowPortBounce:   cfg.FTP.AllowPortBounce,
			IdleTimeout:       cfg.FTP.GetIdleTimeout(),
			DataTimeout:       cfg.FTP.GetDataTimeout(),
			Sessions:          sessions,
			Protocol:          metrics.ProtocolFTP,
			WelcomeMessage:    cfg.FTP.WelcomeMessage,
		}
		sc.SetLogger(logger)
		publicIP := resolvePublicIP(ctx, cfg.FTP.PublicIP, logger)

		// ftp server
		if cfg.FTP.Addr != "" {
			ftpServer, err := newFTPServer(cfg.FTP.Addr, sc, publicIP)
			if err != nil {
				return err
			}
			if err = ftpServer.TryListenAndServe(startTimeout); err != nil {
				return fmt.Errorf("error starting ftp server: %w", err)
			}
			closers = append(closers, ftpServer.Close)
			logger.Info("FTP server started", "addr", cfg.FTP.Addr)
			onStart("ftp")
		}

		// ftps server, it shares the sessions so the limits count both
		if cfg.FTP.FtpsAddr != "" {
			ftpsContext := *sc
			ftpsContext.Protocol = metrics.ProtocolFTPS
			ftpsServer, err := newFTPServer(cfg.FTP.FtpsAddr, &ftpsContext, publicIP)
			if err != nil {
				return err
			}
			// ONLY ACCEPT TLS CONNECTIONS
			if err = ftpsServer.TryListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, startTimeout); err != nil {
				return fmt.Errorf("error starting ftps server: %w", err)
			}
			closers = append(closers, ftpsServer.Close)
			logger.Info("FTPS server started", "addr", cfg.FTP.FtpsAddr)
			onStart("ftps")
		}
	}

	// sftp server
	if cfg.SFTP.Addr != "" {
		hostKey, err := keys.LoadOrGenerateRSA(cfg.SFTP.HostKeyFile)
		if err != nil {
			return fmt.Errorf("error loading sftp host key: %w", err)
		}
		sftpServer := sftp.NewSFTPServer(cfg.SFTP.Addr, um, sftp.LocalFSFactory(cfg.FTP.Root))
		sftpServer.SetLogger(logger)
		sftpServer.SetPrivateKey(hostKey)
		if err = sftpServer.TryListenAndServe(startTimeout); err != nil {
			return fmt.Errorf("error starting sftp server: %w", err)
		}
		closers = append(closers, sftpServer.Close)
		logger.Info("SFTP server started", "addr", cfg.SFTP.Addr)
		onStart("sftp")
	}

	// admin api, metrics and the read only file view
	if cfg.HTTP.Addr != "" {
		handler := httphandler.NewHandler(um, sessions, func(u *users.User) (filesystem.FS, error) {
			return filesystem.NewHomeFS(cfg.FTP.Root, u.HomeDir, false)
		})
		handler.SetLogger(logger)
		httpServer := httphandler.NewServer(cfg.HTTP.Addr, handler)

		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			err = httpServer.TryListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, startTimeout)
		} else {
			err = httpServer.TryListenAndServe(startTimeout)
		}
		if err != nil {
			return fmt.Errorf("error starting http server: %w", err)
		}
		closers = append(closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		logger.Info("HTTP server started", "addr", cfg.HTTP.Addr)
		onStart("http")
	}

	// graceful shutdown all servers
	<-ctx.Done()
	logger.Info("Shutting down", "cause", context.Cause(ctx))
	return nil
}

func newFTPServer(addr string, sc *ftp.ServerContext, publicIP string) (*ftp.Server, error) {
	s, err := ftp.NewServer(addr, sc)
	if err != nil {
		return nil, fmt.Errorf("error creating %s server: %w", sc.Protocol, err)
	}
	if publicIP != "" {
		// setting the public server ip for passive mode
		if err = s.SetPublicServerIPv4(publicIP); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// resolvePublicIP returns the address announced in PASV replies.
// "auto" asks ipify.org, when that fails the local address of each connection is used.
func resolvePublicIP(ctx context.Context, publicIP string, logger *slog.Logger) string {
	if publicIP != "auto" {
		return publicIP
	}
	logger.Info("FTP_SERVER_IPV4 was auto so Getting public ip from ipify.org...")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ip, err := ftp.GetServerPublicIP(ctx)
	if err != nil {
		logger.Warn("Error getting public ip, PASV replies use the local address", "error", err)
		return ""
	}
	logger.Info("Public ip found", "ip", ip)
	return ip
}

// setupUsers opens the configured user backend and creates the default and anonymous users.
func setupUsers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (users.Manager, func() error, error) {
	encryptor, err := users.EncryptorByName(cfg.Users.Encryptor)
	if err != nil {
		return nil, nil, err
	}

	var (
		um      users.Manager
		closeUM = func() error { return nil }
	)
	switch cfg.Users.Backend {
	case config.BackendFile:
		um, err = users.NewFileManager(cfg.Users.File, cfg.Users.AdminName, encryptor)
	case config.BackendSQL:
		var m *sqlusers.Manager
		m, err = sqlusers.Open(ctx, cfg.Users.Driver, cfg.Users.DSN, cfg.Users.AdminName, encryptor)
		if err == nil {
			um, closeUM = m, m.Close
		}
	default:
		um = users.NewLocalUsers(cfg.Users.AdminName, encryptor)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s user backend: %w", cfg.Users.Backend, err)
	}
	logger.Debug("User backend ready", "backend", cfg.Users.Backend, "admin", um.AdminName())

	if err = addDefaultUser(ctx, um, cfg.Users, logger); err != nil {
		closeUM()
		return nil, nil, err
	}
	if cfg.FTP.AnonymousEnabled {
		if err = addAnonymousUser(ctx, um, logger); err != nil {
			closeUM()
			return nil, nil, err
		}
	}
	return um, closeUM, nil
}

// addDefaultUser creates or replaces the DEFAULT_USER account.
func addDefaultUser(ctx context.Context, um users.Manager, cfg config.UsersConfig, logger *slog.Logger) error {
	logger.Debug("DEFAULT_USER is", "username", cfg.DefaultUser)
	logger.Debug("DEFAULT_IP is", "Allowed form origin IPs", cfg.DefaultIPs)
	if cfg.DefaultUser == "" || cfg.DefaultPass == "" {
		logger.Info("DEFAULT_USER or DEFAULT_PASS is empty, not creating default user")
		return nil
	}

	password, err := um.PasswordEncryptor().Encrypt(cfg.DefaultPass)
	if err != nil {
		return fmt.Errorf("error encrypting default password: %w", err)
	}
	u := &users.User{
		Login:           cfg.DefaultUser,
		Password:        password,
		HomeDir:         cfg.DefaultHome,
		Enabled:         true,
		WritePermission: true,
	}
	for _, ip := range cfg.DefaultIPs {
		if err = u.AddIP(ip); err != nil {
			return fmt.Errorf("error adding default ip %q: %w", ip, err)
		}
	}
	if err = um.Save(ctx, u); err != nil {
		return fmt.Errorf("error saving default user: %w", err)
	}
	return nil
}

// addAnonymousUser creates a read only anonymous account under /pub unless one exists.
func addAnonymousUser(ctx context.Context, um users.Manager, logger *slog.Logger) error {
	exists, err := um.DoesExist(ctx, users.AnonymousLogin)
	if err != nil {
		return fmt.Errorf("error reading anonymous user: %w", err)
	}
	if exists {
		return nil
	}
	logger.Info("Creating the anonymous user", "home", "/pub")
	err = um.Save(ctx, &users.User{
		Login:   users.AnonymousLogin,
		HomeDir: "/pub",
		Enabled: true,
	})
	if err != nil {
		return fmt.Errorf("error saving anonymous user: %w", err)
	}
	return nil
}
