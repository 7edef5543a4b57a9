package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/keys"
	"github.com/telebroad/ftpserver/metrics"
	"github.com/telebroad/ftpserver/users"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("sftp: server closed")

// loginExtension carries the authenticated login from the password callback to the connection.
const loginExtension = "login"

// FSFactory returns the file system a logged in user works on.
type FSFactory func(u *users.User) (filesystem.FSWithFile, error)

// LocalFSFactory serves every user from its home directory under root.
func LocalFSFactory(root string) FSFactory {
	return func(u *users.User) (filesystem.FSWithFile, error) {
		return filesystem.NewHomeFS(root, u.HomeDir, u.WritePermission)
	}
}

type Server struct {
	Addr       string
	PrivateKey []byte

	users      users.Manager
	fileSystem FSFactory
	logger     *slog.Logger

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

// NewSFTPServer creates an SFTP server authenticating against um and serving
// the file system returned by fsys for each user.
func NewSFTPServer(addr string, um users.Manager, fsys FSFactory) *Server {
	return &Server{
		Addr:       addr,
		users:      um,
		fileSystem: fsys,
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// SetPrivateKey sets the private key for the server.
// if not called the server will generate a new key
func (s *Server) SetPrivateKey(pk []byte) {
	s.PrivateKey = pk
}

func (s *Server) SetPrivateKeyFile(pk string) error {
	file, err := os.ReadFile(pk)
	if err != nil {
		return fmt.Errorf("error reading private key file: %w", err)
	}
	s.PrivateKey = file
	return nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger.With("module", "sftp-server")
}

func (s *Server) sshConfig() (*ssh.ServerConfig, error) {
	if s.PrivateKey == nil {
		pk, _, err := keys.GeneratesRSAKeys(2048)
		if err != nil {
			return nil, err
		}
		s.PrivateKey = pk
	}
	privateKey, err := ssh.ParsePrivateKey(s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: s.AuthHandler,
	}
	config.AddHostKey(privateKey)
	return config, nil
}

func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Logger().Info("Listening on " + listener.Addr().String())
	return s.Serve(listener)
}

// TryListenAndServe tries to start the SFTP server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts SSH connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	config, err := s.sshConfig()
	if err != nil {
		l.Close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("error accepting connection: %w", err)
			}
			s.Logger().Error("Failed to accept incoming connection", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.sshHandler(conn, config)
		}()
	}
}

// Close stops the listeners, closes every connection and waits for them to end.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var result *multierror.Error
	for l := range s.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("error closing listener: %w", err))
		}
	}
	for c := range s.conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("error closing connection: %w", err))
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return result.ErrorOrNil()
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AuthHandler is called by the SSH server when a client attempts to authenticate.
func (s *Server) AuthHandler(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	remoteIP := c.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}

	u, err := s.users.Authenticate(context.Background(), users.UsernamePasswordCredential{
		Username:   c.User(),
		Password:   string(pass),
		RemoteAddr: remoteIP,
	})
	if err != nil {
		metrics.Authentication(metrics.ProtocolSFTP, false)
		s.Logger().Warn("authentication_failed", "login", c.User(), "remote", remoteIP, "error", err)
		return nil, fmt.Errorf("password rejected for %q", c.User())
	}

	metrics.Authentication(metrics.ProtocolSFTP, true)
	s.Logger().Info("authentication_success", "login", u.Login, "remote", remoteIP)
	return &ssh.Permissions{Extensions: map[string]string{loginExtension: u.Login}}, nil
}

func (s *Server) sshHandler(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()
	defer metrics.ConnectionOpened(metrics.ProtocolSFTP)()

	id := uuid.NewString()
	logger := s.Logger().With("session", id, "remote", conn.RemoteAddr().String())

	// Upgrade the connection to an SSH connection.
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		logger.Debug("Failed to handshake", "error", err)
		return
	}
	defer sshConn.Close()

	login := sshConn.Permissions.Extensions[loginExtension]
	logger = logger.With("login", login)
	logger.Info("session_started", "protocol", metrics.ProtocolSFTP, "client_version", string(sshConn.ClientVersion()))
	start := time.Now()
	defer func() {
		logger.Info("session_closed", "duration", time.Since(start))
	}()

	u, err := s.users.Get(context.Background(), login)
	if err != nil {
		logger.Error("error reading user", "error", err)
		return
	}
	fsys, err := s.fileSystem(u)
	if err != nil {
		logger.Error("error opening home directory", "home", u.HomeDir, "error", err)
		return
	}

	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		// The SFTP server operates over a single channel of type "session".
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Error("Could not accept channel", "error", err)
			return
		}
		go s.filterHandler(requests, logger)

		server := sftp.NewRequestServer(channel, NewFileSys(fsys, logger))
		if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug("sftp server completed with error", "error", err)
		}
		server.Close()
	}
}

// filterHandler accepts the sftp subsystem request and refuses every other channel request.
func (s *Server) filterHandler(in <-chan *ssh.Request, logger *slog.Logger) {
	for req := range in {
		logger.Debug("Request", "type", req.Type)

		ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
		if err := req.Reply(ok, nil); err != nil {
			logger.Debug("Failed to reply", "error", err)
			return
		}
	}
}
