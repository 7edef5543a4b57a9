package ftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/telebroad/ftpserver/metrics"
	"github.com/telebroad/ftpserver/tools"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("ftp: server closed")

var errLineTooLong = errors.New("command line too long")

type Server struct {
	// Addr is the TCP address to listen on, ":21" if empty.
	Addr string

	// TLSConfig is used by ListenAndServeTLS, the certificate files are loaded into a copy.
	TLSConfig *tls.Config

	sc         *ServerContext
	dispatcher *Dispatcher

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

// NewServer creates a server for addr, the empty fields of sc get their defaults.
func NewServer(addr string, sc *ServerContext) (*Server, error) {
	if sc.Users == nil {
		return nil, errors.New("ftp server needs a user manager")
	}
	if sc.FileSystem == nil {
		return nil, errors.New("ftp server needs a file system")
	}
	if err := sc.setDefaults(); err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Addr:       addr,
		sc:         sc,
		dispatcher: NewDispatcher(),
		baseCtx:    ctx,
		cancel:     cancel,
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.sc.SetLogger(l)
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	return s.sc.Logger()
}

// Context returns the configuration shared by the sessions.
func (s *Server) Context() *ServerContext {
	return s.sc
}

// Sessions returns the connected sessions.
func (s *Server) Sessions() *SessionManager {
	return s.sc.Sessions
}

// SetPublicServerIPv4 sets the address announced in PASV replies.
func (s *Server) SetPublicServerIPv4(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("error parsing public ip: %w", err)
	}
	if !addr.Unmap().Is4() {
		return fmt.Errorf("public ip %s is not IPv4", ip)
	}
	s.sc.PublicIP = addr.Unmap()
	return nil
}

func (s *Server) addr() string {
	if s.Addr == "" {
		return ":21"
	}
	return s.Addr
}

// ListenAndServe listens on Addr and serves plain FTP.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr())
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	s.Logger().Info("Listening on " + listener.Addr().String())
	return s.Serve(listener)
}

// ListenAndServeTLS listens on Addr and serves implicit FTPS,
// the TLS handshake starts as soon as the client connects.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	config := &tls.Config{}
	if s.TLSConfig != nil {
		config = s.TLSConfig.Clone()
	}
	if len(config.Certificates) == 0 && config.GetCertificate == nil {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("error loading certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	listener, err := net.Listen("tcp", s.addr())
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	s.Logger().Info("Listening for TLS on " + listener.Addr().String())
	return s.Serve(tls.NewListener(listener, config))
}

// TryListenAndServe tries to start the FTP server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	return try(s.ListenAndServe, d)
}

// TryListenAndServeTLS is TryListenAndServe for implicit FTPS.
func (s *Server) TryListenAndServeTLS(certFile, keyFile string, d time.Duration) error {
	return try(func() error { return s.ListenAndServeTLS(certFile, keyFile) }, d)
}

func try(serve func() error, d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		if err := serve(); err != nil && !errors.Is(err, ErrServerClosed) {
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

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	if !s.trackListener(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("error accepting connection: %w", err)
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else if tempDelay *= 2; tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.Logger().Error("Error accepting connection", "error", err, "retry", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		if !s.trackConn(conn, true) {
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			s.handleConnection(conn)
		}()
	}
}

// Close stops the listeners, closes every connection and waits for the sessions to end.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cancel()

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

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func (s *Server) trackConn(c net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

func (s *Server) handleConnection(conn net.Conn) {
	sc := s.sc
	id := uuid.NewString()
	logger := sc.Logger().With("session", id, "remote", conn.RemoteAddr().String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	defer metrics.ConnectionOpened(sc.Protocol)()

	rw := tools.NewBufLogReadWriter(conn, logger)
	session := NewSession(id, conn.RemoteAddr(), conn.LocalAddr(), rw)
	defer func() {
		conn.Close()
		session.close()
	}()

	if !sc.Sessions.TryAdd(session, sc.MaxConnections) {
		logger.Warn("too many connections", "max", sc.MaxConnections)
		sc.reply(session, nil, StatusServiceNotAvailable, "", "Too many connections.")
		return
	}
	defer sc.Sessions.Remove(id)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	logger.Info("session_started", "protocol", sc.Protocol)
	defer func() {
		logger.Info("session_closed", "login", session.Login(), "duration", time.Since(session.connectedAt))
	}()

	var err error
	if sc.WelcomeMessage != "" {
		err = session.Reply(StatusServiceReadyForNewUser, sc.WelcomeMessage)
	} else {
		err = sc.reply(session, nil, StatusServiceReadyForNewUser, "", "Service ready for new user.")
	}
	if err != nil {
		return
	}

	for {
		timeout := sc.IdleTimeout
		if u := session.User(); u != nil && u.MaxIdleTime > 0 {
			timeout = u.IdleTimeout()
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		line, err := readLine(rw.Reader)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				if session.Busy() {
					continue
				}
				logger.Info("idle timeout", "timeout", timeout)
				sc.reply(session, nil, StatusServiceNotAvailable, "IDLE", "Idle timeout, closing control connection.")
				return
			case errors.Is(err, errLineTooLong):
				if err = sc.reply(session, nil, StatusSyntaxError, "", "Command line too long."); err != nil {
					return
				}
				continue
			case !errors.Is(err, io.EOF) && !s.shuttingDown():
				logger.Debug("error reading command", "error", err)
			}
			return
		}

		rw.LogRequest(line)
		request, err := ParseRequest(line)
		if err != nil {
			continue
		}
		session.touch()

		if err = s.dispatcher.Dispatch(ctx, sc, session, request); err != nil {
			if !errors.Is(err, errCloseSession) {
				logger.Debug("closing session", "error", err)
			}
			return
		}
	}
}

// readLine reads one control line. Longer lines than the reader buffer are
// discarded and reported with errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", errLineTooLong
	}
	if err != nil {
		return "", err
	}
	return string(line), nil
}
