package ftp

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/netip"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/messages"
	"github.com/telebroad/ftpserver/users"
)

const (
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultDataTimeout       = 30 * time.Second
	DefaultLoginFailureDelay = 500 * time.Millisecond
	DefaultMaxLoginFailures  = 3
)

// FSFactory returns the file system a logged in user works on.
type FSFactory func(u *users.User) (filesystem.FS, error)

// LocalFSFactory serves every user from its home directory under root.
// A user without a home directory gets root itself.
func LocalFSFactory(root string) FSFactory {
	return func(u *users.User) (filesystem.FS, error) {
		return filesystem.NewHomeFS(root, u.HomeDir, u.WritePermission)
	}
}

// ServerContext holds what every session of a server shares.
// It is configured before the server starts and read only afterwards.
type ServerContext struct {
	Users      users.Manager
	Messages   *messages.Resource
	FileSystem FSFactory
	// DataConnector opens data connections, a TCPDataConnector with system ports when nil
	DataConnector DataConnector
	// PublicIP is announced in PASV replies, the local address of the control connection when invalid
	PublicIP netip.Addr

	// MaxConnections limits the connected sessions, 0 is unlimited
	MaxConnections int
	// MaxLogins limits the logged in sessions, 0 is unlimited
	MaxLogins int
	// MaxLoginFailures closes the connection after that many failed PASS
	MaxLoginFailures  int
	LoginFailureDelay time.Duration
	AnonymousEnabled  bool
	AllowPortBounce   bool

	IdleTimeout time.Duration
	DataTimeout time.Duration

	Sessions *SessionManager
	// Protocol labels metrics and logs, "ftp" or "ftps"
	Protocol       string
	WelcomeMessage string

	logger *slog.Logger
}

// SetLogger sets the logger shared by the sessions.
func (sc *ServerContext) SetLogger(l *slog.Logger) {
	sc.logger = l
}

// Logger returns the logger for the sessions.
func (sc *ServerContext) Logger() *slog.Logger {
	if sc.logger == nil {
		sc.logger = slog.Default()
	}
	return sc.logger.With("module", "ftp-server")
}

// setDefaults fills what was left empty.
func (sc *ServerContext) setDefaults() error {
	if sc.Messages == nil {
		m, err := messages.New()
		if err != nil {
			return err
		}
		sc.Messages = m
	}
	if sc.DataConnector == nil {
		sc.DataConnector = &TCPDataConnector{}
	}
	if sc.Sessions == nil {
		sc.Sessions = NewSessionManager()
	}
	if sc.IdleTimeout <= 0 {
		sc.IdleTimeout = DefaultIdleTimeout
	}
	if sc.DataTimeout <= 0 {
		sc.DataTimeout = DefaultDataTimeout
	}
	if sc.MaxLoginFailures <= 0 {
		sc.MaxLoginFailures = DefaultMaxLoginFailures
	}
	if sc.LoginFailureDelay < 0 {
		sc.LoginFailureDelay = 0
	}
	if sc.Protocol == "" {
		sc.Protocol = "ftp"
	}
	return nil
}

// Translate returns the text for code in the session language.
// The message stored under code and subID wins, basic is used when there is none.
// basic is also the value of {output.msg}.
func (sc *ServerContext) Translate(s *Session, r *Request, code StatusCode, subID, basic string) string {
	msg, ok := sc.Messages.Message(code, subID, s.Language())
	if !ok {
		msg = basic
	}
	if !strings.Contains(msg, "{") {
		return msg
	}
	return sc.replacer(s, r, code, basic).Replace(msg)
}

func (sc *ServerContext) replacer(s *Session, r *Request, code StatusCode, basic string) *strings.Replacer {
	serverIP, serverPort := "", ""
	if s.LocalAddr() != nil {
		serverIP, serverPort, _ = net.SplitHostPort(s.LocalAddr().String())
	}
	var line, cmd, arg string
	if r != nil {
		line, cmd, arg = r.String(), r.Verb, r.Argument
	}

	return strings.NewReplacer(
		"{output.code}", strconv.Itoa(code),
		"{output.msg}", basic,
		"{client.ip}", s.RemoteIP(),
		"{client.login.name}", s.Login(),
		"{client.dir}", s.WorkingDir(),
		"{server.ip}", serverIP,
		"{server.port}", serverPort,
		"{request.line}", line,
		"{request.cmd}", cmd,
		"{request.arg}", arg,
	)
}

// reply translates and writes a reply.
func (sc *ServerContext) reply(s *Session, r *Request, code StatusCode, subID, basic string) error {
	return s.Reply(code, sc.Translate(s, r, code, subID, basic))
}

// fsError replies to a failed file system operation.
// The text is built from the error kind so local paths never reach the client.
func (sc *ServerContext) fsError(s *Session, r *Request, subID string, err error) error {
	code := StatusFileUnavailable
	var basic string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		basic = "No such file or directory."
	case errors.Is(err, fs.ErrPermission):
		basic = "Permission denied."
	case errors.Is(err, fs.ErrExist):
		basic = "File exists."
	case errors.Is(err, fs.ErrInvalid):
		basic = "Not a directory."
	default:
		code = StatusLocalProcessingError
		basic = "Requested action aborted: local error in processing."
		sc.Logger().Error("file system error", "session", s.ID, "command", subID, "error", err)
	}
	return sc.reply(s, r, code, subID, basic)
}

// abs resolves a client path against the working directory.
func abs(s *Session, name string) string {
	return filesystem.Abs(s.WorkingDir(), name)
}

// quotePath doubles the quotes of a path used in a 257 reply, RFC 959 appendix II.
func quotePath(p string) string {
	return strings.ReplaceAll(path.Clean(p), `"`, `""`)
}
