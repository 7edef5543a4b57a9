package ftp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/listing"
	"github.com/telebroad/ftpserver/users"
)

// AuthPhase is the login state of a session.
type AuthPhase int

const (
	PhaseUnauthenticated AuthPhase = iota
	PhaseAwaitingPassword
	PhaseAuthenticated
)

func (p AuthPhase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAwaitingPassword:
		return "awaiting-password"
	case PhaseAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// TransferType is the representation type set with TYPE.
type TransferType byte

const (
	TypeASCII  TransferType = 'A'
	TypeBinary TransferType = 'I'
)

// DataMode tells how the next data connection is established.
type DataMode int

const (
	DataNotSet DataMode = iota
	DataPassive
	DataActive
)

func (m DataMode) String() string {
	switch m {
	case DataPassive:
		return "passive"
	case DataActive:
		return "active"
	}
	return "not-set"
}

// DataConnection is the data connection configuration of a session.
// Passive holds the listener the client connects to, Active the address the server dials.
type DataConnection struct {
	Mode     DataMode
	Listener net.Listener
	Target   *net.TCPAddr
}

// Close releases the passive listener.
func (d DataConnection) Close() error {
	if d.Listener != nil {
		return d.Listener.Close()
	}
	return nil
}

// Session is the state of one control connection.
// It is owned by the goroutine serving the connection. Fields read by a running
// transfer or by status snapshots are written under mu.
type Session struct {
	ID          string
	remoteAddr  net.Addr
	localAddr   net.Addr
	connectedAt time.Time

	writer    io.Writer
	writeLock sync.Mutex
	lastCode  StatusCode

	phase       AuthPhase
	pendingUser string
	user        *users.User
	fs          filesystem.FS
	workingDir  string

	renameFrom    string
	restartOffset int64

	data         DataConnection
	transferType TransferType
	structure    byte
	mode         byte
	language     string
	facts        *listing.FactFormatter

	loginFailures int

	mu             sync.Mutex
	lastAccess     time.Time
	busy           bool
	transferCancel context.CancelFunc
	transferWG     sync.WaitGroup
}

// NewSession creates the state of a new control connection writing replies to w.
func NewSession(id string, remote, local net.Addr, w io.Writer) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		remoteAddr:   remote,
		localAddr:    local,
		connectedAt:  now,
		lastAccess:   now,
		writer:       w,
		workingDir:   "/",
		transferType: TypeBinary,
		structure:    'F',
		mode:         'S',
		facts:        listing.NewFactFormatter(nil),
	}
}

// Reply writes an encoded reply to the control connection.
// A write error means the connection is gone and must be closed.
func (s *Session) Reply(code StatusCode, text string) error {
	return s.WriteReply(NewReply(code, text))
}

// WriteReply writes r to the control connection.
func (s *Session) WriteReply(r Reply) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.lastCode = r.Code
	_, err := io.WriteString(s.writer, r.String())
	return err
}

// LastReplyCode returns the code of the last reply written.
func (s *Session) LastReplyCode() StatusCode {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.lastCode
}

// ResetState clears the state of multi command sequences (RNFR/RNTO, REST).
func (s *Session) ResetState() {
	s.renameFrom = ""
	s.restartOffset = 0
}

// Phase returns the login state.
func (s *Session) Phase() AuthPhase {
	return s.phase
}

// User returns the logged in user, nil before PASS succeeded.
func (s *Session) User() *users.User {
	return s.user
}

// Login returns the logged in or pending login name.
func (s *Session) Login() string {
	if s.user != nil {
		return s.user.Login
	}
	return s.pendingUser
}

// WorkingDir returns the virtual working directory.
func (s *Session) WorkingDir() string {
	return s.workingDir
}

// Language returns the negotiated reply language, "" for the default.
func (s *Session) Language() string {
	return s.language
}

// RenameFrom returns the pending rename source.
func (s *Session) RenameFrom() string {
	return s.renameFrom
}

// RestartOffset returns the offset set with REST.
func (s *Session) RestartOffset() int64 {
	return s.restartOffset
}

// Data returns the data connection configuration.
func (s *Session) Data() DataConnection {
	return s.data
}

// TransferType returns the type set with TYPE.
func (s *Session) TransferType() TransferType {
	return s.transferType
}

// RemoteAddr returns the address of the client.
func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// RemoteIP returns the IP of the client, "" when unknown.
func (s *Session) RemoteIP() string {
	return hostOf(s.remoteAddr)
}

// LocalAddr returns the server side address of the control connection.
func (s *Session) LocalAddr() net.Addr {
	return s.localAddr
}

// SetDataConnection replaces the data connection configuration,
// a previous passive listener is closed.
func (s *Session) SetDataConnection(d DataConnection) {
	s.data.Close()
	s.data = d
}

// takeDataConnection hands the configuration over to a transfer, the session goes back to not set.
func (s *Session) takeDataConnection() DataConnection {
	d := s.data
	s.data = DataConnection{}
	return d
}

// CloseDataConnection drops the data connection configuration.
func (s *Session) CloseDataConnection() {
	s.SetDataConnection(DataConnection{})
}

// login moves the session to the authenticated phase.
func (s *Session) login(u *users.User, fsys filesystem.FS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseAuthenticated
	s.pendingUser = ""
	s.user = u
	s.fs = fsys
	s.workingDir = "/"
	s.loginFailures = 0
}

// logout returns the session to the state right after the connection was accepted.
func (s *Session) logout() {
	s.mu.Lock()
	s.phase = PhaseUnauthenticated
	s.pendingUser = ""
	s.user = nil
	s.fs = nil
	s.workingDir = "/"
	s.mu.Unlock()
	s.transferType = TypeBinary
	s.structure = 'F'
	s.mode = 'S'
	s.facts = listing.NewFactFormatter(nil)
	s.ResetState()
	s.CloseDataConnection()
}

// setPhase changes the login state before PASS completes the login.
func (s *Session) setPhase(p AuthPhase, pendingUser string) {
	s.mu.Lock()
	s.phase = p
	s.pendingUser = pendingUser
	s.mu.Unlock()
}

func (s *Session) setWorkingDir(dir string) {
	s.mu.Lock()
	s.workingDir = dir
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// LastAccess returns the time the last command was received.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Busy reports whether a transfer is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// beginTransfer marks the session busy and returns the context of the transfer.
func (s *Session) beginTransfer(parent context.Context) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	s.busy = true
	s.transferCancel = cancel
	s.transferWG.Add(1)
	return ctx, true
}

// finishTransfer clears the busy flag, it is called before the final reply is sent.
func (s *Session) finishTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.busy = false
	s.transferCancel = nil
}

// abortTransfer interrupts a running transfer and waits until it replied.
// Cancelling the transfer context closes its data connection.
// It reports whether a transfer was running.
func (s *Session) abortTransfer() bool {
	s.mu.Lock()
	busy := s.busy
	if s.transferCancel != nil {
		s.transferCancel()
	}
	s.mu.Unlock()

	s.transferWG.Wait()
	return busy
}

// close releases everything the session holds.
func (s *Session) close() {
	s.abortTransfer()
	s.CloseDataConnection()
}

// SessionInfo is a snapshot of a session for status pages.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Login       string    `json:"login,omitempty"`
	Phase       string    `json:"phase"`
	WorkingDir  string    `json:"working_dir"`
	Busy        bool      `json:"busy"`
	ConnectedAt time.Time `json:"connected_at"`
	LastAccess  time.Time `json:"last_access"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:          s.ID,
		Phase:       s.phase.String(),
		WorkingDir:  s.workingDir,
		Busy:        s.busy,
		ConnectedAt: s.connectedAt,
		LastAccess:  s.lastAccess,
	}
	if s.remoteAddr != nil {
		info.RemoteAddr = s.remoteAddr.String()
	}
	if s.user != nil {
		info.Login = s.user.Login
	}
	return info
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
