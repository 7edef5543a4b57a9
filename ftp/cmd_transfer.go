package ftp

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/listing"
	"github.com/telebroad/ftpserver/metrics"
	"github.com/telebroad/ftpserver/tools"
)

const (
	directionUpload   = "upload"
	directionDownload = "download"
)

// transfer describes the data connection work of a command.
type transfer struct {
	command   string
	direction string
	// msg is the {output.msg} of the 150 and 226 replies
	msg string
	run func(ctx context.Context, conn io.ReadWriter) (int64, error)
}

// dataConnError marks errors of the data connection itself, they abort the transfer with 426.
type dataConnError struct {
	err error
}

func (e *dataConnError) Error() string { return "data connection: " + e.err.Error() }
func (e *dataConnError) Unwrap() error { return e.err }

// trackedConn tags the errors of the data connection.
type trackedConn struct {
	net.Conn
}

func (c trackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil && err != io.EOF {
		err = &dataConnError{err}
	}
	return n, err
}

func (c trackedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		err = &dataConnError{err}
	}
	return n, err
}

// startTransfer hands the data connection to a goroutine running t.
// The control connection keeps reading commands meanwhile, the goroutine
// sends the 150 and the final reply.
func (sc *ServerContext) startTransfer(ctx context.Context, s *Session, r *Request, t transfer) error {
	d := s.takeDataConnection()
	if d.Mode == DataNotSet {
		return sc.reply(s, r, StatusCantOpenDataConnection, "", "Use PORT or PASV first.")
	}
	tctx, ok := s.beginTransfer(ctx)
	if !ok {
		d.Close()
		return sc.reply(s, r, StatusBadSequenceOfCommands, "BUSY", "Transfer in progress.")
	}

	go func() {
		defer s.transferWG.Done()
		sc.runTransfer(tctx, s, r, d, t)
	}()
	return nil
}

func (sc *ServerContext) runTransfer(ctx context.Context, s *Session, r *Request, d DataConnection, t transfer) {
	logger := sc.Logger().With("session", s.ID, "login", s.Login(), "command", t.command)
	start := time.Now()

	conn, err := sc.openData(ctx, d)
	if err != nil {
		s.finishTransfer()
		logger.Warn("error opening data connection", "mode", d.Mode.String(), "error", err)
		metrics.Transfer(t.command, t.direction, 0, err)
		sc.reply(s, r, StatusCantOpenDataConnection, "", "Can't open data connection.")
		return
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err = sc.reply(s, r, StatusFileStatusOK, t.command, t.msg); err != nil {
		conn.Close()
		s.finishTransfer()
		return
	}

	n, err := t.run(ctx, trackedConn{conn})
	if closeErr := conn.Close(); err == nil && closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		err = &dataConnError{closeErr}
	}
	aborted := ctx.Err() != nil
	if aborted && err == nil {
		err = context.Canceled
	}

	// the session accepts new commands before the client sees the final reply
	s.finishTransfer()
	metrics.Transfer(t.command, t.direction, n, err)
	logger.Info("transfer_complete", "direction", t.direction, "file", t.msg, "bytes", n,
		"duration", time.Since(start), "aborted", aborted, "error", err)

	var connErr *dataConnError
	switch {
	case aborted, errors.As(err, &connErr):
		sc.reply(s, r, StatusConnectionClosedTransferAborted, "", "Connection closed; transfer aborted.")
	case err != nil:
		sc.fsError(s, r, t.command, err)
	default:
		sc.reply(s, r, StatusClosingDataConnection, t.command, "Closing data connection. Requested file action successful.")
	}
}

func retrCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	name := abs(s, r.Argument)
	entry, err := s.fs.Stat(name)
	if err != nil {
		return sc.fsError(s, r, RETR, err)
	}
	if !entry.IsFile() {
		return sc.reply(s, r, StatusFileUnavailable, RETR, "Not a plain file.")
	}

	fsys, rate, ascii := s.fs, s.User().MaxDownloadRate, s.transferType == TypeASCII
	offset := s.restartOffset
	s.restartOffset = 0

	return sc.startTransfer(ctx, s, r, transfer{
		command:   RETR,
		direction: directionDownload,
		msg:       name,
		run: func(ctx context.Context, conn io.ReadWriter) (int64, error) {
			w := tools.NewRateLimitedWriter(ctx, conn, rate)
			if ascii {
				w = newASCIIWriter(w)
			}
			return fsys.ReadFile(name, w, offset)
		},
	})
}

func storCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	return store(ctx, sc, s, r, STOR, abs(s, r.Argument), false)
}

func appeCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	return store(ctx, sc, s, r, APPE, abs(s, r.Argument), true)
}

// stouCommand stores under a name that does not exist yet, built from the
// optional argument.
func stouCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	base := "ftp"
	if r.HasArgument() {
		base = strings.TrimSpace(r.Argument)
	}
	name, err := uniqueName(s.fs, abs(s, base))
	if err != nil {
		return sc.fsError(s, r, STOU, err)
	}
	return store(ctx, sc, s, r, STOU, name, false)
}

func uniqueName(fsys filesystem.FS, name string) (string, error) {
	if _, err := fsys.Stat(name); errors.Is(err, fs.ErrNotExist) {
		return name, nil
	}
	for i := 0; i < 10; i++ {
		candidate := name + "." + strings.SplitN(uuid.NewString(), "-", 2)[0]
		_, err := fsys.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fs.ErrExist
}

func store(ctx context.Context, sc *ServerContext, s *Session, r *Request, command, name string, appendOnly bool) error {
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	if entry, err := s.fs.Stat(name); err == nil && entry.IsDir() {
		return sc.reply(s, r, StatusFileUnavailable, command, "Is a directory.")
	}

	fsys, rate, ascii := s.fs, s.User().MaxUploadRate, s.transferType == TypeASCII
	offset := s.restartOffset
	s.restartOffset = 0

	return sc.startTransfer(ctx, s, r, transfer{
		command:   command,
		direction: directionUpload,
		msg:       name,
		run: func(ctx context.Context, conn io.ReadWriter) (int64, error) {
			rd := tools.NewRateLimitedReader(ctx, conn, rate)
			if ascii {
				rd = newASCIIReader(rd)
			}
			return fsys.WriteFile(name, rd, offset, appendOnly)
		},
	})
}

func listCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sendListing(ctx, sc, s, r, LIST, listing.ListFormatter{}, true)
}

func nlstCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sendListing(ctx, sc, s, r, NLST, listing.NameFormatter{}, true)
}

func mlsdCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sendListing(ctx, sc, s, r, MLSD, s.facts, false)
}

// sendListing formats the entries of a directory and sends them over the data connection.
// A file is listed as itself when allowFile is set.
func sendListing(ctx context.Context, sc *ServerContext, s *Session, r *Request, command string, f listing.Formatter, allowFile bool) error {
	dir := abs(s, listArgument(r.Argument))
	entry, err := s.fs.Stat(dir)
	if err != nil {
		return sc.fsError(s, r, command, err)
	}

	var entries []filesystem.FileEntry
	switch {
	case entry.IsDir():
		if entries, err = s.fs.Dir(dir); err != nil {
			return sc.fsError(s, r, command, err)
		}
	case allowFile:
		entries = []filesystem.FileEntry{entry}
	default:
		return sc.reply(s, r, StatusFileUnavailable, command, "Not a directory.")
	}
	data := listing.FormatAll(f, entries)

	return sc.startTransfer(ctx, s, r, transfer{
		command:   command,
		direction: directionDownload,
		msg:       dir,
		run: func(ctx context.Context, conn io.ReadWriter) (int64, error) {
			n, err := io.WriteString(conn, data)
			return int64(n), err
		},
	})
}

// listArgument drops the ls style options clients send with LIST, such as "-la".
func listArgument(arg string) string {
	arg = strings.TrimSpace(arg)
	for strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = strings.TrimSpace(rest)
	}
	return arg
}

// aborCommand interrupts the running transfer. The transfer replies 426
// before ABOR replies 226.
func aborCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !s.abortTransfer() {
		s.CloseDataConnection()
	}
	return sc.reply(s, r, StatusClosingDataConnection, "ABOR", "ABOR command successful.")
}
