package ftp

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/telebroad/ftpserver/metrics"
)

// errCloseSession is returned by a command after its last reply when the
// connection must be closed, QUIT or too many failed logins.
var errCloseSession = errors.New("session closed")

// CommandFunc handles one command. It writes its replies through the session.
// A returned error closes the control connection.
type CommandFunc func(ctx context.Context, sc *ServerContext, s *Session, r *Request) error

// keepPolicy tells what multi command state survives the command.
type keepPolicy int

const (
	// keepNone resets the rename source and the restart offset
	keepNone keepPolicy = iota
	// keepRestart resets the rename source only, the command sets up or runs a transfer
	keepRestart
	// keepAll resets nothing
	keepAll
)

type commandEntry struct {
	fn           CommandFunc
	requiresAuth bool
	keep         keepPolicy
	// whileBusy allows the command while a transfer is running
	whileBusy bool
}

// Dispatcher routes requests to the registered commands.
type Dispatcher struct {
	commands map[string]commandEntry
}

// NewDispatcher returns a dispatcher with every supported command.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: defaultCommands()}
}

func defaultCommands() map[string]commandEntry {
	return map[string]commandEntry{
		// access control
		USER: {fn: userCommand},
		PASS: {fn: passCommand},
		ACCT: {fn: acctCommand},
		REIN: {fn: reinCommand},
		QUIT: {fn: quitCommand, whileBusy: true},
		AUTH: {fn: authCommand},

		// information
		SYST: {fn: systCommand},
		FEAT: {fn: featCommand},
		HELP: {fn: helpCommand},
		NOOP: {fn: noopCommand, whileBusy: true},
		STAT: {fn: statCommand, keep: keepAll, whileBusy: true},
		LANG: {fn: langCommand},
		OPTS: {fn: optsCommand},
		SITE: {fn: siteCommand, requiresAuth: true},
		SIZE: {fn: sizeCommand, requiresAuth: true},
		MDTM: {fn: mdtmCommand, requiresAuth: true},
		MLST: {fn: mlstCommand, requiresAuth: true},
		AVBL: {fn: avblCommand, requiresAuth: true},

		// directories
		PWD:  {fn: pwdCommand, requiresAuth: true},
		XPWD: {fn: pwdCommand, requiresAuth: true},
		CWD:  {fn: cwdCommand, requiresAuth: true},
		XCWD: {fn: cwdCommand, requiresAuth: true},
		CDUP: {fn: cdupCommand, requiresAuth: true},
		XCUP: {fn: cdupCommand, requiresAuth: true},
		MKD:  {fn: mkdCommand, requiresAuth: true},
		XMKD: {fn: mkdCommand, requiresAuth: true},
		RMD:  {fn: rmdCommand, requiresAuth: true},
		XRMD: {fn: rmdCommand, requiresAuth: true},

		// files
		DELE: {fn: deleCommand, requiresAuth: true},
		RNFR: {fn: rnfrCommand, requiresAuth: true},
		RNTO: {fn: rntoCommand, requiresAuth: true, keep: keepAll},

		// transfer parameters
		TYPE: {fn: typeCommand, requiresAuth: true, keep: keepRestart},
		MODE: {fn: modeCommand, requiresAuth: true, keep: keepRestart},
		STRU: {fn: struCommand, requiresAuth: true, keep: keepRestart},
		PASV: {fn: pasvCommand, requiresAuth: true, keep: keepRestart},
		EPSV: {fn: epsvCommand, requiresAuth: true, keep: keepRestart},
		PORT: {fn: portCommand, requiresAuth: true, keep: keepRestart},
		EPRT: {fn: eprtCommand, requiresAuth: true, keep: keepRestart},
		REST: {fn: restCommand, requiresAuth: true},
		ALLO: {fn: alloCommand, requiresAuth: true, keep: keepRestart},

		// transfers
		RETR: {fn: retrCommand, requiresAuth: true, keep: keepRestart},
		STOR: {fn: storCommand, requiresAuth: true, keep: keepRestart},
		APPE: {fn: appeCommand, requiresAuth: true, keep: keepRestart},
		STOU: {fn: stouCommand, requiresAuth: true, keep: keepRestart},
		LIST: {fn: listCommand, requiresAuth: true},
		NLST: {fn: nlstCommand, requiresAuth: true},
		MLSD: {fn: mlsdCommand, requiresAuth: true},
		ABOR: {fn: aborCommand, requiresAuth: true, keep: keepAll, whileBusy: true},
	}
}

// Verbs returns the registered verbs in alphabetical order.
func (d *Dispatcher) Verbs() []string {
	verbs := make([]string, 0, len(d.commands))
	for verb := range d.commands {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}

// Dispatch runs the command of r.
// Unknown verbs and commands refused because of the login state or a running
// transfer are answered without touching the session.
func (d *Dispatcher) Dispatch(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	start := time.Now()
	label := r.Verb

	var err error
	entry, ok := d.commands[r.Verb]
	switch {
	case !ok:
		label = "UNKNOWN"
		err = sc.reply(s, r, StatusSyntaxErrorNotImplemented, "", "Command not implemented.")
	case s.Busy() && !entry.whileBusy:
		err = sc.reply(s, r, StatusBadSequenceOfCommands, "BUSY", "Transfer in progress.")
	case entry.requiresAuth && s.Phase() != PhaseAuthenticated:
		err = sc.reply(s, r, StatusNotLoggedIn, "", "Not logged in.")
	default:
		switch entry.keep {
		case keepNone:
			s.ResetState()
		case keepRestart:
			s.renameFrom = ""
		}
		err = entry.fn(ctx, sc, s, r)
	}

	metrics.Command(label, StatusClass(s.LastReplyCode()), time.Since(start))
	return err
}
