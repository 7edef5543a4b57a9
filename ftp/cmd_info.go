package ftp

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/telebroad/ftpserver/filesystem"
	"github.com/telebroad/ftpserver/listing"
)

// SystemType is the SYST reply for the running operating system.
func SystemType() string {
	switch os := runtime.GOOS; os {
	case "windows":
		return "WINDOWS Type: L8"
	case "linux", "darwin":
		return "UNIX Type: L8" // macOS is Unix-based
	default:
		return "OS Type: " + os
	}
}

func systCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return s.Reply(StatusNameSystemType, SystemType())
}

// featCommand lists the supported extensions, RFC 2389.
// Feature lines start with a space.
func featCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return s.WriteReply(NewReplyLines(StatusSystemStatus,
		"Extensions supported:",
		" AVBL",
		" EPRT",
		" EPSV",
		" LANG "+langFeature(sc, s),
		" MDTM",
		" MLSD",
		" "+listing.FeatureLine(s.facts.Facts()),
		" REST STREAM",
		" SIZE",
		" UTF8",
		"End",
	))
}

// langFeature lists the languages, the one in use is marked with "*".
func langFeature(sc *ServerContext, s *Session) string {
	current := s.Language()
	if current == "" {
		current = sc.Messages.Default()
	}
	langs := sc.Messages.Languages()
	for i, lang := range langs {
		if lang == current {
			langs[i] += "*"
		}
	}
	return strings.Join(langs, ";")
}

// helpCommand answers with the help text of the verb in the argument,
// or with the command list when there is none.
func helpCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	topic := strings.ToUpper(strings.TrimSpace(r.Argument))
	if topic != "" {
		if _, ok := sc.Messages.Message(StatusHelpMessage, topic, s.Language()); ok {
			return sc.reply(s, r, StatusHelpMessage, topic, "")
		}
	}
	return sc.reply(s, r, StatusHelpMessage, "", "The following commands are recognized.")
}

func noopCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sc.reply(s, r, StatusCommandOK, "NOOP", "Command okay.")
}

// statCommand reports the session status, or lists a path over the control connection.
func statCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSystemStatus, "STAT", "FTP server status.")
	}
	if s.Phase() != PhaseAuthenticated {
		return sc.reply(s, r, StatusNotLoggedIn, "", "Not logged in.")
	}

	p := abs(s, listArgument(r.Argument))
	entry, err := s.fs.Stat(p)
	if err != nil {
		return sc.fsError(s, r, "STAT", err)
	}

	code := StatusFileStatus
	entries := []filesystem.FileEntry{entry}
	if entry.IsDir() {
		code = StatusDirectoryStatus
		if entries, err = s.fs.Dir(p); err != nil {
			return sc.fsError(s, r, "STAT", err)
		}
	}

	var sb strings.Builder
	sb.WriteString("Status of " + p + ":\n")
	sb.WriteString(listing.FormatAll(listing.ListFormatter{}, entries))
	sb.WriteString("End of status.")
	return s.Reply(code, sb.String())
}

// langCommand selects the reply language, RFC 2640.
func langCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	arg := strings.TrimSpace(r.Argument)
	if arg == "" {
		s.language = ""
		return sc.reply(s, r, StatusCommandOK, "LANG", "Command LANG okay.")
	}
	lang, ok := sc.Messages.Supports(arg)
	if !ok {
		return sc.reply(s, r, StatusCommandNotImplementedForParam, "LANG", "Unsupported language.")
	}
	s.language = lang
	return sc.reply(s, r, StatusCommandOK, "LANG", "Command LANG okay.")
}

func optsCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	name, value, _ := strings.Cut(strings.TrimSpace(r.Argument), " ")
	switch strings.ToUpper(name) {
	case "UTF8", "UTF-8":
		if value == "" || strings.EqualFold(value, "ON") {
			return sc.reply(s, r, StatusCommandOK, "OPTS", "UTF8 set to on.")
		}
		return sc.reply(s, r, StatusCommandNotImplementedForParam, "OPTS", "UTF8 can not be turned off.")
	case "MLST":
		s.facts = listing.NewFactFormatter(listing.ParseFacts(value))
		var sb strings.Builder
		sb.WriteString("MLST OPTS")
		for i, fact := range s.facts.Facts() {
			if i == 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(fact + ";")
		}
		return s.Reply(StatusCommandOK, sb.String())
	}
	return sc.reply(s, r, StatusSyntaxErrorInParameters, "OPTS", "Option not understood.")
}

func sizeCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	entry, err := s.fs.Stat(abs(s, r.Argument))
	if err != nil {
		return sc.fsError(s, r, "SIZE", err)
	}
	if !entry.IsFile() {
		return sc.reply(s, r, StatusFileUnavailable, "SIZE", "Not a plain file.")
	}
	return s.Reply(StatusFileStatus, strconv.FormatInt(entry.Size(), 10))
}

// mdtmCommand returns the modification time of a file.
// "MDTM YYYYMMDDHHMMSS path" sets it.
func mdtmCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	arg := strings.TrimSpace(r.Argument)
	if arg == "" {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}

	if stamp, name, ok := strings.Cut(arg, " "); ok && len(stamp) == len(listing.ModifyLayout) {
		if t, err := time.Parse(listing.ModifyLayout, stamp); err == nil {
			if ok, err := sc.requireWrite(s, r); !ok {
				return err
			}
			p := abs(s, name)
			if err = s.fs.ModifyTime(p, t); err != nil {
				return sc.fsError(s, r, "MDTM", err)
			}
			return s.Reply(StatusFileStatus, fmt.Sprintf("Modify=%s; %s", stamp, p))
		}
	}

	entry, err := s.fs.Stat(abs(s, arg))
	if err != nil {
		return sc.fsError(s, r, "MDTM", err)
	}
	return s.Reply(StatusFileStatus, entry.ModTime().UTC().Format(listing.ModifyLayout))
}

// mlstCommand sends the facts of one entry over the control connection, RFC 3659.
func mlstCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	p := abs(s, strings.TrimSpace(r.Argument))
	entry, err := s.fs.Stat(p)
	if err != nil {
		return sc.fsError(s, r, "MLST", err)
	}
	line := strings.TrimSuffix(s.facts.Format(entry), listing.Newline)
	return s.WriteReply(NewReplyLines(StatusFileActionOK, "Listing "+p, " "+line, "End"))
}

// avblCommand returns the free space in bytes for a directory.
func avblCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	stat, err := s.fs.StatFS(abs(s, strings.TrimSpace(r.Argument)))
	if err != nil {
		return sc.fsError(s, r, "AVBL", err)
	}
	size := stat.Frsize
	if size == 0 {
		size = stat.Bsize
	}
	return s.Reply(StatusFileStatus, strconv.FormatUint(stat.Bavail*size, 10))
}
