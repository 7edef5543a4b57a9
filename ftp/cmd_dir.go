package ftp

import (
	"context"
)

// requireWrite replies 550 when the user may not change files.
// It reports whether the command may go on.
func (sc *ServerContext) requireWrite(s *Session, r *Request) (bool, error) {
	if u := s.User(); u != nil && u.WritePermission {
		return true, nil
	}
	return false, sc.reply(s, r, StatusFileUnavailable, "PERM", "No permission.")
}

func pwdCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sc.reply(s, r, StatusPathnameCreated, "PWD", `"`+quotePath(s.WorkingDir())+`" is current directory.`)
}

func cwdCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	return changeDir(sc, s, r, abs(s, r.Argument))
}

func cdupCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return changeDir(sc, s, r, abs(s, ".."))
}

func changeDir(sc *ServerContext, s *Session, r *Request, dir string) error {
	if err := s.fs.CheckDir(dir); err != nil {
		return sc.fsError(s, r, "CWD", err)
	}
	s.setWorkingDir(dir)
	return sc.reply(s, r, StatusFileActionOK, "CWD", "Directory changed to "+dir)
}

func mkdCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	dir := abs(s, r.Argument)
	if err := s.fs.MakeDir(dir); err != nil {
		return sc.fsError(s, r, "MKD", err)
	}
	return sc.reply(s, r, StatusPathnameCreated, "MKD", quotePath(dir))
}

func rmdCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	if err := s.fs.RemoveDir(abs(s, r.Argument)); err != nil {
		return sc.fsError(s, r, "RMD", err)
	}
	return sc.reply(s, r, StatusFileActionOK, "RMD", "Directory removed.")
}

func deleCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	if err := s.fs.Remove(abs(s, r.Argument)); err != nil {
		return sc.fsError(s, r, "DELE", err)
	}
	return sc.reply(s, r, StatusFileActionOK, "DELE", "File deleted.")
}

// rnfrCommand remembers the file RNTO renames.
func rnfrCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	from := abs(s, r.Argument)
	if _, err := s.fs.Stat(from); err != nil {
		return sc.fsError(s, r, "RNFR", err)
	}
	s.renameFrom = from
	return sc.reply(s, r, StatusFileActionPending, "RNFR", "Requested file action pending further information.")
}

func rntoCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		return sc.reply(s, r, StatusBadSequenceOfCommands, "RNTO", "Can't find the file which has to be renamed.")
	}
	if !r.HasArgument() {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	if ok, err := sc.requireWrite(s, r); !ok {
		return err
	}
	if err := s.fs.Rename(from, abs(s, r.Argument)); err != nil {
		return sc.fsError(s, r, "RNTO", err)
	}
	return sc.reply(s, r, StatusFileActionOK, "RNTO", "File renamed.")
}
