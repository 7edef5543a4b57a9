package ftp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

func typeCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	switch strings.ToUpper(strings.Join(strings.Fields(r.Argument), " ")) {
	case "":
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	case "A", "A N":
		s.transferType = TypeASCII
	case "I", "L 8":
		s.transferType = TypeBinary
	default:
		return sc.reply(s, r, StatusCommandNotImplementedForParam, "", "Command not implemented for that parameter.")
	}
	return sc.reply(s, r, StatusCommandOK, "TYPE", "Command TYPE okay.")
}

// modeCommand accepts the stream mode only.
func modeCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return singleLetterParam(sc, s, r, "MODE", "S", "BC", &s.mode)
}

// struCommand accepts the file structure only.
func struCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return singleLetterParam(sc, s, r, "STRU", "F", "RP", &s.structure)
}

func singleLetterParam(sc *ServerContext, s *Session, r *Request, subID, supported, known string, field *byte) error {
	arg := strings.ToUpper(strings.TrimSpace(r.Argument))
	switch {
	case len(arg) != 1:
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	case strings.Contains(supported, arg):
		*field = arg[0]
		return sc.reply(s, r, StatusCommandOK, subID, "Command okay.")
	case strings.Contains(known, arg):
		return sc.reply(s, r, StatusCommandNotImplementedForParam, "", "Command not implemented for that parameter.")
	}
	return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
}

// pasvCommand opens a passive listener and announces it, RFC 959.
func pasvCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	l, port, err := sc.openPassive(ctx, s)
	if err != nil {
		return sc.reply(s, r, StatusCantOpenDataConnection, "", "Can't open data connection.")
	}
	text, err := pasvReplyText(sc.passiveIP(s), port)
	if err != nil {
		l.Close()
		sc.Logger().Error("error announcing passive port", "session", s.ID, "error", err)
		return sc.reply(s, r, StatusCantOpenDataConnection, "", "Can't open data connection.")
	}
	s.SetDataConnection(DataConnection{Mode: DataPassive, Listener: l})
	return s.Reply(StatusEnteringPassiveMode, text)
}

// epsvCommand opens a passive listener and announces its port only, RFC 2428.
func epsvCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	switch arg := strings.ToUpper(strings.TrimSpace(r.Argument)); arg {
	case "ALL":
		return sc.reply(s, r, StatusCommandOK, "EPSV", "EPSV ALL okay.")
	case "", "1", "2":
	default:
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}

	l, port, err := sc.openPassive(ctx, s)
	if err != nil {
		return sc.reply(s, r, StatusCantOpenDataConnection, "", "Can't open data connection.")
	}
	s.SetDataConnection(DataConnection{Mode: DataPassive, Listener: l})
	return s.Reply(StatusEnteringExtendedPassiveMode, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

func (sc *ServerContext) openPassive(ctx context.Context, s *Session) (net.Listener, int, error) {
	l, err := sc.DataConnector.OpenPassive(ctx)
	if err != nil {
		sc.Logger().Error("error opening passive listener", "session", s.ID, "error", err)
		return nil, 0, err
	}
	port, err := listenerPort(l)
	if err != nil {
		l.Close()
		sc.Logger().Error("error opening passive listener", "session", s.ID, "error", err)
		return nil, 0, err
	}
	return l, port, nil
}

// passiveIP is the address announced in 227 replies.
func (sc *ServerContext) passiveIP(s *Session) net.IP {
	if sc.PublicIP.IsValid() {
		return net.IP(sc.PublicIP.Unmap().AsSlice())
	}
	if tcp, ok := s.LocalAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	return net.ParseIP(hostOf(s.LocalAddr()))
}

func portCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	addr, err := parsePortArg(r.Argument)
	if err != nil {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	return sc.setActive(s, r, "PORT", addr)
}

func eprtCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	addr, err := parseEprtArg(r.Argument)
	if err != nil {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	return sc.setActive(s, r, "EPRT", addr)
}

// setActive stores the target of an active data connection.
// The target must be the client itself unless AllowPortBounce is set, RFC 2577.
func (sc *ServerContext) setActive(s *Session, r *Request, subID string, addr *net.TCPAddr) error {
	if !sc.AllowPortBounce && !addr.IP.Equal(net.ParseIP(s.RemoteIP())) {
		sc.Logger().Warn("refused data connection to a foreign address", "session", s.ID, "target", addr.String())
		return sc.reply(s, r, StatusCommandNotImplementedForParam, subID, "Data connection to a foreign address is not allowed.")
	}
	s.SetDataConnection(DataConnection{Mode: DataActive, Target: addr})
	return sc.reply(s, r, StatusCommandOK, subID, "Command okay.")
}

// restCommand sets the offset of the next RETR or STOR.
func restCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	offset, err := strconv.ParseInt(strings.TrimSpace(r.Argument), 10, 64)
	if err != nil || offset < 0 {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	s.restartOffset = offset
	return sc.reply(s, r, StatusFileActionPending, "REST", "Restarting at "+strconv.FormatInt(offset, 10)+".")
}

// alloCommand accepts any allocation, storage is not reserved.
func alloCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sc.reply(s, r, StatusCommandNotImplemented, "ALLO", "No storage allocation necessary.")
}
