package ftp

import (
	"context"
	"strings"
	"time"

	"github.com/telebroad/ftpserver/metrics"
	"github.com/telebroad/ftpserver/users"
)

// userCommand handles USER, the first half of the login.
func userCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	login := strings.TrimSpace(r.Argument)
	if login == "" {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "User name not specified.")
	}

	if s.Phase() == PhaseAuthenticated {
		if login == s.Login() {
			return sc.reply(s, r, StatusUserLoggedIn, "USER", "User already logged in.")
		}
		return sc.reply(s, r, StatusNotLoggedIn, "USER", "Can't change to another user.")
	}

	subID := "USER"
	if strings.EqualFold(login, users.AnonymousLogin) {
		if !sc.AnonymousEnabled {
			s.setPhase(PhaseUnauthenticated, "")
			return sc.reply(s, r, StatusNotLoggedIn, "USER.anonymous", "Anonymous connections are not allowed.")
		}
		login = users.AnonymousLogin
		subID = "USER.anonymous"
	}

	s.setPhase(PhaseAwaitingPassword, login)
	return sc.reply(s, r, StatusUserNameOK, subID, "User name okay, need password.")
}

// passCommand handles PASS and completes the login started with USER.
func passCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	switch s.Phase() {
	case PhaseAuthenticated:
		return sc.reply(s, r, StatusCommandNotImplemented, "PASS", "Already logged in.")
	case PhaseUnauthenticated:
		return sc.reply(s, r, StatusBadSequenceOfCommands, "PASS", "Login with USER first.")
	}

	login := s.Login()
	logger := sc.Logger().With("session", s.ID, "login", login, "remote", s.RemoteIP())

	var cred users.Credential = users.UsernamePasswordCredential{
		Username:   login,
		Password:   r.Argument,
		RemoteAddr: s.RemoteIP(),
	}
	if login == users.AnonymousLogin {
		cred = users.AnonymousCredential{RemoteAddr: s.RemoteIP()}
	}

	u, err := sc.Users.Authenticate(ctx, cred)
	if err != nil {
		metrics.Authentication(sc.Protocol, false)
		s.loginFailures++
		s.setPhase(PhaseUnauthenticated, "")
		logger.Warn("authentication_failed", "failures", s.loginFailures, "error", err)

		if sc.LoginFailureDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sc.LoginFailureDelay):
			}
		}
		if err = sc.reply(s, r, StatusNotLoggedIn, "PASS", "Authentication failed."); err != nil {
			return err
		}
		if sc.MaxLoginFailures > 0 && s.loginFailures >= sc.MaxLoginFailures {
			logger.Warn("too many login failures, closing connection")
			return errCloseSession
		}
		return nil
	}

	fsys, err := sc.FileSystem(u)
	if err != nil {
		logger.Error("error opening home directory", "home", u.HomeDir, "error", err)
		s.setPhase(PhaseUnauthenticated, "")
		return sc.reply(s, r, StatusNotLoggedIn, "PASS.HOME", "Can't access the home directory.")
	}

	limits := LoginLimits{Total: sc.MaxLogins, PerUser: u.MaxLoginNumber, PerIP: u.MaxLoginPerIP}
	total, perUser, perIP, ok := sc.Sessions.TryLogin(s, u, fsys, limits)
	if !ok {
		logger.Warn("login limit reached", "logins", total, "user_logins", perUser, "ip_logins", perIP)
		if err = sc.reply(s, r, StatusServiceNotAvailable, "PASS", "Too many users logged in."); err != nil {
			return err
		}
		return errCloseSession
	}

	metrics.Authentication(sc.Protocol, true)
	logger.Info("authentication_success", "admin", sc.Users.IsAdmin(u.Login))
	return sc.reply(s, r, StatusUserLoggedIn, "PASS", "User logged in, proceed.")
}

func acctCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sc.reply(s, r, StatusCommandNotImplemented, "ACCT", "Command not implemented, superfluous at this site.")
}

// reinCommand logs the user out, the connection stays open.
func reinCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	s.logout()
	return sc.reply(s, r, StatusServiceReadyForNewUser, "REIN", "Service ready for new user.")
}

func quitCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	if err := sc.reply(s, r, StatusServiceClosingControlConnection, "", "Goodbye."); err != nil {
		return err
	}
	return errCloseSession
}

// authCommand refuses explicit TLS, FTPS is served on its own implicit port.
func authCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	return sc.reply(s, r, StatusCommandNotImplementedForParam, "AUTH", "AUTH is not supported.")
}
