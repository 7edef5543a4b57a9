package ftp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telebroad/ftpserver/users"
)

// siteCommand runs the SITE sub commands.
// WHO, STAT and DESCUSER are reserved to the admin user.
func siteCommand(ctx context.Context, sc *ServerContext, s *Session, r *Request) error {
	sub, arg, _ := strings.Cut(strings.TrimSpace(r.Argument), " ")
	sub = strings.ToUpper(sub)
	arg = strings.TrimSpace(arg)

	switch sub {
	case "", "HELP":
		return s.WriteReply(NewReplyLines(StatusHelpMessage,
			"The following SITE commands are recognized.",
			" HELP ZONE WHO STAT DESCUSER",
			"End"))
	case "ZONE":
		return s.Reply(StatusCommandOK, "UTC"+time.Now().Format("-0700"))
	case "WHO", "STAT", "DESCUSER":
		if !sc.Users.IsAdmin(s.Login()) {
			return sc.reply(s, r, StatusNotLoggedIn, "SITE", "Permission denied, admin only.")
		}
	default:
		return sc.reply(s, r, StatusSyntaxErrorNotImplemented, "SITE", "Command not implemented.")
	}

	switch sub {
	case "WHO":
		lines := []string{"Connected users:"}
		for _, info := range sc.Sessions.Snapshot() {
			login := info.Login
			if login == "" {
				login = "-"
			}
			lines = append(lines, fmt.Sprintf(" %-16s %-22s %s %s", login, info.RemoteAddr,
				info.WorkingDir, info.LastAccess.UTC().Format(time.RFC3339)))
		}
		lines = append(lines, "End")
		return s.WriteReply(NewReplyLines(StatusCommandOK, lines...))

	case "STAT":
		total, _, _ := sc.Sessions.LoginCounts("", "")
		return s.WriteReply(NewReplyLines(StatusCommandOK,
			"Server status:",
			fmt.Sprintf(" Connections: %d", sc.Sessions.Len()),
			fmt.Sprintf(" Logins: %d", total),
			" Languages: "+strings.Join(sc.Messages.Languages(), ", "),
			"End"))
	}

	// DESCUSER
	if arg == "" {
		return sc.reply(s, r, StatusSyntaxErrorInParameters, "", "Syntax error in parameters or arguments.")
	}
	u, err := sc.Users.Get(ctx, arg)
	if errors.Is(err, users.ErrUserNotFound) {
		return sc.reply(s, r, StatusFileUnavailable, "SITE", "No such user.")
	}
	if err != nil {
		sc.Logger().Error("error reading user", "session", s.ID, "login", arg, "error", err)
		return sc.reply(s, r, StatusLocalProcessingError, "SITE", "Requested action aborted: local error in processing.")
	}
	return s.WriteReply(NewReplyLines(StatusCommandOK, describeUser(u)...))
}

func describeUser(u *users.User) []string {
	ips := make([]string, len(u.IPs))
	for i, p := range u.IPs {
		ips[i] = p.String()
	}
	return []string{
		"userid          : " + u.Login,
		"homedirectory   : " + u.HomeDir,
		fmt.Sprintf("enableflag      : %t", u.Enabled),
		fmt.Sprintf("writepermission : %t", u.WritePermission),
		fmt.Sprintf("idletime        : %d", u.MaxIdleTime),
		fmt.Sprintf("uploadrate      : %d", u.MaxUploadRate),
		fmt.Sprintf("downloadrate    : %d", u.MaxDownloadRate),
		fmt.Sprintf("maxloginnumber  : %d", u.MaxLoginNumber),
		fmt.Sprintf("maxloginperip   : %d", u.MaxLoginPerIP),
		"ips             : " + strings.Join(ips, ","),
	}
}
