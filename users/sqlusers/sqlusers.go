// Package sqlusers is a users.Manager backed by a SQL table.
// The "sqlite" (modernc.org/sqlite) and "pgx" (PostgreSQL) drivers are registered.
package sqlusers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/telebroad/ftpserver/users"
)

const schema = `
CREATE TABLE IF NOT EXISTS ftp_user (
	userid          VARCHAR(64) NOT NULL PRIMARY KEY,
	userpassword    VARCHAR(128),
	homedirectory   VARCHAR(256) NOT NULL,
	enableflag      BOOLEAN NOT NULL DEFAULT TRUE,
	writepermission BOOLEAN NOT NULL DEFAULT FALSE,
	idletime        INTEGER NOT NULL DEFAULT 0,
	uploadrate      INTEGER NOT NULL DEFAULT 0,
	downloadrate    INTEGER NOT NULL DEFAULT 0,
	maxloginnumber  INTEGER NOT NULL DEFAULT 0,
	maxloginperip   INTEGER NOT NULL DEFAULT 0,
	allowedips      TEXT NOT NULL DEFAULT ''
)`

const columns = `userid, userpassword, homedirectory, enableflag, writepermission,
	idletime, uploadrate, downloadrate, maxloginnumber, maxloginperip, allowedips`

var _ users.Manager = &Manager{}

// Manager stores users in the ftp_user table.
type Manager struct {
	users.BaseManager
	db     *sql.DB
	driver string
}

// Open opens dsn with driver ("sqlite" or "pgx") and creates the table when missing.
func Open(ctx context.Context, driver, dsn, adminName string, encryptor users.PasswordEncryptor) (*Manager, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}
	m, err := New(ctx, db, driver, adminName, encryptor)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// New wraps an open database.
func New(ctx context.Context, db *sql.DB, driver, adminName string, encryptor users.PasswordEncryptor) (*Manager, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("user database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create user schema: %w", err)
	}
	return &Manager{
		BaseManager: users.NewBaseManager(adminName, encryptor),
		db:          db,
		driver:      driver,
	}, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) Authenticate(ctx context.Context, cred users.Credential) (*users.User, error) {
	return m.Verify(ctx, cred, m.Get)
}

func (m *Manager) Get(ctx context.Context, login string) (*users.User, error) {
	row := m.db.QueryRowContext(ctx, m.rebind(`SELECT `+columns+` FROM ftp_user WHERE userid = ?`), login)

	var (
		u          users.User
		password   sql.NullString
		allowedIPs string
	)
	err := row.Scan(&u.Login, &password, &u.HomeDir, &u.Enabled, &u.WritePermission,
		&u.MaxIdleTime, &u.MaxUploadRate, &u.MaxDownloadRate, &u.MaxLoginNumber, &u.MaxLoginPerIP, &allowedIPs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", users.ErrUserNotFound, login)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading user %s: %w", login, err)
	}
	u.Password = password.String

	for _, ip := range strings.Split(allowedIPs, ",") {
		if strings.TrimSpace(ip) == "" {
			continue
		}
		if err = u.AddIP(ip); err != nil {
			return nil, fmt.Errorf("error reading user %s: %w", login, err)
		}
	}
	return &u, nil
}

func (m *Manager) DoesExist(ctx context.Context, login string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx, m.rebind(`SELECT COUNT(*) FROM ftp_user WHERE userid = ?`), login).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error checking user %s: %w", login, err)
	}
	return n > 0, nil
}

// Save inserts or updates the user, an empty Password keeps the stored one.
func (m *Manager) Save(ctx context.Context, u *users.User) error {
	if u == nil || u.Login == "" {
		return errors.New("error saving user: empty login")
	}

	passwordUpdate := "userpassword = excluded.userpassword,"
	var password sql.NullString
	if u.Password != "" {
		password = sql.NullString{String: u.Password, Valid: true}
	} else {
		passwordUpdate = ""
	}

	query := `INSERT INTO ftp_user (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (userid) DO UPDATE SET ` + passwordUpdate + `
		homedirectory = excluded.homedirectory,
		enableflag = excluded.enableflag,
		writepermission = excluded.writepermission,
		idletime = excluded.idletime,
		uploadrate = excluded.uploadrate,
		downloadrate = excluded.downloadrate,
		maxloginnumber = excluded.maxloginnumber,
		maxloginperip = excluded.maxloginperip,
		allowedips = excluded.allowedips`

	_, err := m.db.ExecContext(ctx, m.rebind(query),
		u.Login, password, u.HomeDir, u.Enabled, u.WritePermission,
		u.MaxIdleTime, u.MaxUploadRate, u.MaxDownloadRate, u.MaxLoginNumber, u.MaxLoginPerIP,
		prefixesString(u.IPs))
	if err != nil {
		return fmt.Errorf("error saving user %s: %w", u.Login, err)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, login string) error {
	res, err := m.db.ExecContext(ctx, m.rebind(`DELETE FROM ftp_user WHERE userid = ?`), login)
	if err != nil {
		return fmt.Errorf("error deleting user %s: %w", login, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", users.ErrUserNotFound, login)
	}
	return nil
}

func (m *Manager) ListLogins(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT userid FROM ftp_user ORDER BY userid`)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	defer rows.Close()

	var logins []string
	for rows.Next() {
		var login string
		if err = rows.Scan(&login); err != nil {
			return nil, fmt.Errorf("error listing users: %w", err)
		}
		logins = append(logins, login)
	}
	return logins, rows.Err()
}

// rebind turns "?" placeholders into "$n" for PostgreSQL
func (m *Manager) rebind(query string) string {
	if m.driver != "pgx" && m.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func prefixesString(prefixes []netip.Prefix) string {
	s := make([]string, len(prefixes))
	for i, p := range prefixes {
		s[i] = p.String()
	}
	return strings.Join(s, ",")
}
