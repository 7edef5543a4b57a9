package users

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed is the only error a failed login reports.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUserNotFound is returned by Get and Delete for unknown logins.
	ErrUserNotFound = errors.New("user not found")
)

// DefaultAdminName is used when no admin name is configured.
const DefaultAdminName = "admin"

// Credential is what a client presents to log in.
type Credential interface {
	Login() string
	RemoteIP() string
}

// UsernamePasswordCredential is a login and clear text password.
type UsernamePasswordCredential struct {
	Username   string
	Password   string
	RemoteAddr string
}

func (c UsernamePasswordCredential) Login() string    { return c.Username }
func (c UsernamePasswordCredential) RemoteIP() string { return c.RemoteAddr }

// AnonymousCredential logs in as AnonymousLogin, the password is not checked.
type AnonymousCredential struct {
	RemoteAddr string
}

func (c AnonymousCredential) Login() string    { return AnonymousLogin }
func (c AnonymousCredential) RemoteIP() string { return c.RemoteAddr }

// Manager is the user store contract shared by every backend.
type Manager interface {
	// Authenticate returns the user or ErrAuthenticationFailed
	Authenticate(ctx context.Context, cred Credential) (*User, error)
	// Get returns a copy of the user or ErrUserNotFound
	Get(ctx context.Context, login string) (*User, error)
	DoesExist(ctx context.Context, login string) (bool, error)
	// Save creates or replaces the user, an empty Password keeps the stored one
	Save(ctx context.Context, u *User) error
	Delete(ctx context.Context, login string) error
	ListLogins(ctx context.Context) ([]string, error)

	AdminName() string
	IsAdmin(login string) bool
	PasswordEncryptor() PasswordEncryptor
}

// BaseManager carries the admin name and the encryptor.
// Backends embed it and only provide the storage.
type BaseManager struct {
	adminName string
	encryptor PasswordEncryptor
}

// NewBaseManager returns a BaseManager, empty values fall back to
// DefaultAdminName and MD5PasswordEncryptor.
func NewBaseManager(adminName string, encryptor PasswordEncryptor) BaseManager {
	if adminName == "" {
		adminName = DefaultAdminName
	}
	if encryptor == nil {
		encryptor = MD5PasswordEncryptor{}
	}
	return BaseManager{adminName: adminName, encryptor: encryptor}
}

// AdminName returns the login of the administrator.
func (b *BaseManager) AdminName() string {
	if b.adminName == "" {
		return DefaultAdminName
	}
	return b.adminName
}

// IsAdmin reports whether login is the administrator.
func (b *BaseManager) IsAdmin(login string) bool {
	return login == b.AdminName()
}

// PasswordEncryptor returns the encryptor used for stored passwords.
func (b *BaseManager) PasswordEncryptor() PasswordEncryptor {
	if b.encryptor == nil {
		return MD5PasswordEncryptor{}
	}
	return b.encryptor
}

// SetPassword encrypts plain and stores it in u.
func (b *BaseManager) SetPassword(u *User, plain string) error {
	encrypted, err := b.PasswordEncryptor().Encrypt(plain)
	if err != nil {
		return fmt.Errorf("error encrypting password: %w", err)
	}
	u.Password = encrypted
	return nil
}

// Verify runs the authentication checks against the user returned by lookup.
// Every failure reason is reported as ErrAuthenticationFailed, lookup errors other
// than ErrUserNotFound are wrapped alongside it.
func (b *BaseManager) Verify(ctx context.Context, cred Credential, lookup func(context.Context, string) (*User, error)) (*User, error) {
	if cred == nil || cred.Login() == "" {
		return nil, ErrAuthenticationFailed
	}

	u, err := lookup(ctx, cred.Login())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if !u.Enabled {
		return nil, ErrAuthenticationFailed
	}

	switch c := cred.(type) {
	case UsernamePasswordCredential:
		if !b.PasswordEncryptor().Matches(c.Password, u.Password) {
			return nil, ErrAuthenticationFailed
		}
	case *UsernamePasswordCredential:
		if !b.PasswordEncryptor().Matches(c.Password, u.Password) {
			return nil, ErrAuthenticationFailed
		}
	case AnonymousCredential, *AnonymousCredential:
	default:
		return nil, ErrAuthenticationFailed
	}

	if !u.AllowsIP(cred.RemoteIP()) {
		return nil, ErrAuthenticationFailed
	}
	return u, nil
}
