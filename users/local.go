package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var _ Manager = &LocalUsers{}

// LocalUsers is an in memory Manager.
type LocalUsers struct {
	BaseManager
	users map[string]*User
	wg    sync.RWMutex
}

// NewLocalUsers returns an empty in memory manager.
func NewLocalUsers(adminName string, encryptor PasswordEncryptor) *LocalUsers {
	return &LocalUsers{
		BaseManager: NewBaseManager(adminName, encryptor),
		users:       make(map[string]*User),
	}
}

// Add creates an enabled user with write permission and the given clear text password.
func (u *LocalUsers) Add(login, password, homeDir string) (*User, error) {
	newUser := &User{
		Login:           login,
		HomeDir:         homeDir,
		Enabled:         true,
		WritePermission: true,
	}
	if err := u.SetPassword(newUser, password); err != nil {
		return nil, err
	}
	if err := u.Save(context.Background(), newUser); err != nil {
		return nil, err
	}
	return newUser, nil
}

func (u *LocalUsers) Authenticate(ctx context.Context, cred Credential) (*User, error) {
	return u.Verify(ctx, cred, u.Get)
}

func (u *LocalUsers) Get(_ context.Context, login string) (*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	user, ok := u.users[login]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return user.Clone(), nil
}

func (u *LocalUsers) DoesExist(_ context.Context, login string) (bool, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	_, ok := u.users[login]
	return ok, nil
}

func (u *LocalUsers) Save(_ context.Context, user *User) error {
	if user == nil || user.Login == "" {
		return fmt.Errorf("error saving user: empty login")
	}
	u.wg.Lock()
	defer u.wg.Unlock()
	stored := user.Clone()
	if old, ok := u.users[user.Login]; ok && stored.Password == "" {
		stored.Password = old.Password
	}
	u.users[user.Login] = stored
	return nil
}

func (u *LocalUsers) Delete(_ context.Context, login string) error {
	u.wg.Lock()
	defer u.wg.Unlock()
	if _, ok := u.users[login]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	delete(u.users, login)
	return nil
}

func (u *LocalUsers) ListLogins(context.Context) ([]string, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	logins := make([]string, 0, len(u.users))
	for login := range u.users {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins, nil
}
