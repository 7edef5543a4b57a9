package users

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

var _ Manager = &FileManager{}

// FileManager keeps the users in a TOML file:
//
//	[users.alice]
//	password = "5f4dcc3b5aa765d61d8327deb882cf99"
//	home = "/srv/ftp/alice"
//	enabled = true
//	write = true
//	ips = ["10.0.0.0/8"]
//
// Every change is written back to the file.
type FileManager struct {
	*LocalUsers
	path string
	// flushMu orders the writes of the file, the last snapshot taken is the last one renamed
	flushMu sync.Mutex
}

type userFile struct {
	Users map[string]*User `toml:"users"`
}

// NewFileManager loads path, a missing file starts an empty store.
func NewFileManager(path, adminName string, encryptor PasswordEncryptor) (*FileManager, error) {
	m := &FileManager{
		LocalUsers: NewLocalUsers(adminName, encryptor),
		path:       path,
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load replaces the in memory users with the content of the file.
func (m *FileManager) Load() error {
	var file userFile
	_, err := toml.DecodeFile(m.path, &file)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading user file %s: %w", m.path, err)
	}

	loaded := make(map[string]*User, len(file.Users))
	for login, u := range file.Users {
		if u == nil {
			continue
		}
		u.Login = login
		loaded[login] = u
	}

	m.wg.Lock()
	m.users = loaded
	m.wg.Unlock()
	return nil
}

func (m *FileManager) Save(ctx context.Context, u *User) error {
	if err := m.LocalUsers.Save(ctx, u); err != nil {
		return err
	}
	return m.flush()
}

func (m *FileManager) Delete(ctx context.Context, login string) error {
	if err := m.LocalUsers.Delete(ctx, login); err != nil {
		return err
	}
	return m.flush()
}

// Add creates a user like LocalUsers.Add and writes the file.
func (m *FileManager) Add(login, password, homeDir string) (*User, error) {
	u, err := m.LocalUsers.Add(login, password, homeDir)
	if err != nil {
		return nil, err
	}
	return u, m.flush()
}

// flush writes the users to a temporary file and renames it over the user file
func (m *FileManager) flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.wg.RLock()
	file := userFile{Users: make(map[string]*User, len(m.users))}
	for login, u := range m.users {
		file.Users[login] = u.Clone()
	}
	m.wg.RUnlock()

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".users-*.toml")
	if err != nil {
		return fmt.Errorf("error saving user file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err = toml.NewEncoder(tmp).Encode(file); err != nil {
		tmp.Close()
		return fmt.Errorf("error encoding user file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error saving user file: %w", err)
	}
	if err = os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("error saving user file: %w", err)
	}
	return nil
}
