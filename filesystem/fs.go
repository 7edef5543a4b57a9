package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
)

// FS is the file system seen by one logged in user.
// All names are virtual slash separated paths, "/" is the user's root.
type FS interface {
	// RootDir returns the Root directory of the file system
	RootDir() string
	// CheckDir checks if the given directory exists
	CheckDir(dir string) error
	// Dir returns the entries of the given directory
	Dir(dir string) ([]FileEntry, error)
	// Stat returns the entry of a single file or directory
	Stat(name string) (FileEntry, error)
	// MakeDir creates a new directory with the given name
	MakeDir(dir string) error
	// RemoveDir removes an empty directory
	RemoveDir(dir string) error
	// ReadFile copies the file starting at offset into w
	ReadFile(name string, w io.Writer, offset int64) (int64, error)
	// WriteFile writes r into the file, truncating it unless appendOnly or offset > 0
	WriteFile(name string, r io.Reader, offset int64, appendOnly bool) (int64, error)
	// Remove removes a file, directories are rejected
	Remove(name string) error
	// Rename renames the file/folder or moves it to a different directory
	Rename(from, to string) error
	// ModifyTime changes the file modification time
	ModifyTime(name string, t time.Time) error
	// StatFS returns the status of the file system holding name
	StatFS(name string) (*sftp.StatVFS, error)
}

// FSWithFile adds the random access operations the SFTP server needs.
type FSWithFile interface {
	FS
	// File opens the file with the os.OpenFile flags
	File(name string, flag int) (*os.File, error)
	// SetStat changes the file permissions
	SetStat(name string, mode fs.FileMode) error
	// Lstat returns the file info without following the link
	Lstat(name string) (FileEntry, error)
	// Link creates a hard link pointing to a file.
	Link(target, name string) error
	// Symlink creates a symbolic link pointing to a file or directory.
	Symlink(target, name string) error
}

var _ FSWithFile = &LocalFS{}

// ErrReadOnly is returned by write operations on a read only LocalFS.
var ErrReadOnly = fmt.Errorf("read only file system: %w", fs.ErrPermission)

// LocalFS serves a local directory as the virtual root.
type LocalFS struct {
	FS          fs.FS
	localDir    string // local directory to serve as the ftp virtualRoot
	virtualRoot string
	writable    bool
}

// NewLocalFS returns a writable LocalFS rooted at localDir.
func NewLocalFS(localDir string) *LocalFS {
	return &LocalFS{
		localDir:    localDir,
		virtualRoot: "/",
		FS:          os.DirFS(localDir),
		writable:    true,
	}
}

// NewHomeFS returns a LocalFS rooted at the home directory home under root.
// home is a virtual path, it is cleaned so it can not leave root, and created when missing.
func NewHomeFS(root, home string, writable bool) (*LocalFS, error) {
	local := filepath.Join(root, filepath.FromSlash(path.Clean("/"+filepath.ToSlash(home))))
	if err := os.MkdirAll(local, 0o755); err != nil {
		return nil, fmt.Errorf("error creating home directory: %w", err)
	}
	return NewLocalFS(local).SetWritable(writable), nil
}

// SetWritable toggles write access, entries report it through FileEntry.Writable.
func (FS *LocalFS) SetWritable(writable bool) *LocalFS {
	FS.writable = writable
	return FS
}

// RootDir returns the Root directory of the file system
func (FS *LocalFS) RootDir() string {
	return FS.virtualRoot
}

// LocalDir returns the local directory backing the virtual root.
func (FS *LocalFS) LocalDir() string {
	return FS.localDir
}

// GetFS returns the fs.FS view of the root
func (FS *LocalFS) GetFS() fs.FS {
	return FS.FS
}

// CheckDir checks if the given directory exists
func (FS *LocalFS) CheckDir(dir string) error {
	info, err := fs.Stat(FS.FS, FS.cleanPath(dir))
	if err != nil {
		return fmt.Errorf("error checking directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("error checking directory %q: %w", dir, fs.ErrInvalid)
	}
	return nil
}

// Dir returns the entries of the given directory
func (FS *LocalFS) Dir(dir string) ([]FileEntry, error) {
	dirName := FS.cleanPath(dir)
	entries, err := fs.ReadDir(FS.FS, dirName)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	list := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("error reading directory entry: %w", err)
		}
		list = append(list, NewFileEntry(info, FS.writable))
	}
	return list, nil
}

// Stat returns the entry of a single file or directory
func (FS *LocalFS) Stat(name string) (FileEntry, error) {
	info, err := fs.Stat(FS.FS, FS.cleanPath(name))
	if err != nil {
		return FileEntry{}, fmt.Errorf("error getting file info: %w", err)
	}
	return NewFileEntry(info, FS.writable), nil
}

// Lstat returns the entry without following the link
func (FS *LocalFS) Lstat(name string) (FileEntry, error) {
	info, err := os.Lstat(FS.localPath(name))
	if err != nil {
		return FileEntry{}, fmt.Errorf("error getting file info: %w", err)
	}
	return NewFileEntry(info, FS.writable), nil
}

// MakeDir creates a new directory with the given name
func (FS *LocalFS) MakeDir(dir string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	err := os.Mkdir(FS.localPath(dir), 0o777)
	if err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}

// RemoveDir removes an empty directory
func (FS *LocalFS) RemoveDir(dir string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	if FS.cleanPath(dir) == "." {
		return fmt.Errorf("error removing root directory: %w", fs.ErrPermission)
	}
	local := FS.localPath(dir)
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("error removing directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("error removing directory %q: %w", dir, fs.ErrInvalid)
	}
	if err = os.Remove(local); err != nil {
		return fmt.Errorf("error removing directory: %w", err)
	}
	return nil
}

// File opens the file with the os.OpenFile flags
func (FS *LocalFS) File(name string, flag int) (*os.File, error) {
	if !FS.writable && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, ErrReadOnly
	}
	file, err := os.OpenFile(FS.localPath(name), flag, 0o666)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	return file, nil
}

// ReadFile copies the file starting at offset into w
func (FS *LocalFS) ReadFile(name string, w io.Writer, offset int64) (int64, error) {
	file, err := os.Open(FS.localPath(name))
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("error opening file %q: %w", name, fs.ErrInvalid)
	}

	if offset > 0 {
		if _, err = file.Seek(offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("error seeking file: %w", err)
		}
	}
	n, err := io.Copy(w, file)
	if err != nil {
		return n, fmt.Errorf("error reading file: %w", err)
	}
	return n, nil
}

// WriteFile writes r into the file, truncating it unless appendOnly or offset > 0
func (FS *LocalFS) WriteFile(name string, r io.Reader, offset int64, appendOnly bool) (int64, error) {
	if !FS.writable {
		return 0, ErrReadOnly
	}

	flag := os.O_WRONLY | os.O_CREATE
	switch {
	case appendOnly:
		flag |= os.O_APPEND
	case offset == 0:
		flag |= os.O_TRUNC
	}

	file, err := os.OpenFile(FS.localPath(name), flag, 0o666)
	if err != nil {
		return 0, fmt.Errorf("creating file error: %w", err)
	}
	defer file.Close()

	if offset > 0 && !appendOnly {
		if _, err = file.Seek(offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("error seeking file: %w", err)
		}
	}

	n, err := io.Copy(file, r)
	if err != nil {
		return n, fmt.Errorf("writing file error: %w", err)
	}
	if err = file.Close(); err != nil {
		return n, fmt.Errorf("closing and saving file error: %w", err)
	}
	return n, nil
}

// Remove removes a file, directories are rejected
func (FS *LocalFS) Remove(name string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	local := FS.localPath(name)
	info, err := os.Lstat(local)
	if err != nil {
		return fmt.Errorf("error removing file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("error removing file %q: %w", name, fs.ErrInvalid)
	}
	if err = os.Remove(local); err != nil {
		return fmt.Errorf("error removing file: %w", err)
	}
	return nil
}

// Rename renames the file or moves it to a different directory
func (FS *LocalFS) Rename(from, to string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	if err := os.Rename(FS.localPath(from), FS.localPath(to)); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}

// ModifyTime changes the file modification time
func (FS *LocalFS) ModifyTime(name string, t time.Time) error {
	if !FS.writable {
		return ErrReadOnly
	}
	if err := os.Chtimes(FS.localPath(name), t, t); err != nil {
		return fmt.Errorf("error changing file modification time: %w", err)
	}
	return nil
}

// SetStat changes the file permissions
func (FS *LocalFS) SetStat(name string, mode fs.FileMode) error {
	if !FS.writable {
		return ErrReadOnly
	}
	if mode == 0 {
		return errors.New("invalid permissions")
	}
	if err := os.Chmod(FS.localPath(name), mode.Perm()); err != nil {
		return fmt.Errorf("error changing file permissions: %w", err)
	}
	return nil
}

// Link creates a hard link name pointing to target.
func (FS *LocalFS) Link(target, name string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	return os.Link(FS.localPath(target), FS.localPath(name))
}

// Symlink creates a symbolic link name pointing to target.
func (FS *LocalFS) Symlink(target, name string) error {
	if !FS.writable {
		return ErrReadOnly
	}
	return os.Symlink(FS.localPath(target), FS.localPath(name))
}

// StatFS returns the status of the file system holding name
func (FS *LocalFS) StatFS(name string) (*sftp.StatVFS, error) {
	return statFS(FS.localPath(name))
}

// cleanPath turns a virtual path into a path relative to the root usable with FS.FS.
// A rooted path is cleaned before it is made relative so ".." can never leave the root.
func (FS *LocalFS) cleanPath(name string) string {
	cleaned := path.Clean("/" + filepath.ToSlash(name))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}

// localPath returns the local OS path of a virtual path
func (FS *LocalFS) localPath(name string) string {
	return filepath.Join(FS.localDir, filepath.FromSlash(FS.cleanPath(name)))
}

// Abs resolves name against the working directory and returns a clean virtual path.
func Abs(workingDir, name string) string {
	if name == "" {
		return path.Clean("/" + workingDir)
	}
	if strings.HasPrefix(name, "/") {
		return path.Clean(name)
	}
	return path.Clean(path.Join("/", workingDir, name))
}
