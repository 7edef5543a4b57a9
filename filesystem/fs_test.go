package filesystem

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) (*LocalFS, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	return NewLocalFS(dir), dir
}

func TestAbs(t *testing.T) {
	tests := []struct {
		cwd, name, want string
	}{
		{"/", "", "/"},
		{"/a/b", "", "/a/b"},
		{"/a", "b", "/a/b"},
		{"/a", "/c", "/c"},
		{"/a/b", "..", "/a"},
		{"/", "../../etc", "/etc"},
		{"/a", "./b/../c", "/a/c"},
	}
	for _, tt := range tests {
		t.Run(tt.cwd+"+"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Abs(tt.cwd, tt.name))
		})
	}
}

func TestLocalFS_cleanPath(t *testing.T) {
	lfs, dir := newTestFS(t)
	assert.Equal(t, ".", lfs.cleanPath("/"))
	assert.Equal(t, ".", lfs.cleanPath(""))
	assert.Equal(t, "etc/passwd", lfs.cleanPath("/../../etc/passwd"))
	assert.Equal(t, filepath.Join(dir, "a", "b"), lfs.localPath("/a/../a/b"))
}

func TestLocalFS_DirAndStat(t *testing.T) {
	lfs, _ := newTestFS(t)

	entries, err := lfs.Dir("/")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"hello.txt", "sub"}, names)

	entry, err := lfs.Stat("/hello.txt")
	require.NoError(t, err)
	assert.True(t, entry.IsFile())
	assert.False(t, entry.IsDir())
	assert.True(t, entry.Readable)
	assert.True(t, entry.Writable)
	assert.Equal(t, int64(11), entry.Size())

	entry, err = lfs.Stat("sub")
	require.NoError(t, err)
	assert.True(t, entry.IsDir())
	assert.False(t, entry.IsFile())

	_, err = lfs.Stat("/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLocalFS_ReadWrite(t *testing.T) {
	lfs, _ := newTestFS(t)

	var buf bytes.Buffer
	n, err := lfs.ReadFile("/hello.txt", &buf, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "world", buf.String())

	n, err = lfs.WriteFile("/sub/new.txt", strings.NewReader("abc"), 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = lfs.WriteFile("/sub/new.txt", strings.NewReader("def"), 0, true)
	require.NoError(t, err)

	_, err = lfs.WriteFile("/sub/new.txt", strings.NewReader("X"), 1, false)
	require.NoError(t, err)

	buf.Reset()
	_, err = lfs.ReadFile("/sub/new.txt", &buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "aXcdef", buf.String())

	_, err = lfs.ReadFile("/sub", &buf, 0)
	assert.True(t, errors.Is(err, fs.ErrInvalid))
}

func TestLocalFS_DirectoryOperations(t *testing.T) {
	lfs, dir := newTestFS(t)

	require.NoError(t, lfs.MakeDir("/made"))
	assert.NoError(t, lfs.CheckDir("/made"))
	assert.Error(t, lfs.CheckDir("/hello.txt"))
	assert.True(t, errors.Is(lfs.MakeDir("/made"), fs.ErrExist))

	assert.True(t, errors.Is(lfs.Remove("/made"), fs.ErrInvalid))
	assert.True(t, errors.Is(lfs.RemoveDir("/hello.txt"), fs.ErrInvalid))
	assert.True(t, errors.Is(lfs.RemoveDir("/"), fs.ErrPermission))
	require.NoError(t, lfs.RemoveDir("/made"))

	require.NoError(t, lfs.Rename("/hello.txt", "/sub/moved.txt"))
	_, err := os.Stat(filepath.Join(dir, "sub", "moved.txt"))
	require.NoError(t, err)

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, lfs.ModifyTime("/sub/moved.txt", when))
	entry, err := lfs.Stat("/sub/moved.txt")
	require.NoError(t, err)
	assert.True(t, entry.ModTime().Equal(when))

	require.NoError(t, lfs.Remove("/sub/moved.txt"))
	_, err = lfs.Stat("/sub/moved.txt")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLocalFS_ReadOnly(t *testing.T) {
	lfs, _ := newTestFS(t)
	lfs.SetWritable(false)

	entry, err := lfs.Stat("/hello.txt")
	require.NoError(t, err)
	assert.False(t, entry.Writable)

	_, err = lfs.WriteFile("/x", strings.NewReader("x"), 0, false)
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.True(t, errors.Is(lfs.MakeDir("/x"), fs.ErrPermission))
	assert.True(t, errors.Is(lfs.Remove("/hello.txt"), fs.ErrPermission))
	_, err = lfs.File("/hello.txt", os.O_RDWR)
	assert.True(t, errors.Is(err, fs.ErrPermission))

	f, err := lfs.File("/hello.txt", os.O_RDONLY)
	require.NoError(t, err)
	f.Close()
}

func TestLocalFS_StatFS(t *testing.T) {
	lfs, _ := newTestFS(t)
	stat, err := lfs.StatFS("/")
	if err != nil {
		t.Skipf("statfs not available: %v", err)
	}
	assert.NotZero(t, stat.Bsize)
}

func TestNewHomeFS(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name, home, want string
	}{
		{"empty home is root", "", root},
		{"nested home", "/users/bob", filepath.Join(root, "users", "bob")},
		{"home can not escape", "../../tmp/x", filepath.Join(root, "tmp", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hfs, err := NewHomeFS(root, tt.home, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hfs.LocalDir())
			assert.NoError(t, hfs.CheckDir("/"))
			assert.True(t, errors.Is(hfs.MakeDir("/d"), fs.ErrPermission))
		})
	}
}
