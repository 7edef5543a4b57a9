package sftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/telebroad/ftpserver/filesystem"
)

// fileSys serves the sftp requests of one logged in user.
type fileSys struct {
	fs     filesystem.FSWithFile
	logger *slog.Logger
}

// NewFileSys returns the request server handlers for fsys.
func NewFileSys(fsys filesystem.FSWithFile, logger *slog.Logger) sftp.Handlers {
	v := &fileSys{fs: fsys, logger: logger}
	return sftp.Handlers{
		FileGet:  v,
		FilePut:  v,
		FileCmd:  v,
		FileList: v,
	}
}

func (s *fileSys) logRequest(request *sftp.Request) {
	s.logger.Debug(request.Method, "path", request.Filepath, "target", request.Target, "flags", request.Flags)
}

func (s *fileSys) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	s.logRequest(request)
	file, err := s.fs.File(request.Filepath, os.O_RDONLY)
	if err != nil {
		s.logger.Debug("error opening file", "path", request.Filepath, "error", err)
		return nil, err
	}
	return file, nil
}

func (s *fileSys) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	s.logRequest(request)

	// WriteAt is rejected on files opened with O_APPEND, the client sends the offsets
	flag := os.O_WRONLY
	pflags := request.Pflags()
	if pflags.Creat {
		flag |= os.O_CREATE
	}
	if pflags.Trunc {
		flag |= os.O_TRUNC
	}
	if pflags.Excl {
		flag |= os.O_EXCL
	}
	if pflags.Read {
		flag = flag&^os.O_WRONLY | os.O_RDWR
	}

	file, err := s.fs.File(request.Filepath, flag)
	if err != nil {
		s.logger.Debug("error opening file", "path", request.Filepath, "error", err)
		return nil, err
	}
	return file, nil
}

func (s *fileSys) Filecmd(request *sftp.Request) error {
	s.logRequest(request)

	switch request.Method {
	case MethodSetstat:
		return s.setstat(request)

	case MethodRename:
		// SFTP-v2: "It is an error if there already exists a file with the name specified by newpath."
		if _, err := s.fs.Stat(request.Target); err == nil {
			return fs.ErrExist
		}
		return s.fs.Rename(request.Filepath, request.Target)

	case MethodRmdir:
		return s.fs.RemoveDir(request.Filepath)

	case MethodRemove:
		// unlink semantics, directories go through Rmdir
		return s.fs.Remove(request.Filepath)

	case MethodMkdir:
		return s.fs.MakeDir(request.Filepath)

	case MethodLink:
		return s.fs.Link(request.Filepath, request.Target)

	case MethodSymlink:
		// NOTE: r.Filepath is the target, and r.Target is the linkpath.
		return s.fs.Symlink(request.Filepath, request.Target)
	}

	return sftp.ErrSSHFxOpUnsupported
}

// PosixRename replaces an existing target, posix-rename@openssh.com.
func (s *fileSys) PosixRename(request *sftp.Request) error {
	s.logRequest(request)
	return s.fs.Rename(request.Filepath, request.Target)
}

func (s *fileSys) StatVFS(request *sftp.Request) (*sftp.StatVFS, error) {
	s.logRequest(request)
	return s.fs.StatFS(request.Filepath)
}

func (s *fileSys) setstat(request *sftp.Request) error {
	flags := request.AttrFlags()
	attrs := request.Attributes()

	var err error
	if flags.Permissions {
		err = errors.Join(err, s.fs.SetStat(request.Filepath, attrs.FileMode()))
	}
	if flags.Acmodtime {
		err = errors.Join(err, s.fs.ModifyTime(request.Filepath, time.Unix(int64(attrs.Mtime), 0)))
	}
	return err
}

type ListerAt []os.FileInfo

// ListAt Modeled after strings.Reader's ReadAt() implementation
func (f ListerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(f)) {
		return 0, io.EOF
	}
	n := copy(ls, f[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func (s *fileSys) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	s.logRequest(request)

	switch request.Method {
	case MethodList:
		entries, err := s.fs.Dir(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("fileList error: %w", err)
		}
		list := make(ListerAt, len(entries))
		for i, entry := range entries {
			list[i] = entry
		}
		return list, nil

	case MethodStat:
		entry, err := s.fs.Stat(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("fileStat error: %w", err)
		}
		return ListerAt{entry}, nil

	case MethodLstat:
		entry, err := s.fs.Lstat(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("lstat error: %w", err)
		}
		return ListerAt{entry}, nil
	}

	return nil, sftp.ErrSSHFxOpUnsupported
}
