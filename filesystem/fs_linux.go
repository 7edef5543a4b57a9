package filesystem

import (
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

// statFS returns the file system status of the file system containing the file
func statFS(path string) (*sftp.StatVFS, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(path, &stat)
	if err != nil {
		return nil, fmt.Errorf("error getting file system info: %w", err)
	}

	return &sftp.StatVFS{
		Bsize:   uint64(stat.Bsize),
		Frsize:  uint64(stat.Frsize),
		Blocks:  stat.Blocks,
		Bfree:   stat.Bfree,
		Bavail:  stat.Bavail,
		Files:   stat.Files,
		Ffree:   stat.Ffree,
		Favail:  stat.Ffree,
		Flag:    uint64(stat.Flags),
		Namemax: uint64(stat.Namelen),
	}, nil
}
