//go:build !linux && !darwin && !windows

package filesystem

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

// ErrStatFSUnsupported is returned by StatFS where the OS has no statfs.
var ErrStatFSUnsupported = errors.New("statfs unsupported")

func statFS(path string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w on %s", ErrStatFSUnsupported, runtime.GOOS)
}
