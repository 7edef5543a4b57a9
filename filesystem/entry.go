package filesystem

import (
	"io/fs"
)

// FileEntry is a listed file or directory as the logged in user sees it.
// It is an fs.FileInfo so it can be handed to the SFTP lister as is.
type FileEntry struct {
	fs.FileInfo
	Readable bool
	Writable bool
	Owner    string
	Group    string
}

// NewFileEntry builds an entry from a local file info.
// writable is the write permission of the user, it is combined with the owner write bit.
func NewFileEntry(info fs.FileInfo, writable bool) FileEntry {
	perm := info.Mode().Perm()
	return FileEntry{
		FileInfo: info,
		Readable: perm&0o400 != 0,
		Writable: writable && perm&0o200 != 0,
		Owner:    "user",
		Group:    "group",
	}
}

// IsFile reports whether the entry is a regular file.
// An entry can be neither a file nor a directory (devices, sockets, links).
func (e FileEntry) IsFile() bool {
	return e.FileInfo != nil && e.Mode().IsRegular()
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return e.FileInfo != nil && e.FileInfo.IsDir()
}
