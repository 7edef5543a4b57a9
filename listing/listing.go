// Package listing renders file entries in the wire formats used by LIST, NLST, MLSD and MLST.
package listing

import (
	"fmt"
	"strings"
	"time"

	"github.com/telebroad/ftpserver/filesystem"
)

// Newline terminates every formatted entry.
const Newline = "\r\n"

// Formatter renders one entry as a single line ending with Newline.
type Formatter interface {
	Format(entry filesystem.FileEntry) string
}

// FormatAll renders entries in order.
func FormatAll(f Formatter, entries []filesystem.FileEntry) string {
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(f.Format(entry))
	}
	return sb.String()
}

// NameFormatter renders the bare entry name, as used by NLST.
type NameFormatter struct{}

func (NameFormatter) Format(entry filesystem.FileEntry) string {
	return entry.Name() + Newline
}

// ListFormatter renders an ls -l style line, as used by LIST and STAT.
type ListFormatter struct {
	// Now is used to pick between the time and the year column, time.Now when nil.
	Now func() time.Time
}

func (f ListFormatter) Format(entry filesystem.FileEntry) string {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}

	owner, group := entry.Owner, entry.Group
	if owner == "" {
		owner = "user"
	}
	if group == "" {
		group = "group"
	}

	return fmt.Sprintf("%s   1 %-8s %-8s %12d %s %s%s",
		permissionString(entry), owner, group, entry.Size(),
		lsTime(entry.ModTime(), now), entry.Name(), Newline)
}

func permissionString(entry filesystem.FileEntry) string {
	perm := []byte("----------")
	if entry.IsDir() {
		perm[0] = 'd'
	}
	if entry.Readable {
		perm[1], perm[4], perm[7] = 'r', 'r', 'r'
	}
	if entry.Writable {
		perm[2] = 'w'
	}
	if entry.IsDir() {
		perm[3], perm[6], perm[9] = 'x', 'x', 'x'
	}
	return string(perm)
}

// lsTime prints the time for recent entries and the year for entries older than six months.
func lsTime(t, now time.Time) string {
	if now.Sub(t) > 180*24*time.Hour || t.After(now.Add(24*time.Hour)) {
		return t.Format("Jan _2  2006")
	}
	return t.Format("Jan _2 15:04")
}
