package listing

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/telebroad/ftpserver/filesystem"
)

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi fileInfo) Sys() any           { return nil }

var modTime = time.Date(2005, 12, 31, 23, 59, 58, 0, time.FixedZone("X", 3600))

func entry(name string, size int64, mode fs.FileMode, readable, writable bool) filesystem.FileEntry {
	return filesystem.FileEntry{
		FileInfo: fileInfo{name: name, size: size, mode: mode, modTime: modTime},
		Readable: readable,
		Writable: writable,
	}
}

func TestFactFormatter(t *testing.T) {
	file := entry("short", 13, 0o644, true, false)
	dir := entry("dir", 0, fs.ModeDir|0o755, true, true)
	device := entry("dev", 0, fs.ModeDevice|0o600, false, false)

	tests := []struct {
		name  string
		facts []string
		entry filesystem.FileEntry
		want  string
	}{
		{"default facts file", nil, file, "Size=13;Modify=20051231225958;Type=file; short\r\n"},
		{"default facts dir", nil, dir, "Size=0;Modify=20051231225958;Type=dir; dir\r\n"},
		{"no facts", []string{}, file, " short\r\n"},
		{"case insensitive keys", []string{"size", "TYPE"}, file, "Size=13;Type=file; short\r\n"},
		{"order preserved", []string{"Type", "Size"}, file, "Type=file;Size=13; short\r\n"},
		{"duplicates kept", []string{"Size", "Size"}, file, "Size=13;Size=13; short\r\n"},
		{"perm readable file", []string{"Perm"}, file, "Perm=r; short\r\n"},
		{"perm writable file", []string{"Perm"}, entry("w", 1, 0o644, true, true), "Perm=radfw; w\r\n"},
		{"perm dir", []string{"Perm"}, dir, "Perm=elfpcm; dir\r\n"},
		{"perm none", []string{"Perm"}, entry("n", 1, 0o000, false, false), "Perm=; n\r\n"},
		{"type omitted for other", []string{"Type", "Size"}, device, "Size=0; dev\r\n"},
		{"unknown fact prints perm", []string{"unique"}, file, "Perm=r; short\r\n"},
		{"all facts", []string{"Size", "Modify", "Type", "Perm"}, file,
			"Size=13;Modify=20051231225958;Type=file;Perm=r; short\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewFactFormatter(tt.facts).Format(tt.entry))
		})
	}
}

func TestListFormatter(t *testing.T) {
	now := modTime.Add(24 * time.Hour)
	f := ListFormatter{Now: func() time.Time { return now }}

	line := f.Format(entry("short", 13, 0o644, true, true))
	assert.Equal(t, "-rw-r--r--   1 user     group              13 "+modTime.Format("Jan _2 15:04")+" short\r\n", line)

	old := ListFormatter{Now: func() time.Time { return modTime.AddDate(1, 0, 0) }}
	line = old.Format(entry("dir", 0, fs.ModeDir|0o755, true, false))
	assert.Equal(t, "dr-xr-xr-x   1 user     group               0 Dec 31  2005 dir\r\n", line)
}

func TestNameFormatterAndFormatAll(t *testing.T) {
	entries := []filesystem.FileEntry{
		entry("a", 1, 0o644, true, true),
		entry("b", 2, 0o644, true, true),
	}
	assert.Equal(t, "a\r\nb\r\n", FormatAll(NameFormatter{}, entries))
	assert.Equal(t, "", FormatAll(NameFormatter{}, nil))
}

func TestParseFacts(t *testing.T) {
	assert.Equal(t, []string{"Size", "Modify", "Type"}, ParseFacts("size;modify;type;"))
	assert.Equal(t, []string{"Perm"}, ParseFacts("perm;unique;"))
	assert.Empty(t, ParseFacts(""))
	assert.NotNil(t, ParseFacts("unique;"), "an empty selection is not the default selection")
}

func TestFeatureLine(t *testing.T) {
	assert.Equal(t, "MLST Size*;Modify*;Type*;Perm;", FeatureLine(DefaultFacts))
	assert.Equal(t, "MLST Size;Modify;Type;Perm*;", FeatureLine([]string{"perm"}))
}
