package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/telebroad/ftpserver/filesystem"
)

// Fact names understood by FactFormatter.
const (
	FactSize   = "Size"
	FactModify = "Modify"
	FactType   = "Type"
	FactPerm   = "Perm"
)

// ModifyLayout is the RFC 3659 time-val layout, always in UTC.
const ModifyLayout = "20060102150405"

// AvailableFacts is every fact the server can produce, in FEAT order.
var AvailableFacts = []string{FactSize, FactModify, FactType, FactPerm}

// DefaultFacts is the fact selection of a new session.
var DefaultFacts = []string{FactSize, FactModify, FactType}

// FactFormatter renders MLSD/MLST lines with the selected facts in their configured order.
type FactFormatter struct {
	facts []string
}

// NewFactFormatter returns a formatter for facts, DefaultFacts when nil.
// An empty non nil selection prints names only, RFC 3659 section 7.9.
func NewFactFormatter(facts []string) *FactFormatter {
	if facts == nil {
		facts = DefaultFacts
	}
	return &FactFormatter{facts: append([]string{}, facts...)}
}

// Facts returns the selected facts.
func (f *FactFormatter) Facts() []string {
	return append([]string{}, f.facts...)
}

func (f *FactFormatter) Format(entry filesystem.FileEntry) string {
	var sb strings.Builder
	for _, fact := range f.facts {
		switch strings.ToUpper(fact) {
		case "SIZE":
			sb.WriteString("Size=")
			sb.WriteString(strconv.FormatInt(entry.Size(), 10))
			sb.WriteByte(';')
		case "MODIFY":
			sb.WriteString("Modify=")
			sb.WriteString(entry.ModTime().UTC().Format(ModifyLayout))
			sb.WriteByte(';')
		case "TYPE":
			switch {
			case entry.IsFile():
				sb.WriteString("Type=file;")
			case entry.IsDir():
				sb.WriteString("Type=dir;")
			}
		default:
			sb.WriteString("Perm=")
			if entry.Readable {
				if entry.IsFile() {
					sb.WriteString("r")
				} else if entry.IsDir() {
					sb.WriteString("el")
				}
			}
			if entry.Writable {
				if entry.IsFile() {
					sb.WriteString("adfw")
				} else if entry.IsDir() {
					sb.WriteString("fpcm")
				}
			}
			sb.WriteByte(';')
		}
	}
	sb.WriteByte(' ')
	sb.WriteString(entry.Name())
	sb.WriteString(Newline)
	return sb.String()
}

// ParseFacts parses an OPTS MLST argument such as "size;modify;type;".
// Unknown facts are ignored, the canonical spelling of each known fact is returned.
func ParseFacts(arg string) []string {
	facts := make([]string, 0, len(AvailableFacts))
	for _, name := range strings.Split(arg, ";") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, available := range AvailableFacts {
			if strings.EqualFold(name, available) {
				facts = append(facts, available)
				break
			}
		}
	}
	return facts
}

// FeatureLine returns the FEAT line for MLST, selected facts are marked with "*".
func FeatureLine(selected []string) string {
	var sb strings.Builder
	sb.WriteString("MLST ")
	for _, fact := range AvailableFacts {
		sb.WriteString(fact)
		for _, s := range selected {
			if strings.EqualFold(s, fact) {
				sb.WriteByte('*')
				break
			}
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// String makes FactFormatter printable in logs.
func (f *FactFormatter) String() string {
	return fmt.Sprintf("FactFormatter%v", f.facts)
}
