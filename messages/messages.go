// Package messages holds the localized reply texts.
//
// Each language is a TOML bundle of flat keys, "<code>" for the basic text of a reply code
// and "<code>.<SUBID>" for the text used by one command, for example "530.PASS".
package messages

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
)

//go:embed bundles/*.toml
var bundles embed.FS

// DefaultLanguage is the language used when a session did not negotiate one.
const DefaultLanguage = "en"

var ErrUnknownLanguage = errors.New("unknown language")

// Resource maps (code, sub id, language) to a template. It is read only after
// creation and safe for concurrent use.
type Resource struct {
	messages map[language.Tag]map[string]string
	tags     []language.Tag
	def      language.Tag
	matcher  language.Matcher
}

// New loads the bundles shipped with the server.
func New() (*Resource, error) {
	sub, err := fs.Sub(bundles, "bundles")
	if err != nil {
		return nil, err
	}
	return NewFromFS(sub, DefaultLanguage)
}

// NewFromFS loads every "<lang>.toml" file at the root of fsys.
// The default language must be one of them.
func NewFromFS(fsys fs.FS, defaultLang string) (*Resource, error) {
	def, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, defaultLang)
	}

	files, err := fs.Glob(fsys, "*.toml")
	if err != nil {
		return nil, fmt.Errorf("error listing message bundles: %w", err)
	}

	r := &Resource{messages: make(map[language.Tag]map[string]string), def: def}
	for _, name := range files {
		tag, err := language.Parse(strings.TrimSuffix(path.Base(name), ".toml"))
		if err != nil {
			return nil, fmt.Errorf("error loading message bundle %s: %w", name, err)
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("error loading message bundle %s: %w", name, err)
		}
		bundle := map[string]string{}
		if err = toml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("error decoding message bundle %s: %w", name, err)
		}
		r.messages[tag] = bundle
	}

	if _, ok := r.messages[def]; !ok {
		return nil, fmt.Errorf("%w: no bundle for default language %s", ErrUnknownLanguage, defaultLang)
	}

	// the default language goes first so it wins when nothing matches
	r.tags = append(r.tags, def)
	for tag := range r.messages {
		if tag != def {
			r.tags = append(r.tags, tag)
		}
	}
	sort.Slice(r.tags[1:], func(i, j int) bool { return r.tags[i+1].String() < r.tags[j+1].String() })
	r.matcher = language.NewMatcher(r.tags)
	return r, nil
}

// Message returns the template for code and subID in lang.
// The lookup tries the negotiated language, then the default language.
// A miss is reported with ok false and is not an error.
func (r *Resource) Message(code int, subID, lang string) (string, bool) {
	if r == nil {
		return "", false
	}
	key := strconv.Itoa(code)
	if subID != "" {
		key += "." + subID
	}

	if tag, ok := r.Match(lang); ok {
		if msg, ok := r.messages[tag][key]; ok {
			return msg, true
		}
	}
	msg, ok := r.messages[r.def][key]
	return msg, ok
}

// Match returns the closest supported language for lang.
func (r *Resource) Match(lang string) (language.Tag, bool) {
	if r == nil || lang == "" {
		return language.Und, false
	}
	want, err := language.Parse(lang)
	if err != nil {
		return language.Und, false
	}
	_, idx, conf := r.matcher.Match(want)
	if conf == language.No {
		return language.Und, false
	}
	return r.tags[idx], true
}

// Supports reports whether lang can be negotiated with LANG, and the tag it resolves to.
func (r *Resource) Supports(lang string) (string, bool) {
	tag, ok := r.Match(lang)
	if !ok {
		return "", false
	}
	return tag.String(), true
}

// Default returns the default language tag.
func (r *Resource) Default() string {
	return r.def.String()
}

// Languages lists the loaded languages, the default first.
func (r *Resource) Languages() []string {
	if r == nil {
		return nil
	}
	langs := make([]string, len(r.tags))
	for i, tag := range r.tags {
		langs[i] = tag.String()
	}
	return langs
}
