package ftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebroad/ftpserver/messages"
	"github.com/telebroad/ftpserver/users"
)

func newTranslateContext(t *testing.T) *ServerContext {
	t.Helper()
	bundles := fstest.MapFS{
		"en.toml": {Data: []byte(`
"200" = "Command okay."
"250.CWD" = "{client.login.name} is in {client.dir}"
"257.MKD" = "\"{output.msg}\" created."
"221" = "Bye {client.ip} from {server.ip}:{server.port}"
"213.ECHO" = "{request.cmd}|{request.arg}|{output.code}"
`)},
		"de.toml": {Data: []byte(`"200" = "Befehl in Ordnung."`)},
	}
	msgs, err := messages.NewFromFS(bundles, "en")
	require.NoError(t, err)
	sc := &ServerContext{Messages: msgs}
	sc.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return sc
}

func TestTranslate(t *testing.T) {
	sc := newTranslateContext(t)
	s := NewSession("s",
		&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 5000},
		&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 2121},
		io.Discard)
	s.login(&users.User{Login: "bob"}, nil)
	s.setWorkingDir("/docs")

	req := func(line string) *Request {
		r, err := ParseRequest(line)
		require.NoError(t, err)
		return r
	}

	assert.Equal(t, "Command okay.", sc.Translate(s, req("NOOP"), 200, "", "basic"))
	assert.Equal(t, "bob is in /docs", sc.Translate(s, req("CWD docs"), 250, "CWD", "basic"))
	assert.Equal(t, `"/a" created.`, sc.Translate(s, req("MKD a"), 257, "MKD", "/a"))
	assert.Equal(t, "Bye 10.1.2.3 from 10.0.0.1:2121", sc.Translate(s, req("QUIT"), 221, "", "basic"))
	assert.Equal(t, "ECHO|x y|213", sc.Translate(s, req("ECHO x y"), 213, "ECHO", "basic"))
	assert.Equal(t, "fallback", sc.Translate(s, req("NOOP"), 299, "", "fallback"))

	s.language = "de"
	assert.Equal(t, "Befehl in Ordnung.", sc.Translate(s, req("NOOP"), 200, "", "basic"))
	assert.Equal(t, "bob is in /docs", sc.Translate(s, req("CWD docs"), 250, "CWD", "basic"))
}

func TestFSError(t *testing.T) {
	sc := newTranslateContext(t)
	out := &syncBuffer{}
	s := NewSession("s", nil, nil, out)
	r, err := ParseRequest("RETR x")
	require.NoError(t, err)

	tests := []struct {
		err  error
		want string
	}{
		{fs.ErrNotExist, "550 No such file or directory.\r\n"},
		{fmt.Errorf("error opening file: %w", fs.ErrPermission), "550 Permission denied.\r\n"},
		{fs.ErrExist, "550 File exists.\r\n"},
		{fs.ErrInvalid, "550 Not a directory.\r\n"},
		{errors.New("/srv/ftp/secret: disk on fire"), "451 Requested action aborted: local error in processing.\r\n"},
	}
	for _, tt := range tests {
		require.NoError(t, sc.fsError(s, r, RETR, tt.err))
		assert.Equal(t, tt.want, out.take())
	}
}

func TestSetDefaults(t *testing.T) {
	sc := &ServerContext{LoginFailureDelay: -1}
	require.NoError(t, sc.setDefaults())

	assert.NotNil(t, sc.Messages)
	assert.NotNil(t, sc.Sessions)
	assert.IsType(t, &TCPDataConnector{}, sc.DataConnector)
	assert.Equal(t, DefaultIdleTimeout, sc.IdleTimeout)
	assert.Equal(t, DefaultDataTimeout, sc.DataTimeout)
	assert.Equal(t, DefaultMaxLoginFailures, sc.MaxLoginFailures)
	assert.Zero(t, sc.LoginFailureDelay)
	assert.Equal(t, "ftp", sc.Protocol)
}

func TestQuotePath(t *testing.T) {
	assert.Equal(t, `/a ""b""`, quotePath(`/a "b"`))
	assert.Equal(t, "/a", quotePath("/a/"))
}
