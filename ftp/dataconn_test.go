package ftp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortArg(t *testing.T) {
	addr, err := parsePortArg("127,0,0,1,4,1")
	require.NoError(t, err)
	assert.True(t, addr.IP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Equal(t, 1025, addr.Port)

	for _, arg := range []string{"", "1,2,3,4,5", "256,0,0,1,4,1", "a,b,c,d,e,f", "127,0,0,1,0,0"} {
		_, err = parsePortArg(arg)
		assert.Error(t, err, arg)
	}
}

func TestParseEprtArg(t *testing.T) {
	tests := []struct {
		arg  string
		ip   string
		port int
		ok   bool
	}{
		{"|1|132.235.1.2|6275|", "132.235.1.2", 6275, true},
		{"|2|1080::8:800:200C:417A|5282|", "1080::8:800:200c:417a", 5282, true},
		{"!1!10.0.0.1!21!", "10.0.0.1", 21, true},
		{"|1|::1|5282|", "", 0, false},
		{"|3|10.0.0.1|21|", "", 0, false},
		{"|1|10.0.0.1|0|", "", 0, false},
		{"|1|10.0.0.1|21", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			addr, err := parseEprtArg(tt.arg)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ip, addr.IP.String())
			assert.Equal(t, tt.port, addr.Port)
		})
	}
}

func TestPasvReplyText(t *testing.T) {
	text, err := pasvReplyText(net.ParseIP("192.168.1.2"), 50001)
	require.NoError(t, err)
	assert.Equal(t, "Entering Passive Mode (192,168,1,2,195,81)", text)

	_, err = pasvReplyText(net.ParseIP("::1"), 21)
	assert.Error(t, err)
}

func TestTCPDataConnector_OpenPassiveRange(t *testing.T) {
	// find a free port for the range
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	c := &TCPDataConnector{PasvMinPort: port, PasvMaxPort: port, ListenIP: "127.0.0.1"}
	l, err := c.OpenPassive(context.Background())
	require.NoError(t, err)
	got, err := listenerPort(l)
	require.NoError(t, err)
	assert.Equal(t, port, got)

	// the only port of the range is taken
	_, err = c.OpenPassive(context.Background())
	assert.Error(t, err)
	l.Close()
}

func TestAcceptData(t *testing.T) {
	c := &TCPDataConnector{ListenIP: "127.0.0.1"}

	t.Run("accept", func(t *testing.T) {
		l, err := c.OpenPassive(context.Background())
		require.NoError(t, err)
		go func() {
			conn, err := net.Dial("tcp", l.Addr().String())
			if err == nil {
				conn.Close()
			}
		}()
		conn, err := acceptData(context.Background(), l, time.Second)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("timeout", func(t *testing.T) {
		l, err := c.OpenPassive(context.Background())
		require.NoError(t, err)
		_, err = acceptData(context.Background(), l, 50*time.Millisecond)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		l, err := c.OpenPassive(context.Background())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err = acceptData(ctx, l, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTCPDataConnector_OpenActive(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	c := &TCPDataConnector{DialTimeout: time.Second}
	conn, err := c.OpenActive(context.Background(), l.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	conn.Close()
}
