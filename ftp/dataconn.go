package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrNoDataConnection = errors.New("no data connection configured")

// DataConnector opens the sockets of data connections.
type DataConnector interface {
	// OpenPassive listens on a port the client will connect to
	OpenPassive(ctx context.Context) (net.Listener, error)
	// OpenActive connects to the address the client sent with PORT or EPRT
	OpenActive(ctx context.Context, addr *net.TCPAddr) (net.Conn, error)
}

var _ DataConnector = &TCPDataConnector{}

// TCPDataConnector listens on a passive port range and dials active connections.
type TCPDataConnector struct {
	// PasvMinPort and PasvMaxPort bound the passive ports, 0 lets the system pick
	PasvMinPort int
	PasvMaxPort int
	// ListenIP is the address passive listeners bind to, all interfaces when empty
	ListenIP string
	// DialTimeout bounds active connections, 30 seconds when zero
	DialTimeout time.Duration

	mu   sync.Mutex
	next int
}

// OpenPassive listens on the next free port of the range, scanning round robin
// so consecutive sessions do not race for the same port.
func (c *TCPDataConnector) OpenPassive(ctx context.Context) (net.Listener, error) {
	if c.PasvMinPort <= 0 || c.PasvMaxPort < c.PasvMinPort {
		var lc net.ListenConfig
		return lc.Listen(ctx, "tcp", net.JoinHostPort(c.ListenIP, "0"))
	}

	c.mu.Lock()
	if c.next < c.PasvMinPort || c.next > c.PasvMaxPort {
		c.next = c.PasvMinPort
	}
	start := c.next
	c.mu.Unlock()

	listener, port, err := findAvailablePortInRange(ctx, c.ListenIP, start, c.PasvMaxPort)
	if err != nil && start > c.PasvMinPort {
		listener, port, err = findAvailablePortInRange(ctx, c.ListenIP, c.PasvMinPort, start-1)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.next = port + 1
	c.mu.Unlock()
	return listener, nil
}

// OpenActive dials addr.
func (c *TCPDataConnector) OpenActive(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("error connecting to data port: %w", err)
	}
	return conn, nil
}

// findAvailablePortInRange finds an available port in the given range.
// It returns a listener on the available port and the port number.
func findAvailablePortInRange(ctx context.Context, ip string, start, end int) (net.Listener, int, error) {
	var lc net.ListenConfig
	for port := start; port <= end; port++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available ports found in range %d-%d", start, end)
}

// parsePortArg parses the PORT argument "h1,h2,h3,h4,p1,p2".
func parsePortArg(arg string) (*net.TCPAddr, error) {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid PORT argument %q", arg)
	}
	var b [6]byte
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid PORT argument %q", arg)
		}
		b[i] = byte(n)
	}
	port := int(b[4])<<8 | int(b[5])
	if port == 0 {
		return nil, fmt.Errorf("invalid PORT argument %q", arg)
	}
	return &net.TCPAddr{IP: net.IPv4(b[0], b[1], b[2], b[3]), Port: port}, nil
}

// parseEprtArg parses the EPRT argument "<d><proto><d><addr><d><port><d>", RFC 2428.
func parseEprtArg(arg string) (*net.TCPAddr, error) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 {
		return nil, fmt.Errorf("invalid EPRT argument %q", arg)
	}
	parts := strings.Split(arg, arg[:1])
	if len(parts) != 5 || parts[0] != "" || parts[4] != "" {
		return nil, fmt.Errorf("invalid EPRT argument %q", arg)
	}

	ip := net.ParseIP(parts[2])
	switch {
	case ip == nil:
		return nil, fmt.Errorf("invalid EPRT address %q", parts[2])
	case parts[1] == "1" && ip.To4() == nil, parts[1] == "2" && ip.To4() != nil:
		return nil, fmt.Errorf("EPRT address %q does not match protocol %s", parts[2], parts[1])
	case parts[1] != "1" && parts[1] != "2":
		return nil, fmt.Errorf("unsupported EPRT protocol %q", parts[1])
	}

	port, err := strconv.Atoi(parts[3])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid EPRT port %q", parts[3])
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// pasvReplyText formats the 227 reply for ip and port.
func pasvReplyText(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("passive address %s is not IPv4", ip)
	}
	return fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		ip4[0], ip4[1], ip4[2], ip4[3], port/256, port%256), nil
}

// listenerPort returns the TCP port of l.
func listenerPort(l net.Listener) (int, error) {
	_, portString, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, fmt.Errorf("server error getting port: %w", err)
	}
	return strconv.Atoi(portString)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// acceptData waits for the client on a passive listener, the listener is closed afterwards.
func acceptData(ctx context.Context, l net.Listener, timeout time.Duration) (net.Conn, error) {
	defer l.Close()
	if d, ok := l.(deadliner); ok && timeout > 0 {
		d.SetDeadline(time.Now().Add(timeout))
	}

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("error accepting data connection: %w", err)
	}
	return conn, nil
}

// openData establishes the data connection configured in d.
func (sc *ServerContext) openData(ctx context.Context, d DataConnection) (net.Conn, error) {
	switch d.Mode {
	case DataPassive:
		return acceptData(ctx, d.Listener, sc.DataTimeout)
	case DataActive:
		return sc.DataConnector.OpenActive(ctx, d.Target)
	}
	return nil, ErrNoDataConnection
}
