package ipc

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// Conn wraps a single per-turn channel with the length-delimited framing,
// generalizing the teacher's VsockConnection to bidirectional envelope
// exchange rather than a single execute/health RPC. GatewayBridge request
// correlation is kept separately, in internal/bridge.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	maxFrameSize uint32

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an already-established net.Conn.
func NewConn(c net.Conn, maxFrameSize uint32) *Conn {
	return &Conn{
		conn:         c,
		reader:       bufio.NewReader(c),
		writer:       bufio.NewWriter(c),
		maxFrameSize: maxFrameSize,
		closed:       make(chan struct{}),
	}
}

// Send writes one envelope. Safe for concurrent use with Recv and with
// other Send calls: writes are serialized by writeMu.
func (c *Conn) Send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.writer, env)
}

// Recv blocks for the next envelope.
func (c *Conn) Recv() (*Envelope, error) {
	return ReadFrame(c.reader, c.maxFrameSize)
}

// Close closes the underlying connection exactly once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close has run, letting readers unblock selects.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// SessionAddress derives the stable per-session channel address under the
// data root. The core targets the unix-domain-socket OS family; a
// named-pipe variant for the other OS family would use the same address
// scheme against a platform-specific namespace; no such variant is
// implemented here.
func SessionAddress(dataRoot, sessionID string) string {
	return filepath.Join(dataRoot, "ipc", sessionID+".sock")
}

// Listener accepts exactly one client connection per turn; a second
// connection attempt on the same address is rejected, matching
// spec.md §4.4 ("the server accepts exactly one client ... per turn").
type Listener struct {
	ln       net.Listener
	accepted bool
	mu       sync.Mutex
}

// Listen binds a per-session unix-domain socket, removing any stale socket
// file left by a prior crashed turn.
func Listen(address string) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, fmt.Errorf("ipc: create socket dir: %w", err)
	}
	_ = os.Remove(address)
	ln, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", address, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept returns the first connecting client as a *Conn; any subsequent
// connection attempt is closed immediately without affecting the first.
func (l *Listener) Accept(maxFrameSize uint32) (*Conn, error) {
	for {
		c, err := l.ln.Accept()
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if l.accepted {
			l.mu.Unlock()
			c.Close()
			continue
		}
		l.accepted = true
		l.mu.Unlock()
		return NewConn(c, maxFrameSize), nil
	}
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if addr := l.ln.Addr(); addr != nil {
		os.Remove(addr.String())
	}
	return err
}

// Dial connects to a listening address as the agent-side client.
func Dial(address string, maxFrameSize uint32) (*Conn, error) {
	c, err := net.Dial("unix", address)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", address, err)
	}
	return NewConn(c, maxFrameSize), nil
}
