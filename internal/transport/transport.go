// Package transport adapts the wire codec onto real TCP sockets. Its shape
// is grounded on the teacher's core.Transport interface (Broadcast/Unicast/
// Listen/Close for a multicast group) generalized to point-to-point dial/
// listen/send/receive, since spec §4.1/§6 call for dialled TCP connections
// exchanging line-delimited JSON, not group multicast delivery.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jotagamaral/masterfed/internal/wire"
)

// DialTimeout is the connect timeout for outbound peer/worker dials
// (spec §5: "connect carries a timeout (5s)").
const DialTimeout = 5 * time.Second

// ReadTimeout bounds a single short exchange read (spec §5: "reads carry
// timeouts (5s for short exchanges)").
const ReadTimeout = 5 * time.Second

// Conn is one TCP connection framed as line-delimited JSON messages. It is
// deliberately not safe for concurrent Send/Receive from multiple
// goroutines — each connection in this protocol is driven by exactly one
// goroutine at a time (dispatcher handler, or the single-shot client call).
type Conn struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
}

// WrapConn frames an already-established net.Conn.
func WrapConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: wire.NewReader(c),
		writer: wire.NewWriter(c),
	}
}

// Dial opens a new TCP connection to addr, bounded by DialTimeout.
func Dial(ctx context.Context, addr wire.Address) (*Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	target := fmt.Sprintf("%s:%d", addr.IP, addr.Port)
	c, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, err
	}
	return WrapConn(c), nil
}

// Send writes one message, bounded by ReadTimeout reused as the write
// deadline (writes are otherwise only bounded by the TCP send buffer and
// peer readiness per spec §5).
func (c *Conn) Send(e wire.Envelope) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(ReadTimeout))
	return c.writer.WriteMessage(e)
}

// Receive reads one message, bounded by ReadTimeout.
func (c *Conn) Receive() (wire.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	return c.reader.ReadMessage()
}

// SendRaw writes v as one newline-terminated JSON line outside the
// Envelope union, for opaque payloads such as the supervisor report (spec
// §6: "performance report (opaque object)").
func (c *Conn) SendRaw(v interface{}) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(ReadTimeout))
	return wire.EncodeLine(c.conn, v)
}

// ReceiveNoDeadline reads one message with the read deadline cleared, so
// it blocks until a message arrives or the connection ends.
func (c *Conn) ReceiveNoDeadline() (wire.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Time{})
	return c.reader.ReadMessage()
}

// RemoteAddr returns the transport-level origin of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Listener accepts inbound TCP connections for a master's listen address.
type Listener struct {
	ln net.Listener
}

// Listen binds addr ("ip:port") for accepting inbound connections.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until a new connection arrives or the listener is closed.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return WrapConn(c), nil
}

// Close unblocks any in-flight Accept and stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
