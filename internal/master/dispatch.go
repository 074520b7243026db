package master

import (
	"errors"
	"io"
	"time"

	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// serve runs the accept loop until the listener is closed (spec §4.2).
// Each accepted connection is handled on its own goroutine so a slow peer
// never delays unrelated work (spec §5).
func (m *Master) serve() error {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.shuttingDown() {
				return nil
			}
			return err
		}
		m.spawn(func() { m.handleConnection(conn) })
	}
}

// handleConnection reads the first parseable message on the connection,
// classifies it per spec §4.2's table, and routes to the matching
// handler. Unparseable lines are logged and dropped without tearing down
// the connection (spec §4.1); the loop below keeps reading until it finds
// a line that decodes, or the connection ends.
func (m *Master) handleConnection(conn *transport.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log := m.log.With(logging.Fields{"remote_addr": remote})

	first, ok := m.readClassifiableMessage(conn, log)
	if !ok {
		return
	}

	switch {
	case first.IsWorkerRole():
		m.handleWorkerConnection(conn, first, remote, log)
	case first.IsHeartbeat():
		m.handlePeerHeartbeat(conn, first, log)
	case first.IsWorkerRequest():
		m.handlePeerWorkerRequest(conn, first, log)
	case first.IsCommandRelease():
		m.handlePeerCommandRelease(conn, first, log)
	case first.IsReleaseCompleted():
		m.handlePeerReleaseCompleted(first, log)
	default:
		log.Warnf("closing connection: unrecognized first message %#v", first)
	}
}

// readClassifiableMessage reads lines off conn until one decodes
// successfully, logging and discarding any malformed ones in between. It
// returns ok=false once the connection has ended (EOF, timeout, reset).
func (m *Master) readClassifiableMessage(conn *transport.Conn, log logging.Logger) (wire.Envelope, bool) {
	for {
		msg, err := conn.Receive()
		if err == nil {
			return msg, true
		}
		if wire.IsMalformed(err) {
			log.Warnf("dropping malformed message: %v", err)
			continue
		}
		if !errors.Is(err, io.EOF) {
			log.Debugf("connection ended: %v", err)
		}
		return wire.Envelope{}, false
	}
}

// now is a seam so loops can be driven deterministically in tests.
func (m *Master) now() time.Time {
	return time.Now()
}
