package master

import (
	"context"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// heartbeatSenderLoop iterates the configured peer list on a fixed
// interval, dialling each peer fresh (spec §4.6). Each peer is heartbeat
// on its own goroutine so one unreachable peer cannot delay the others.
func (m *Master) heartbeatSenderLoop() {
	t := m.cfg.Timing
	for !m.shuttingDown() {
		for _, peer := range m.cfg.Peers {
			peer := peer
			m.spawn(func() { m.sendHeartbeatWithRetry(peer) })
		}
		m.sleep(t.HeartbeatInterval())
	}
}

// sendHeartbeatWithRetry implements spec §4.6's retry policy: on failure
// (timeout, refused, malformed response) sleep base*factor^attempt capped
// and jittered, retry up to heartbeat_retries times. A peer that exhausts
// its retries is not removed from the configured list — its last_alive
// simply ages out and the monitor loop evicts the liveness entry.
func (m *Master) sendHeartbeatWithRetry(peer config.Peer) {
	t := m.cfg.Timing
	for attempt := 0; attempt < t.HeartbeatRetries; attempt++ {
		if m.shuttingDown() {
			return
		}
		if m.tryHeartbeat(peer) {
			return
		}
		delay := releaseBackoff(t.HeartbeatRetryDelay(), t.HeartbeatBackoffFactor, t.HeartbeatMaxDelay(), attempt)
		delay = m.jitter(delay, t.HeartbeatJitterFrac)
		m.sleep(delay)
	}
	m.log.Warnf("all %d heartbeat attempts to peer %s failed", t.HeartbeatRetries, peer.ID)
}

// tryHeartbeat performs a single dial + HEARTBEAT + ALIVE exchange.
func (m *Master) tryHeartbeat(peer config.Peer) bool {
	ctx, cancel := context.WithTimeout(context.Background(), transport.DialTimeout)
	defer cancel()
	addr := wire.Address{IP: peer.IP, Port: peer.Port}
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		m.log.Warnf("heartbeat dial to %s failed: %v", peer.ID, err)
		return false
	}
	defer conn.Close()

	if err := conn.Send(wire.Heartbeat(m.cfg.ID)); err != nil {
		m.log.Warnf("heartbeat send to %s failed: %v", peer.ID, err)
		return false
	}
	reply, err := conn.Receive()
	if err != nil {
		m.log.Warnf("heartbeat read from %s failed: %v", peer.ID, err)
		return false
	}
	if reply.Response != wire.ResponseAlive {
		m.log.Warnf("unexpected heartbeat reply from %s: %#v", peer.ID, reply)
		return false
	}
	m.state.TouchPeer(peer.ID, m.now())
	return true
}

// monitorLoop wakes on the heartbeat interval and evicts any peer whose
// last_alive is older than heartbeat_timeout (spec §4.6).
func (m *Master) monitorLoop() {
	t := m.cfg.Timing
	for !m.shuttingDown() {
		m.sleep(t.HeartbeatInterval())
		evicted := m.state.EvictStalePeers(t.HeartbeatTimeout(), m.now())
		for _, id := range evicted {
			m.log.Warnf("peer %s evicted: last_alive older than heartbeat_timeout", id)
		}
		if m.metrics != nil {
			m.metrics.Peers.Set(float64(m.state.AliveCount()))
		}
	}
}
