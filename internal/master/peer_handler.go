package master

import (
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// handlePeerHeartbeat answers a peer's HEARTBEAT and records its liveness
// (spec §4.6, §6).
func (m *Master) handlePeerHeartbeat(conn *transport.Conn, first wire.Envelope, log logging.Logger) {
	m.state.TouchPeer(first.ServerUUID, m.now())
	if err := conn.Send(wire.HeartbeatAck(m.cfg.ID)); err != nil {
		log.Warnf("failed acking heartbeat from %s: %v", first.ServerUUID, err)
	}
}

// handlePeerWorkerRequest implements the admission policy of spec §4.4.
// All three conditions are required for admission:
//   - the requestor provided REQUESTOR_INFO (guaranteed by classification)
//   - local worker count is strictly above min_workers_before_sharing
//     (Open Question 1: the spec fixes this boundary as strict inequality
//     on the "keep" side)
//   - local throughput in the configured window is at or above
//     threshold_min_tasks
func (m *Master) handlePeerWorkerRequest(conn *transport.Conn, first wire.Envelope, log logging.Logger) {
	floor := m.cfg.LoadBalancing.MinWorkersBeforeSharing
	haveEnough := m.state.WorkerCount() > floor
	window := m.cfg.LoadBalancing.ThresholdWindow()
	throughput := m.state.ThroughputSince(m.now().Add(-window))
	healthy := throughput >= m.cfg.LoadBalancing.ThresholdMinTasks

	if !haveEnough || !healthy {
		log.Infof("denying worker request from %s (workers>floor=%v healthy=%v)", first.RequestorInfo, haveEnough, healthy)
		if err := conn.Send(wire.Unavailable(m.cfg.ID)); err != nil {
			log.Warnf("failed sending UNAVAILABLE: %v", err)
		}
		return
	}

	workerID, ok := m.state.PickLoanCandidate()
	if !ok {
		if err := conn.Send(wire.Unavailable(m.cfg.ID)); err != nil {
			log.Warnf("failed sending UNAVAILABLE: %v", err)
		}
		return
	}

	m.state.EnqueueRedirect(RedirectOrderEntry{
		WorkerID: workerID,
		Target:   *first.RequestorInfo,
		Kind:     KindRedirect,
	})
	if m.metrics != nil {
		m.metrics.RedirectQueueLen.Set(float64(m.state.RedirectQueueLength()))
	}
	log.Infof("admitting worker request from %s: loaning %s", first.RequestorInfo, workerID)
	if err := conn.Send(wire.Available(m.cfg.ID, []string{workerID})); err != nil {
		log.Warnf("failed sending AVAILABLE: %v", err)
	}
}

// handlePeerCommandRelease is the owner side (S1) of spec §4.5 step 1/2:
// register the announced batch and ACK synchronously on this connection.
func (m *Master) handlePeerCommandRelease(conn *transport.Conn, first wire.Envelope, log logging.Logger) {
	addr, ok := m.peerAddr(first.ServerUUID)
	if !ok {
		log.Warnf("COMMAND_RELEASE from unconfigured peer %s", first.ServerUUID)
	}
	m.state.RegisterPendingReturn(first.ServerUUID, addr, first.WorkersUUID, m.now())
	log.Infof("registered pending return for borrower %s, workers %v", first.ServerUUID, first.WorkersUUID)
	if err := conn.Send(wire.ReleaseAck(m.cfg.ID, first.WorkersUUID)); err != nil {
		log.Warnf("failed sending RELEASE_ACK: %v", err)
	}
}

// handlePeerReleaseCompleted is fire-and-forget: operational visibility
// only (spec §4.5 step 5), no response is sent on this connection.
func (m *Master) handlePeerReleaseCompleted(first wire.Envelope, log logging.Logger) {
	log.Infof("owner %s confirmed release completed for workers %v", first.ServerUUID, first.WorkersUUID)
}

// peerAddr looks up a configured peer's dial address by id. Per spec §3,
// identity is carried in messages while address is used only for dialling,
// so the address always comes from the static configured peer list, never
// from the wire.
func (m *Master) peerAddr(peerID string) (wire.Address, bool) {
	for _, p := range m.cfg.Peers {
		if p.ID == peerID {
			return wire.Address{IP: p.IP, Port: p.Port}, true
		}
	}
	return wire.Address{}, false
}
