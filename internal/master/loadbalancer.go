package master

import (
	"context"
	"sort"

	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// loadBalancerLoop implements spec §4.7. The decision uses queue length
// only (Open Question 2); throughput remains telemetry-only. Because both
// branches are evaluated from a single snapshot of the queue length taken
// once per tick, the loop can never both request and release in the same
// tick (spec §8's boundary case).
func (m *Master) loadBalancerLoop() {
	lb := m.cfg.LoadBalancing
	for !m.shuttingDown() {
		m.sleep(m.cfg.Timing.LoadBalancerInterval())
		qlen := m.state.QueueLength()
		if m.metrics != nil {
			m.metrics.QueueLength.Set(float64(qlen))
			m.metrics.Workers.Set(float64(m.state.WorkerCount()))
		}
		switch {
		case qlen > lb.MaxQueueThreshold:
			m.requestWorkersFromPeers()
		case qlen < lb.MinQueueThreshold:
			m.releaseBorrowedWorkers()
		}
	}
}

// requestWorkersFromPeers asks every active peer for workers (spec §4.7).
// Each dial runs on its own goroutine; a peer's response is logged but
// never blocks the loop or any other peer's exchange.
func (m *Master) requestWorkersFromPeers() {
	self := wire.Address{IP: m.cfg.IP, Port: m.cfg.Port}
	for _, peer := range m.state.ActivePeers() {
		peer := peer
		m.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), transport.DialTimeout)
			defer cancel()
			addr := wire.Address{IP: peer.IP, Port: peer.Port}
			conn, err := transport.Dial(ctx, addr)
			if err != nil {
				m.log.Warnf("WORKER_REQUEST dial to %s failed: %v", peer.ID, err)
				return
			}
			defer conn.Close()
			if err := conn.Send(wire.WorkerRequest(self)); err != nil {
				m.log.Warnf("WORKER_REQUEST send to %s failed: %v", peer.ID, err)
				return
			}
			reply, err := conn.Receive()
			if err != nil {
				m.log.Warnf("WORKER_REQUEST read from %s failed: %v", peer.ID, err)
				return
			}
			m.log.Infof("WORKER_REQUEST to %s answered: %#v", peer.ID, reply)
		})
	}
}

// releaseBorrowedWorkers groups release-eligible workers by owner and
// spawns a release-handler attempt per owner (spec §4.7), never releasing
// so many that the local worker count would drop below
// min_workers_before_sharing.
func (m *Master) releaseBorrowedWorkers() {
	byOwner := m.state.BorrowedWorkersByOwner()
	if len(byOwner) == 0 {
		return
	}
	total := m.state.WorkerCount()
	floor := m.cfg.LoadBalancing.MinWorkersBeforeSharing
	budget := total - floor
	if budget <= 0 {
		return
	}

	owners := make([]string, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		if budget <= 0 {
			return
		}
		workers := byOwner[owner]
		if len(workers) > budget {
			workers = workers[:budget]
		}
		budget -= len(workers)
		m.startReleaseIfIdle(owner, workers)
	}
}
