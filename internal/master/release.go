package master

import (
	"context"
	"fmt"
	"time"

	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// releaseBackoff computes the delay before retry attempt i (0-indexed),
// per spec §4.5/§5: base 5s, factor 2, cap 30s.
func releaseBackoff(base time.Duration, factor float64, cap time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= factor
	}
	if time.Duration(d) > cap {
		return cap
	}
	return time.Duration(d)
}

const (
	releaseBaseDelay  = 5 * time.Second
	releaseFactor     = 2.0
	releaseCapDelay   = 30 * time.Second
	releaseMaxAttempt = 5
)

// startReleaseIfIdle spawns a borrower-side release attempt (spec §4.5
// step 1) for ownerID unless one is already in flight, enforcing "a
// single attempt-thread per peer" (spec §4.5).
func (m *Master) startReleaseIfIdle(ownerID string, workers []string) {
	if !m.state.TryStartReleaseAttempt(ownerID, m.now()) {
		return
	}
	m.spawn(func() { m.runReleaseAttempt(ownerID, workers) })
}

// runReleaseAttempt drives the exponential-backoff retry loop described in
// scenario 6: up to 5 attempts with delays 5s, 10s, 20s, 30s, 30s (capped).
// Only a successful RELEASE_ACK causes the RETURN redirects to be
// scheduled and the workers marked release_notified; any other outcome
// leaves no trace besides the log and clears the in-flight marker so a
// later load-balancer tick may try again.
func (m *Master) runReleaseAttempt(ownerID string, workers []string) {
	defer m.state.FinishReleaseAttempt(ownerID)

	addr, ok := m.peerAddr(ownerID)
	if !ok {
		m.log.Warnf("release attempt to unconfigured owner %s aborted", ownerID)
		return
	}
	if m.metrics != nil {
		m.metrics.ReleasesStarted.Inc()
	}

	for attempt := 0; attempt < releaseMaxAttempt; attempt++ {
		acked, err := m.sendCommandRelease(addr, workers)
		if err == nil {
			m.onReleaseAcked(ownerID, addr, acked)
			return
		}
		m.log.Warnf("release attempt %d/%d to %s failed: %v", attempt+1, releaseMaxAttempt, ownerID, err)
		delay := releaseBackoff(releaseBaseDelay, releaseFactor, releaseCapDelay, attempt)
		m.sleep(delay)
	}
	m.log.Errorf("release to owner %s failed after %d attempts, no RETURN order enqueued", ownerID, releaseMaxAttempt)
}

// sendCommandRelease performs one dial + COMMAND_RELEASE + RELEASE_ACK
// exchange (spec §4.5 steps 1-2).
func (m *Master) sendCommandRelease(addr wire.Address, workers []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), transport.DialTimeout)
	defer cancel()
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Send(wire.CommandRelease(m.cfg.ID, workers)); err != nil {
		return nil, err
	}
	reply, err := conn.Receive()
	if err != nil {
		return nil, err
	}
	if reply.Response != wire.ResponseReleaseAck {
		return nil, fmt.Errorf("unexpected response to COMMAND_RELEASE: %#v", reply)
	}
	return reply.WorkersUUID, nil
}

// onReleaseAcked schedules RETURN redirects for the acknowledged workers
// and marks them release_notified (invariant W2: they must see a RETURN
// before any further task).
func (m *Master) onReleaseAcked(ownerID string, ownerAddr wire.Address, workers []string) {
	for _, w := range workers {
		m.state.MarkReleaseNotified(w)
		m.state.EnqueueRedirect(RedirectOrderEntry{
			WorkerID: w,
			Target:   ownerAddr,
			Kind:     KindReturn,
		})
	}
	m.log.Infof("release to owner %s acked, %d RETURN orders scheduled", ownerID, len(workers))
}
