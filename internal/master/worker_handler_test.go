package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// TestArrivalHomeBeforeRedirectDispatch exercises spec §4.3's ordering
// constraint: a worker arriving home that is immediately re-loaned in the
// same exchange must still receive the RETURN/home delivery's consequence
// (the batch completes and the borrower is sent RELEASE_COMPLETED) before
// any newly assigned redirect order is
// dispatched to it; in practice this means the arrival-home check always
// runs first regardless of whether a redirect order also happens to be
// queued for the same worker_id.
func TestArrivalHomeBeforeRedirectDispatch(t *testing.T) {
	cfg := &config.Master{ID: "s1", IP: "127.0.0.1", Port: 9200}
	m := newTestMaster(t, cfg)

	owner := wire.Address{IP: "10.0.0.5", Port: 7000}
	m.state.RegisterPendingReturn("owner-peer", owner, []string{"w1"}, time.Now())

	// A fresh redirect order is also queued for the same worker, to prove
	// that the pending-return completion fires regardless of what the
	// redirect check would otherwise have done.
	m.state.EnqueueRedirect(RedirectOrderEntry{WorkerID: "w1", Target: wire.Address{IP: "10.0.0.9", Port: 1}, Kind: KindRedirect})

	serverSide, clientSide := pipeConns(t)
	done := make(chan struct{})
	go func() {
		m.handleWorkerAlive(serverSide, "w1", m.log)
		close(done)
	}()

	reply, err := clientSide.Receive()
	require.NoError(t, err)
	<-done

	// The redirect order queued above must still be delivered to the
	// worker on this same exchange (order: arrival-home bookkeeping first,
	// then redirect dispatch) — the worker should receive a REDIRECT here.
	assert.Equal(t, wire.TaskRedirect, reply.Task)

	// And the pending-return batch must have been completed and removed as
	// a side effect of the arrival-home check, independent of the dispatch.
	_, _, _, completedAgain := m.state.ArriveHome("w1")
	assert.False(t, completedAgain, "the batch must already be gone after the first arrival")
}

func TestWorkerStatusRecordsCompletionAndAcks(t *testing.T) {
	cfg := &config.Master{ID: "s1", IP: "127.0.0.1", Port: 9300}
	m := newTestMaster(t, cfg)

	serverSide, clientSide := pipeConns(t)
	done := make(chan struct{})
	go func() {
		m.handleWorkerStatus(serverSide, wire.WorkerStatusMsg("w1", wire.StatusOK, wire.TaskQuery), m.log)
		close(done)
	}()
	reply, err := clientSide.Receive()
	require.NoError(t, err)
	<-done

	assert.Equal(t, wire.ResponseAck, reply.Status)
	assert.Equal(t, 1, m.state.ThroughputSince(time.Now().Add(-time.Minute)))
}
