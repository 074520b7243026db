package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/wire"
)

func TestTouchWorkerSetsOwnerOnceW1(t *testing.T) {
	s := NewState(nil)
	now := time.Now()

	rec := s.TouchWorker("w1", "1.2.3.4:5", "peer-a", now)
	assert.Equal(t, "peer-a", rec.OwnerID)

	// A later TouchWorker must never mutate OwnerID once set (invariant W1).
	rec2 := s.TouchWorker("w1", "1.2.3.4:5", "peer-b", now.Add(time.Second))
	assert.Equal(t, "peer-a", rec2.OwnerID)
}

func TestEnqueueRedirectEnforcesAtMostOneOrderPerWorkerI1(t *testing.T) {
	s := NewState(nil)
	s.EnqueueRedirect(RedirectOrderEntry{WorkerID: "w1", Target: wire.Address{IP: "a", Port: 1}, Kind: KindRedirect})
	s.EnqueueRedirect(RedirectOrderEntry{WorkerID: "w1", Target: wire.Address{IP: "b", Port: 2}, Kind: KindReturn})

	assert.Equal(t, 1, s.RedirectQueueLength())
	order, ok := s.TakeRedirect("w1")
	require.True(t, ok)
	assert.Equal(t, "b", order.Target.IP, "the second order for the same worker must replace the first")

	_, ok = s.TakeRedirect("w1")
	assert.False(t, ok, "TakeRedirect must remove the order once taken")
}

func TestRegisterPendingReturnIsIdempotentR3(t *testing.T) {
	s := NewState(nil)
	now := time.Now()
	addr := wire.Address{IP: "10.0.0.1", Port: 9001}

	s.RegisterPendingReturn("borrower-1", addr, []string{"w1", "w2"}, now)
	s.RegisterPendingReturn("borrower-1", addr, []string{"w1", "w2"}, now.Add(time.Second))

	_, _, _, completed := s.ArriveHome("w1")
	assert.False(t, completed)
	_, _, original, completed := s.ArriveHome("w2")
	assert.True(t, completed)
	assert.ElementsMatch(t, []string{"w1", "w2"}, original)
}

func TestArriveHomeCompletesOnlyWhenBatchFullyReturnedI4(t *testing.T) {
	s := NewState(nil)
	now := time.Now()
	addr := wire.Address{IP: "10.0.0.1", Port: 9001}
	s.RegisterPendingReturn("borrower-1", addr, []string{"w1", "w2", "w3"}, now)

	_, _, _, completed := s.ArriveHome("w1")
	assert.False(t, completed)
	_, _, _, completed = s.ArriveHome("w2")
	assert.False(t, completed)
	borrowerID, gotAddr, original, completed := s.ArriveHome("w3")
	assert.True(t, completed)
	assert.Equal(t, "borrower-1", borrowerID)
	assert.Equal(t, addr, gotAddr)
	assert.ElementsMatch(t, []string{"w1", "w2", "w3"}, original)

	// The record must be gone now; arriving "home" again for an unrelated
	// worker must not find a stale batch.
	_, _, _, completed = s.ArriveHome("w1")
	assert.False(t, completed)
}

func TestTryStartReleaseAttemptSerializesPerPeer(t *testing.T) {
	s := NewState(nil)
	now := time.Now()
	assert.True(t, s.TryStartReleaseAttempt("peer-a", now))
	assert.False(t, s.TryStartReleaseAttempt("peer-a", now), "a second in-flight attempt for the same peer must be rejected")

	s.FinishReleaseAttempt("peer-a")
	assert.True(t, s.TryStartReleaseAttempt("peer-a", now), "after finishing, a new attempt may start")
}

func TestEvictStalePeersRespectsTimeout(t *testing.T) {
	s := NewState(nil)
	now := time.Now()
	s.TouchPeer("peer-a", now)

	evicted := s.EvictStalePeers(10*time.Second, now.Add(5*time.Second))
	assert.Empty(t, evicted)

	evicted = s.EvictStalePeers(10*time.Second, now.Add(11*time.Second))
	assert.Equal(t, []string{"peer-a"}, evicted)
	assert.Equal(t, 0, s.AliveCount())
}

func TestActivePeersExcludesConfiguredButUnreachable(t *testing.T) {
	peers := []config.Peer{{ID: "a", IP: "1.1.1.1", Port: 1}, {ID: "b", IP: "2.2.2.2", Port: 2}}
	s := NewState(peers)
	s.TouchPeer("a", time.Now())

	active := s.ActivePeers()
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	// The configured list itself must never shrink (spec §4.6).
	assert.Len(t, s.ConfiguredPeers(), 2)
}

func TestPickLoanCandidateExcludesReleaseNotified(t *testing.T) {
	s := NewState(nil)
	now := time.Now()
	s.TouchWorker("w2", "addr", "", now)
	s.TouchWorker("w1", "addr", "", now)
	s.MarkReleaseNotified("w1")

	got, ok := s.PickLoanCandidate()
	require.True(t, ok)
	assert.Equal(t, "w2", got, "release-notified workers must not be loaned out again")
}
