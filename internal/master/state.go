package master

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// RedirectKind distinguishes a temporary loan from a trip home (spec §3's
// redirect queue, GLOSSARY "Return": a kind of redirect whose target is
// the worker's home).
type RedirectKind int

const (
	KindRedirect RedirectKind = iota
	KindReturn
)

// Task is one unit of work in the local FIFO queue (spec §3).
type Task struct {
	ID   string
	User string
}

// WorkerRecord is a master's per-worker bookkeeping entry (spec §3).
// Invariant W1: OwnerID, once set, never changes for the life of the
// record. Invariant W2: ReleaseNotified true implies the next poll must
// receive a RETURN order before any task.
type WorkerRecord struct {
	WorkerUUID      string
	LastSeen        time.Time
	RemoteAddr      string
	OwnerID         string // empty => this master is home
	ReleaseNotified bool
}

// Borrowed reports whether this record's worker is on loan from a peer.
func (w *WorkerRecord) Borrowed() bool { return w.OwnerID != "" }

// PeerRecord is a peer liveness entry (spec §3), keyed by peer id.
type PeerRecord struct {
	LastAlive time.Time
}

// RedirectOrderEntry is a pending order in the redirect queue (spec §3).
// At most one order per WorkerID may exist at any time (invariant I1).
type RedirectOrderEntry struct {
	WorkerID string
	Target   wire.Address
	Kind     RedirectKind
}

// PendingReturn tracks a batch of workers a borrower (identified by
// BorrowerID) announced intent to release, from the owner's point of view
// (spec §3/§4.5 step 2). The field is named BorrowerID rather than the
// spec prose's literal "owner_id" key: §4.5's own worked example
// (pending_returns[S2.id]) keys the record by the *borrower's* peer id,
// which is what every read/write site in §4.3 and §4.5 actually needs.
type PendingReturn struct {
	BorrowerID      string
	BorrowerAddr    wire.Address
	WorkersPending  map[string]struct{}
	WorkersOriginal []string
	CreatedAt       time.Time
}

// CompletedLog is a bounded sliding window of task-completion timestamps,
// used for throughput telemetry only (spec §3's "Completed task log"; spec
// §9/Open Question 2 resolves that the load-balancer itself must use queue
// length, not this). Backed by an LRU so a master with a very long uptime
// and high throughput cannot grow this window without bound even if the
// telemetry window is misconfigured to something large.
type CompletedLog struct {
	mu      sync.Mutex
	cache   *lru.Cache[uint64, time.Time]
	counter uint64
}

// NewCompletedLog creates a log capped at capacity entries.
func NewCompletedLog(capacity int) *CompletedLog {
	c, _ := lru.New[uint64, time.Time](capacity)
	return &CompletedLog{cache: c}
}

// Record appends a completion timestamp.
func (c *CompletedLog) Record(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	c.cache.Add(c.counter, at)
}

// CountSince returns the number of completions at or after since.
func (c *CompletedLog) CountSince(since time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ts := range c.cache.Values() {
		if !ts.Before(since) {
			n++
		}
	}
	return n
}

// State is the master's single mutex-guarded domain set (spec §5's
// "shared-resource policy"). Every mutation of the worker, peer, queue,
// redirect, pending-return and release-attempt domains happens under mu;
// the completed-task log is guarded by its own lock. No network I/O is
// ever performed while mu is held (invariant I6) — callers snapshot what
// they need under the lock and release it before dialling anything.
type State struct {
	mu sync.Mutex

	workers                map[string]*WorkerRecord
	peers                   map[string]*PeerRecord
	taskQueue               []Task
	redirectQueue           []RedirectOrderEntry
	pendingReturns          map[string]*PendingReturn
	pendingReleaseAttempts map[string]time.Time

	completed *CompletedLog

	configuredPeers []config.Peer
}

// NewState builds the empty state domain set for a master configured with
// the given static peer list.
func NewState(peers []config.Peer) *State {
	return &State{
		workers:                make(map[string]*WorkerRecord),
		peers:                   make(map[string]*PeerRecord),
		pendingReturns:          make(map[string]*PendingReturn),
		pendingReleaseAttempts: make(map[string]time.Time),
		completed:               NewCompletedLog(10000),
		configuredPeers:          peers,
	}
}

// --- worker domain ---

// TouchWorker records a message arrival, creating the record on first
// sight. If the worker presents an owner id on its first contact it is
// registered as borrowed (invariant W1: set once, never mutated again).
func (s *State) TouchWorker(workerUUID, remoteAddr, ownerID string, now time.Time) *WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workers[workerUUID]
	if !ok {
		rec = &WorkerRecord{WorkerUUID: workerUUID, OwnerID: ownerID}
		s.workers[workerUUID] = rec
	}
	rec.LastSeen = now
	rec.RemoteAddr = remoteAddr
	return rec
}

// RemoveWorker deletes a worker's record (used when it is being handed off
// to another master via redirect/return).
func (s *State) RemoveWorker(workerUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, workerUUID)
}

// MarkReleaseNotified sets the W2 flag for a worker once this master has
// successfully told the owner it intends to release it.
func (s *State) MarkReleaseNotified(workerUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.workers[workerUUID]; ok {
		rec.ReleaseNotified = true
	}
}

// WorkerSnapshot returns a copy of a worker's record, or nil if unknown.
func (s *State) WorkerSnapshot(workerUUID string) *WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workers[workerUUID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// WorkerCount returns the number of currently registered workers (owned +
// borrowed), used by the admission policy's floor check (spec §4.4).
func (s *State) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// PickLoanCandidate returns the worker id with the smallest id among
// currently registered workers that are not already flagged
// release-notified, implementing the spec's "any worker, deterministic
// tie-break" admission policy (§4.4, Open Question 3).
func (s *State) PickLoanCandidate() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.workers {
		if rec.ReleaseNotified {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

// BorrowedWorkersByOwner groups workers that are on loan (OwnerID set) and
// not yet release-notified, keyed by owner peer id (spec §4.7's "collect
// workers where owner_id is set and release_notified is false, grouped by
// owner").
func (s *State) BorrowedWorkersByOwner() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for id, rec := range s.workers {
		if rec.Borrowed() && !rec.ReleaseNotified {
			out[rec.OwnerID] = append(out[rec.OwnerID], id)
		}
	}
	for owner := range out {
		sort.Strings(out[owner])
	}
	return out
}

// --- task queue domain ---

// EnqueueTask appends a task to the local FIFO.
func (s *State) EnqueueTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskQueue = append(s.taskQueue, t)
}

// PopTask removes and returns the head task, if any.
func (s *State) PopTask() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.taskQueue) == 0 {
		return Task{}, false
	}
	t := s.taskQueue[0]
	s.taskQueue = s.taskQueue[1:]
	return t, true
}

// QueueLength returns the current queue depth — the single load metric
// (spec §3, §4.7).
func (s *State) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taskQueue)
}

// --- redirect queue domain ---

// EnqueueRedirect appends an order, enforcing invariant I1 (at most one
// order per worker_id) by replacing any existing order for the same
// worker rather than appending a second one.
func (s *State) EnqueueRedirect(order RedirectOrderEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.redirectQueue {
		if existing.WorkerID == order.WorkerID {
			s.redirectQueue[i] = order
			return
		}
	}
	s.redirectQueue = append(s.redirectQueue, order)
}

// TakeRedirect removes and returns the pending order for workerID, if any.
func (s *State) TakeRedirect(workerID string) (RedirectOrderEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.redirectQueue {
		if existing.WorkerID == workerID {
			s.redirectQueue = append(s.redirectQueue[:i], s.redirectQueue[i+1:]...)
			return existing, true
		}
	}
	return RedirectOrderEntry{}, false
}

// RedirectQueueLength reports the current backlog size (ambient metric).
func (s *State) RedirectQueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redirectQueue)
}

// --- pending returns domain ---

// RegisterPendingReturn creates (or refreshes, per R3) the owner-side
// bookkeeping for a release batch announced by a borrower.
func (s *State) RegisterPendingReturn(borrowerID string, borrowerAddr wire.Address, workers []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pendingReturns[borrowerID]
	if !ok {
		pending := make(map[string]struct{}, len(workers))
		for _, w := range workers {
			pending[w] = struct{}{}
		}
		s.pendingReturns[borrowerID] = &PendingReturn{
			BorrowerID:      borrowerID,
			BorrowerAddr:    borrowerAddr,
			WorkersPending:  pending,
			WorkersOriginal: append([]string(nil), workers...),
			CreatedAt:       now,
		}
		return
	}
	// R3: duplicate COMMAND_RELEASE for the same batch is a no-op beyond
	// refreshing metadata; never duplicate a worker within WorkersPending.
	for _, w := range workers {
		if _, dup := existing.WorkersPending[w]; !dup {
			alreadyHome := true
			for _, orig := range existing.WorkersOriginal {
				if orig == w {
					alreadyHome = false
					break
				}
			}
			if alreadyHome {
				existing.WorkersPending[w] = struct{}{}
				existing.WorkersOriginal = append(existing.WorkersOriginal, w)
			}
		}
	}
	existing.BorrowerAddr = borrowerAddr
}

// ArriveHome removes workerUUID from the first pending-return batch found
// to contain it; other batches are not searched. When removing workerUUID
// empties that batch, the record is deleted and ArriveHome returns the
// borrower id, its address and the batch's original worker list with
// completed=true — signaling the caller to dispatch RELEASE_COMPLETED
// (invariant I4).
func (s *State) ArriveHome(workerUUID string) (borrowerID string, borrowerAddr wire.Address, original []string, completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pending := range s.pendingReturns {
		if _, ok := pending.WorkersPending[workerUUID]; !ok {
			continue
		}
		delete(pending.WorkersPending, workerUUID)
		if len(pending.WorkersPending) == 0 {
			original = append([]string(nil), pending.WorkersOriginal...)
			addr := pending.BorrowerAddr
			delete(s.pendingReturns, id)
			return id, addr, original, true
		}
		return id, wire.Address{}, nil, false
	}
	return "", wire.Address{}, nil, false
}

// --- release-attempt domain ---

// TryStartReleaseAttempt registers peerID as having an in-flight release
// attempt; returns false if one is already running for that peer.
func (s *State) TryStartReleaseAttempt(peerID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.pendingReleaseAttempts[peerID]; inFlight {
		return false
	}
	s.pendingReleaseAttempts[peerID] = now
	return true
}

// FinishReleaseAttempt clears the in-flight marker for peerID.
func (s *State) FinishReleaseAttempt(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingReleaseAttempts, peerID)
}

// --- peer liveness domain ---

// TouchPeer records a successful heartbeat exchange with peerID.
func (s *State) TouchPeer(peerID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peerID] = &PeerRecord{LastAlive: now}
}

// EvictStalePeers removes peer liveness entries older than timeout,
// returning the evicted ids (for logging).
func (s *State) EvictStalePeers(timeout time.Duration, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for id, rec := range s.peers {
		if now.Sub(rec.LastAlive) > timeout {
			evicted = append(evicted, id)
			delete(s.peers, id)
		}
	}
	return evicted
}

// ActivePeers returns the configured peers currently considered alive
// (present in the liveness map). The configured list itself is never
// mutated (spec §4.6: a peer that fails all retries is not removed from
// the configured list).
func (s *State) ActivePeers() []config.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.Peer, 0, len(s.configuredPeers))
	for _, p := range s.configuredPeers {
		if _, alive := s.peers[p.ID]; alive {
			out = append(out, p)
		}
	}
	return out
}

// ConfiguredPeers returns the static peer list (snapshotted; the slice
// itself is never mutated after construction).
func (s *State) ConfiguredPeers() []config.Peer {
	return s.configuredPeers
}

// AliveCount reports how many peers currently have a liveness entry. This
// includes any peer that heartbeated this master, configured or not.
func (s *State) AliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// RecordCompletion appends a completion timestamp to the throughput log.
func (s *State) RecordCompletion(now time.Time) {
	s.completed.Record(now)
}

// ThroughputSince returns completions observed since the given time.
func (s *State) ThroughputSince(since time.Time) int {
	return s.completed.CountSince(since)
}
