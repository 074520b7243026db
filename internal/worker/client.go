// Package worker implements the worker-side client state machine (spec
// §4.8): a single-goroutine poll loop that keeps one-shot connections to
// whichever master currently owns it, following REDIRECT/RETURN orders and
// falling back home on failure. Grounded on the teacher's core.Peer poll
// loop (dial, exchange, sleep, repeat under a cancellable context) adapted
// from multicast commit polling to this federation's worker protocol.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/ids"
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

const (
	noTaskIdleDelay  = 5 * time.Second
	postTaskDelay    = 1 * time.Second
	transitionDelay  = 2 * time.Second
)

// Worker drives one worker's lifetime: AT_HOME/BORROWED state, the poll
// loop, and task execution via the injected TaskExecutor.
type Worker struct {
	cfg      *config.Worker
	log      logging.Logger
	executor TaskExecutor

	workerID string
	home     wire.Address
	homeID   string

	current   wire.Address
	borrowed  bool // current != home

	ctx    context.Context
	cancel context.CancelFunc
	rng    *rand.Rand
}

// New builds a Worker ready to Run. log/executor may be nil to use the
// defaults (the stub executor, the default logger).
func New(cfg *config.Worker, log logging.Logger, executor TaskExecutor) *Worker {
	if log == nil {
		log = logging.Default()
	}
	if executor == nil {
		executor = NewStubExecutor()
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = ids.NewWorkerID()
	}
	home := wire.Address{IP: cfg.HomeMaster.IP, Port: cfg.HomeMaster.Port}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:      cfg,
		log:      log.With(logging.Fields{"worker_uuid": workerID}),
		executor: executor,
		workerID: workerID,
		home:     home,
		homeID:   cfg.HomeMaster.ID,
		current:  home,
		borrowed: false,
		ctx:      ctx,
		cancel:   cancel,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the poll loop until Shutdown is called. It never returns an
// error on its own — every failure is handled by the state machine's
// reconnect policy (spec §4.8/§5); Run only returns once cancelled.
func (w *Worker) Run() error {
	for !w.shuttingDown() {
		w.pollOnce()
	}
	return nil
}

// Shutdown cancels the poll loop, unblocking any in-progress sleep within
// roughly one second (mirrors the master's cancellation latency bound).
func (w *Worker) Shutdown() {
	w.cancel()
}

func (w *Worker) shuttingDown() bool {
	select {
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

// pollOnce performs one dial-exchange-react cycle. On a dial failure it
// applies the asymmetric reconnect policy from spec §4.8/§5: a failure
// talking to a temporary master resets to home immediately and retries
// without delay, while a failure talking to home waits reconnect_delay
// before retrying.
func (w *Worker) pollOnce() {
	ctx, cancel := context.WithTimeout(w.ctx, transport.DialTimeout)
	conn, err := transport.Dial(ctx, w.current)
	cancel()
	if err != nil {
		if w.borrowed {
			w.log.Warnf("lost temporary master, falling back home: %v", err)
			w.current = w.home
			w.borrowed = false
			return
		}
		w.log.Warnf("home master unreachable, retrying in %s: %v", w.cfg.ReconnectDelay(), err)
		w.sleep(w.cfg.ReconnectDelay())
		return
	}
	defer conn.Close()

	ownerID := ""
	if w.borrowed {
		ownerID = w.homeID
	}
	if err := conn.Send(wire.WorkerAliveMsg(w.workerID, ownerID)); err != nil {
		w.log.Warnf("failed sending ALIVE: %v", err)
		w.onExchangeFailure()
		return
	}
	reply, err := conn.Receive()
	if err != nil {
		w.log.Warnf("failed receiving poll reply: %v", err)
		w.onExchangeFailure()
		return
	}

	switch reply.Task {
	case wire.TaskQuery:
		w.runTask(reply.User)
		w.sleep(postTaskDelay)
	case wire.TaskNoTask:
		w.sleep(noTaskIdleDelay)
	case wire.TaskRedirect:
		w.handleRedirect(reply)
	case wire.TaskReturn:
		w.handleReturn()
	default:
		w.log.Warnf("unrecognized poll reply: %#v", reply)
		w.sleep(noTaskIdleDelay)
	}
}

// onExchangeFailure applies the same reconnect policy as a dial failure
// when the connection dies mid-exchange (spec §7's transport-transient
// category covers both equally).
func (w *Worker) onExchangeFailure() {
	if w.borrowed {
		w.current = w.home
		w.borrowed = false
		return
	}
	w.sleep(w.cfg.ReconnectDelay())
}

// handleRedirect transitions AT_HOME→BORROWED or BORROWED→BORROWED (a
// temporary master can itself redirect onward to a third master).
func (w *Worker) handleRedirect(reply wire.Envelope) {
	if reply.ServerRedirect == nil {
		w.log.Warnf("REDIRECT with no target, ignoring")
		return
	}
	w.current = *reply.ServerRedirect
	w.borrowed = true
	w.log.Infof("redirected to %s:%d", w.current.IP, w.current.Port)
	w.sleep(transitionDelay)
}

// handleReturn transitions BORROWED→AT_HOME. The worker trusts its own
// configured home address rather than whatever SERVER_RETURN carries, on
// the same principle the master applies to peer addresses: identity
// travels on the wire, dial targets come from local configuration.
func (w *Worker) handleReturn() {
	w.current = w.home
	w.borrowed = false
	w.log.Infof("returned home")
	w.sleep(transitionDelay)
}

// runTask executes a QUERY task via the injected executor and reports the
// outcome, awaiting the ACK before the caller proceeds (spec §4.8).
func (w *Worker) runTask(user string) {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	outcome, err := w.executor.Execute(ctx, user)
	cancel()
	if err != nil {
		w.log.Warnf("task execution error: %v", err)
	}
	w.reportStatus(outcome.String())
}

// reportStatus opens a fresh one-shot connection to the current master to
// report a task outcome and waits for the ACK (spec §6's STATUS row).
func (w *Worker) reportStatus(status string) {
	ctx, cancel := context.WithTimeout(w.ctx, transport.DialTimeout)
	conn, err := transport.Dial(ctx, w.current)
	cancel()
	if err != nil {
		w.log.Warnf("failed dialling to report status: %v", err)
		w.onExchangeFailure()
		return
	}
	defer conn.Close()
	if err := conn.Send(wire.WorkerStatusMsg(w.workerID, status, wire.TaskQuery)); err != nil {
		w.log.Warnf("failed sending STATUS: %v", err)
		return
	}
	if _, err := conn.Receive(); err != nil {
		w.log.Warnf("failed receiving STATUS ack: %v", err)
	}
}

// sleep blocks for d or until shutdown, whichever comes first.
func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
	case <-timer.C:
	}
}
