// Package master implements the federation master: the connection
// dispatcher, the five peer/worker protocol handlers, the release
// protocol, the heartbeat/monitor loops, and the load-balancer loop (spec
// §4). It is grounded on the teacher's core.Peer coordinator (single
// mutex, an Invoker to spawn goroutines, a context-driven poll loop)
// generalized from a multicast-ordering protocol to this federation's
// worker-scheduling protocol.
package master

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/metrics"
	"github.com/jotagamaral/masterfed/internal/transport"
)

// Master owns one master's entire runtime: its state domains, its
// listener, and every background loop described in spec §5. A slow peer
// can delay only its own connection goroutine or its own heartbeat/
// release attempt, never the accept loop or another peer's traffic.
type Master struct {
	cfg     *config.Master
	state   *State
	log     logging.Logger
	metrics *metrics.Master

	listener *transport.Listener

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	shutdownMu sync.Mutex
	shutdown   bool

	// producer is the internal timer-driven task generator; nil disables
	// it (useful in tests that inject tasks directly via State).
	producer TaskProducer

	rng *rand.Rand
}

// TaskProducer generates the next task for the internal producer loop
// (producer.go). Tests can stub it; production uses defaultProducer.
type TaskProducer func() Task

// New builds a Master ready to Run. log may be nil to use the default.
func New(cfg *config.Master, log logging.Logger, reg prometheus.Registerer) *Master {
	if log == nil {
		log = logging.Default()
	}
	log = log.With(logging.Fields{"server_uuid": cfg.ID})
	ctx, cancel := context.WithCancel(context.Background())
	return &Master{
		cfg:      cfg,
		state:    NewState(cfg.Peers),
		log:      log,
		metrics:  metrics.NewMaster(reg, cfg.ID),
		ctx:      ctx,
		cancel:   cancel,
		group:    &errgroup.Group{},
		producer: defaultProducer(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run binds the listener and starts every background activity described
// in spec §5: the accept loop, the heartbeat sender, the peer monitor,
// the load balancer, the internal task producer (when one is set), and the
// supervisor reporter. It blocks until
// Shutdown is called or the listener fails irrecoverably.
func (m *Master) Run() error {
	ln, err := transport.Listen(m.cfg.ListenAddr())
	if err != nil {
		m.log.Errorf("bind failed on %s: %v", m.cfg.ListenAddr(), err)
		return err
	}
	m.listener = ln
	m.log.Infof("listening on %s", m.cfg.ListenAddr())

	m.group.Go(func() error {
		err := m.serve()
		if err != nil && !m.shuttingDown() {
			m.log.Errorf("accept loop exited unexpectedly: %v", err)
			m.Shutdown()
			return err
		}
		return nil
	})
	m.spawn(m.heartbeatSenderLoop)
	m.spawn(m.monitorLoop)
	m.spawn(m.loadBalancerLoop)
	if m.producer != nil {
		m.spawn(m.producerLoop)
	}
	m.spawn(m.supervisorLoop)

	<-m.ctx.Done()
	return m.group.Wait()
}

// Shutdown signals every background loop to stop and unblocks Accept, per
// spec §5's cancellation model. It does not forcibly abort in-flight
// connection handlers; they drain naturally.
func (m *Master) Shutdown() {
	m.shutdownMu.Lock()
	defer m.shutdownMu.Unlock()
	if m.shutdown {
		return
	}
	m.shutdown = true
	m.cancel()
	if m.listener != nil {
		_ = m.listener.Close()
	}
}

func (m *Master) shuttingDown() bool {
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

// spawn runs f under the master's errgroup, so Run's final Wait blocks
// until every background loop and every fire-and-forget handler goroutine
// (redirect notifications, release attempts, peer dials) has actually
// returned. f never reports an error of its own — background loops run
// until cancellation, and handler goroutines log their own failures — so
// spawn always reports nil to the group.
func (m *Master) spawn(f func()) {
	m.group.Go(func() error {
		f()
		return nil
	})
}

// sleep blocks for d or until shutdown, whichever comes first, checking
// at a granularity no coarser than one second (spec §5's cancellation
// latency requirement for every background loop's sleep phase).
func (m *Master) sleep(d time.Duration) {
	const tick = time.Second
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		wait := remaining
		if wait > tick {
			wait = tick
		}
		timer := time.NewTimer(wait)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// jitter applies a +/- frac random perturbation to d.
func (m *Master) jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := (m.rng.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}
