package master

import (
	"context"

	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// handleWorkerConnection implements spec §4.3: update last_seen (and
// register ownership on first contact), then branch on the worker's
// stated intent.
func (m *Master) handleWorkerConnection(conn *transport.Conn, first wire.Envelope, remoteAddr string, log logging.Logger) {
	now := m.now()
	m.state.TouchWorker(first.WorkerUUID, remoteAddr, first.OwnerUUID, now)
	log = log.With(logging.Fields{"worker_uuid": first.WorkerUUID})

	switch {
	case first.Worker == wire.WorkerAlive:
		m.handleWorkerAlive(conn, first.WorkerUUID, log)
	case first.Status != "":
		m.handleWorkerStatus(conn, first, log)
	default:
		log.Warnf("closing worker connection: unrecognized intent %#v", first)
	}
}

// handleWorkerAlive runs the three ordered checks from spec §4.3.
// Ordering matters: arrival-home must run before the redirect-order
// check, or a worker that just arrived home could be re-borrowed in the
// very same exchange and its true owner would never observe the return.
func (m *Master) handleWorkerAlive(conn *transport.Conn, workerUUID string, log logging.Logger) {
	// 1. Arrival-home check.
	if borrowerID, borrowerAddr, original, completed := m.state.ArriveHome(workerUUID); completed {
		log.Infof("release batch for borrower %s complete, worker %s arrived home", borrowerID, workerUUID)
		m.notifyReleaseCompleted(borrowerID, borrowerAddr, original, log)
	}

	// 2. Redirect-order check.
	if order, ok := m.state.TakeRedirect(workerUUID); ok {
		m.state.RemoveWorker(workerUUID)
		var reply wire.Envelope
		switch order.Kind {
		case KindReturn:
			reply = wire.ReturnOrder(order.Target)
		default:
			reply = wire.RedirectOrder(order.Target)
		}
		if m.metrics != nil {
			m.metrics.RedirectsSent.WithLabelValues(redirectKindLabel(order.Kind)).Inc()
		}
		if err := conn.Send(reply); err != nil {
			log.Warnf("failed sending redirect/return to %s: %v", workerUUID, err)
		}
		return
	}

	// 3. Task dispatch.
	task, ok := m.state.PopTask()
	var reply wire.Envelope
	if ok {
		reply = wire.QueryTask(task.User)
	} else {
		reply = wire.NoTask()
	}
	if err := conn.Send(reply); err != nil {
		log.Warnf("failed sending task reply to %s: %v", workerUUID, err)
	}
}

// handleWorkerStatus records a completion and acknowledges it (spec §4.3).
func (m *Master) handleWorkerStatus(conn *transport.Conn, first wire.Envelope, log logging.Logger) {
	m.state.RecordCompletion(m.now())
	if m.metrics != nil {
		m.metrics.TasksCompleted.Inc()
	}
	log.Debugf("worker reported status %s for task %s", first.Status, first.Task)
	if err := conn.Send(wire.StatusAck()); err != nil {
		log.Warnf("failed sending status ack: %v", err)
	}
}

func redirectKindLabel(k RedirectKind) string {
	if k == KindReturn {
		return "return"
	}
	return "redirect"
}

// notifyReleaseCompleted fires the RELEASE_COMPLETED notification to the
// borrower on its own goroutine (spec §4.5 step 5: fire-and-forget, a
// failure to deliver is logged but never blocks the owner).
func (m *Master) notifyReleaseCompleted(borrowerID string, borrowerAddr wire.Address, workers []string, log logging.Logger) {
	m.spawn(func() {
		conn, err := transport.Dial(context.Background(), borrowerAddr)
		if err != nil {
			log.Warnf("RELEASE_COMPLETED to %s failed to dial: %v", borrowerID, err)
			return
		}
		defer conn.Close()
		if err := conn.Send(wire.ReleaseCompleted(m.cfg.ID, workers)); err != nil {
			log.Warnf("RELEASE_COMPLETED to %s failed to send: %v", borrowerID, err)
			return
		}
		if m.metrics != nil {
			m.metrics.ReleasesComplete.Inc()
		}
	})
}
