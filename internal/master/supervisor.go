package master

import (
	"context"
	"time"

	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// SupervisorReport is the concrete shape we give the spec's "opaque
// performance report" (spec §6), grounded on original_source's
// test_performance_thread.py / server_lib's periodic report, which tracks
// queue depth, worker counts (own + borrowed), and recent throughput.
type SupervisorReport struct {
	ServerUUID       string    `json:"SERVER_UUID"`
	Timestamp        time.Time `json:"timestamp"`
	QueueLength      int       `json:"queue_length"`
	WorkerCount      int       `json:"worker_count"`
	BorrowedCount    int       `json:"borrowed_count"`
	CompletedLastWin int       `json:"completed_last_window"`
}

// supervisorLoop sends a report on a fixed interval, fire-and-forget: a
// failed delivery is logged and never blocks the caller or retries (spec
// §6: "none" expected in response).
func (m *Master) supervisorLoop() {
	interval := m.cfg.Supervisor.SupervisorInterval()
	for !m.shuttingDown() {
		m.sleep(interval)
		if m.shuttingDown() {
			return
		}
		m.sendSupervisorReport()
	}
}

func (m *Master) sendSupervisorReport() {
	report := SupervisorReport{
		ServerUUID:       m.cfg.ID,
		Timestamp:        m.now(),
		QueueLength:      m.state.QueueLength(),
		WorkerCount:      m.state.WorkerCount(),
		BorrowedCount:    m.borrowedCount(),
		CompletedLastWin: m.state.ThroughputSince(m.now().Add(-m.cfg.LoadBalancing.ThresholdWindow())),
	}

	addr := wire.Address{IP: m.cfg.Supervisor.SupervisorInfo.IP, Port: m.cfg.Supervisor.SupervisorInfo.Port}
	ctx, cancel := context.WithTimeout(context.Background(), transport.DialTimeout)
	defer cancel()
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		m.log.Warnf("supervisor report dial failed: %v", err)
		return
	}
	defer conn.Close()
	if err := conn.SendRaw(report); err != nil {
		m.log.Warnf("supervisor report send failed: %v", err)
	}
}

func (m *Master) borrowedCount() int {
	n := 0
	for _, workers := range m.state.BorrowedWorkersByOwner() {
		n += len(workers)
	}
	return n
}
