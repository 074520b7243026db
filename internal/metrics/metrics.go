// Package metrics exposes prometheus collectors for operational visibility.
// None of these feed the load-balancer decision itself (spec §4.7 is
// explicit that the decision uses queue length directly) — they are purely
// ambient telemetry, the Go equivalent of the supervisor report (§4.3/E.3).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Master bundles the collectors a master registers on startup.
type Master struct {
	QueueLength      prometheus.Gauge
	RedirectQueueLen prometheus.Gauge
	Workers          prometheus.Gauge
	BorrowedWorkers  prometheus.Gauge
	Peers            prometheus.Gauge
	RedirectsSent    *prometheus.CounterVec
	ReleasesStarted  prometheus.Counter
	ReleasesComplete prometheus.Counter
	TasksCompleted   prometheus.Counter
}

// NewMaster registers and returns the master's collector set against reg.
func NewMaster(reg prometheus.Registerer, serverID string) *Master {
	constLabels := prometheus.Labels{"server_id": serverID}
	m := &Master{
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "masterfed",
			Name:        "task_queue_length",
			Help:        "Current number of tasks waiting in the local queue.",
			ConstLabels: constLabels,
		}),
		RedirectQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "masterfed",
			Name:        "redirect_queue_length",
			Help:        "Current number of pending redirect/return orders.",
			ConstLabels: constLabels,
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "masterfed",
			Name:        "workers_total",
			Help:        "Total number of workers currently registered (owned + borrowed).",
			ConstLabels: constLabels,
		}),
		BorrowedWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "masterfed",
			Name:        "workers_borrowed",
			Help:        "Number of currently registered workers whose home is a peer.",
			ConstLabels: constLabels,
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "masterfed",
			Name:        "peers_alive",
			Help:        "Number of peers considered alive (last_alive within heartbeat_timeout).",
			ConstLabels: constLabels,
		}),
		RedirectsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "masterfed",
			Name:        "redirects_sent_total",
			Help:        "Redirect/return orders dispatched to workers, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		ReleasesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "masterfed",
			Name:        "release_attempts_started_total",
			Help:        "Release-handshake attempts started as a borrower.",
			ConstLabels: constLabels,
		}),
		ReleasesComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "masterfed",
			Name:        "release_batches_completed_total",
			Help:        "Release batches fully returned home, as an owner.",
			ConstLabels: constLabels,
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "masterfed",
			Name:        "tasks_completed_total",
			Help:        "Tasks reported completed by any worker.",
			ConstLabels: constLabels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.QueueLength, m.RedirectQueueLen, m.Workers,
			m.BorrowedWorkers, m.Peers, m.RedirectsSent, m.ReleasesStarted,
			m.ReleasesComplete, m.TasksCompleted)
	}
	return m
}
