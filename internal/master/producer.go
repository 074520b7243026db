package master

import "time"

// producerInterval is the internal task generator's cadence. Spec §3
// describes the producer only as "timer-driven"; no wire-visible knob
// governs it (it stands in for the workload a real deployment would
// receive from elsewhere), so it is a small fixed constant rather than a
// configuration field.
const producerInterval = 3 * time.Second

// defaultProducer returns a TaskProducer that manufactures one QUERY-style
// task per tick, grounded on the original's background task generator
// (distinct revisions of background_tasks.py periodically synthesize
// workload in the absence of a real upstream queue).
func defaultProducer() TaskProducer {
	counter := 0
	return func() Task {
		counter++
		return Task{ID: requestIDFromCounter(counter), User: "synthetic"}
	}
}

func requestIDFromCounter(n int) string {
	const letters = "0123456789abcdef"
	// Cheap deterministic id without pulling in a random source on the
	// producer's hot path; uniqueness across a single master's lifetime is
	// all that's required since ids never cross the wire to workers.
	buf := make([]byte, 0, 12)
	if n == 0 {
		return "task-0"
	}
	for n > 0 {
		buf = append(buf, letters[n%16])
		n /= 16
	}
	return "task-" + string(buf)
}

// producerLoop feeds the local task queue on a fixed interval.
func (m *Master) producerLoop() {
	for !m.shuttingDown() {
		m.sleep(producerInterval)
		if m.shuttingDown() {
			return
		}
		m.state.EnqueueTask(m.producer())
	}
}
