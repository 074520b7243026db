package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/jotagamaral/masterfed/internal/wire"
)

// Outcome is the result a TaskExecutor hands back after processing a task
// (spec §4.8: "the worker only cares that it returns an OK/NOK outcome
// within a bounded time").
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNOK
)

// String renders an Outcome as the wire status string.
func (o Outcome) String() string {
	if o == OutcomeOK {
		return wire.StatusOK
	}
	return wire.StatusNOK
}

// TaskExecutor runs a QUERY task's user-defined work. Concrete DB/queue
// wiring is out of scope (spec §1's non-goal list); this abstraction is
// grounded on the original's worker_lib/task_processor.py and
// dist_worker/client_actions.py, which both treat "run this against a
// database" as a single opaque blocking call.
type TaskExecutor interface {
	Execute(ctx context.Context, user string) (Outcome, error)
}

// stubExecutor is the default TaskExecutor: it simulates bounded work with
// a short jittered sleep and always reports success. A real deployment
// swaps this for something that actually dispatches to a database or
// queue; nothing else in the worker depends on the concrete type.
type stubExecutor struct {
	rng *rand.Rand
}

// NewStubExecutor returns the default in-process TaskExecutor.
func NewStubExecutor() TaskExecutor {
	return &stubExecutor{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *stubExecutor) Execute(ctx context.Context, user string) (Outcome, error) {
	delay := time.Duration(200+s.rng.Intn(300)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return OutcomeNOK, ctx.Err()
	}
	return OutcomeOK, nil
}
