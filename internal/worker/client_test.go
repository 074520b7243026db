package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeMaster accepts one connection per call and lets the test script its
// reply, so the worker's poll loop can be driven deterministically.
func fakeMaster(t *testing.T) (addr wire.Address, next func() (wire.Envelope, *transport.Conn)) {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	tcpAddr := ln.Addr().(*net.TCPAddr)
	addr = wire.Address{IP: "127.0.0.1", Port: tcpAddr.Port}

	next = func() (wire.Envelope, *transport.Conn) {
		conn, err := ln.Accept()
		require.NoError(t, err)
		msg, err := conn.Receive()
		require.NoError(t, err)
		return msg, conn
	}
	return addr, next
}

func newTestWorker(t *testing.T, cfg *config.Worker) *Worker {
	t.Helper()
	w := New(cfg, logging.New(noopWriter{}, false), NewStubExecutor())
	t.Cleanup(w.Shutdown)
	return w
}

func TestWorkerAtHomeReceivesNoTaskAndIncludesNoOwner(t *testing.T) {
	addr, next := fakeMaster(t)
	cfg := &config.Worker{
		WorkerID:              "w1",
		HomeMaster:            config.HomeMaster{ID: "s1", IP: addr.IP, Port: addr.Port},
		ReconnectDelaySeconds: 0.05,
	}
	w := newTestWorker(t, cfg)

	go func() {
		msg, conn := next()
		defer conn.Close()
		assert.Empty(t, msg.OwnerUUID, "AT_HOME worker must not send OWNER_UUID")
		_ = conn.Send(wire.NoTask())
	}()

	done := make(chan struct{})
	go func() { w.pollOnce(); close(done) }()
	// pollOnce idles for noTaskIdleDelay after a NO_TASK reply before it
	// returns, so the deadline must cover that idle period.
	select {
	case <-done:
	case <-time.After(noTaskIdleDelay + 2*time.Second):
		t.Fatal("pollOnce did not return")
	}
}

func TestWorkerRedirectTransitionsToBorrowedAndTagsOwner(t *testing.T) {
	homeAddr, homeNext := fakeMaster(t)
	tempAddr, tempNext := fakeMaster(t)
	cfg := &config.Worker{
		WorkerID:              "w1",
		HomeMaster:            config.HomeMaster{ID: "s1", IP: homeAddr.IP, Port: homeAddr.Port},
		ReconnectDelaySeconds: 0.05,
	}
	w := newTestWorker(t, cfg)

	go func() {
		_, conn := homeNext()
		defer conn.Close()
		_ = conn.Send(wire.RedirectOrder(tempAddr))
	}()
	w.pollOnce()
	assert.True(t, w.borrowed)
	assert.Equal(t, tempAddr, w.current)

	go func() {
		msg, conn := tempNext()
		defer conn.Close()
		assert.Equal(t, "s1", msg.OwnerUUID, "BORROWED worker must tag OWNER_UUID = home.id")
		_ = conn.Send(wire.NoTask())
	}()
	w.pollOnce()
}

func TestWorkerFallsBackHomeImmediatelyOnTempMasterFailure(t *testing.T) {
	homeAddr, _ := fakeMaster(t)
	cfg := &config.Worker{
		WorkerID:              "w1",
		HomeMaster:            config.HomeMaster{ID: "s1", IP: homeAddr.IP, Port: homeAddr.Port},
		ReconnectDelaySeconds: 5, // would make the test hang if the wrong branch is taken
	}
	w := newTestWorker(t, cfg)
	w.borrowed = true
	w.current = wire.Address{IP: "127.0.0.1", Port: 1} // nothing listens here

	start := time.Now()
	w.pollOnce()
	elapsed := time.Since(start)

	assert.False(t, w.borrowed)
	assert.Equal(t, w.home, w.current)
	assert.Less(t, elapsed, 2*time.Second, "temp-master failure must fall back home immediately, not wait reconnect_delay")
}

func TestWorkerWaitsReconnectDelayOnHomeFailure(t *testing.T) {
	cfg := &config.Worker{
		WorkerID:              "w1",
		HomeMaster:            config.HomeMaster{ID: "s1", IP: "127.0.0.1", Port: 1},
		ReconnectDelaySeconds: 0.2,
	}
	w := newTestWorker(t, cfg)

	start := time.Now()
	w.pollOnce()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestRunTaskReportsStatusAndAwaitsAck(t *testing.T) {
	addr, next := fakeMaster(t)
	cfg := &config.Worker{
		WorkerID:              "w1",
		HomeMaster:            config.HomeMaster{ID: "s1", IP: addr.IP, Port: addr.Port},
		ReconnectDelaySeconds: 0.05,
	}
	w := newTestWorker(t, cfg)

	done := make(chan struct{})
	go func() {
		msg, conn := next()
		defer conn.Close()
		assert.Equal(t, wire.StatusOK, msg.Status)
		_ = conn.Send(wire.StatusAck())
		close(done)
	}()

	w.runTask("alice")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status exchange did not complete")
	}
}

func TestStubExecutorReturnsOK(t *testing.T) {
	ex := NewStubExecutor()
	outcome, err := ex.Execute(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
}
