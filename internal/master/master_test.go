package master

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/transport"
	"github.com/jotagamaral/masterfed/internal/wire"
)

// TestRunServesHeartbeatAndShutsDownCleanly exercises the dispatcher
// end-to-end over a real TCP socket: bind, one HEARTBEAT exchange, then a
// clean, bounded shutdown (spec §5's cancellation model).
func TestRunServesHeartbeatAndShutsDownCleanly(t *testing.T) {
	cfg := &config.Master{
		ID: "s1", IP: "127.0.0.1", Port: 0,
		Timing: config.Timing{
			HeartbeatIntervalSeconds:     30,
			HeartbeatTimeoutSeconds:      60,
			HeartbeatRetries:             1,
			HeartbeatRetryDelaySeconds:   1,
			HeartbeatBackoffFactor:       2,
			HeartbeatMaxDelaySeconds:     30,
			LoadBalancerIntervalSeconds:  30,
		},
		Supervisor: config.Supervisor{SupervisorIntervalSeconds: 60},
	}
	m := New(cfg, nil, nil)
	m.producer = nil // keep the test quiet; the producer isn't under test

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run() }()

	// Poll for the listener to come up (Run binds synchronously before
	// spawning loops, but the goroutine scheduling to get there is async
	// from this test's point of view).
	var addr string
	require.Eventually(t, func() bool {
		if m.listener == nil {
			return false
		}
		addr = m.listener.Addr().String()
		return true
	}, time.Second, 5*time.Millisecond)

	conn, err := transport.Dial(context.Background(), parseAddr(t, addr))
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.Heartbeat("peer-x")))
	reply, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseAlive, reply.Response)
	conn.Close()

	m.Shutdown()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func parseAddr(t *testing.T, hostport string) wire.Address {
	t.Helper()
	host, portStr, err := net.SplitHostPort(hostport)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return wire.Address{IP: host, Port: port}
}
