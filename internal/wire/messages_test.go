package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want func(Envelope) bool
	}{
		{"worker alive", WorkerAliveMsg("w1", ""), Envelope.IsWorkerRole},
		{"worker status", WorkerStatusMsg("w1", StatusOK, TaskQuery), Envelope.IsWorkerRole},
		{"heartbeat request", Heartbeat("s1"), Envelope.IsHeartbeat},
		{"worker request", WorkerRequest(Address{IP: "10.0.0.1", Port: 9000}), Envelope.IsWorkerRequest},
		{"command release", CommandRelease("s1", []string{"w1"}), Envelope.IsCommandRelease},
		{"release completed", ReleaseCompleted("s1", []string{"w1"}), Envelope.IsReleaseCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want(tc.env))
		})
	}
}

func TestHeartbeatAckIsNotClassifiedAsHeartbeatRequest(t *testing.T) {
	ack := HeartbeatAck("s1")
	assert.False(t, ack.IsHeartbeat(), "a reply carrying RESPONSE must not be re-classified as a new request")
}

func TestWorkerAliveCarriesOwnerOnlyWhenBorrowed(t *testing.T) {
	atHome := WorkerAliveMsg("w1", "")
	assert.Empty(t, atHome.OwnerUUID)

	borrowed := WorkerAliveMsg("w1", "home-master")
	assert.Equal(t, "home-master", borrowed.OwnerUUID)
}
