package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestReleaseBackoffScenario6 matches the worked example: 5 attempts with
// delays 5s, 10s, 20s, 30s, 30s (capped at releaseCapDelay).
func TestReleaseBackoffScenario6(t *testing.T) {
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, w := range want {
		got := releaseBackoff(releaseBaseDelay, releaseFactor, releaseCapDelay, attempt)
		assert.Equal(t, w, got, "attempt %d", attempt)
	}
}

func TestReleaseBackoffNeverExceedsCap(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		got := releaseBackoff(releaseBaseDelay, releaseFactor, releaseCapDelay, attempt)
		assert.LessOrEqual(t, got, releaseCapDelay)
	}
}
