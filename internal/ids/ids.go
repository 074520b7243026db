// Package ids generates the opaque UUID-derived identifiers used for
// worker_uuid and internal request correlation (spec §3).
package ids

import "github.com/google/uuid"

// NewWorkerID generates a fresh worker_uuid at worker startup.
func NewWorkerID() string {
	return "WORKER_" + uuid.NewString()
}

// NewRequestID generates an opaque id for correlating an in-flight request.
func NewRequestID() string {
	return uuid.NewString()
}
