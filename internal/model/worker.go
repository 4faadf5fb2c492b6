package model

import "time"

// WorkerStatus represents the lifecycle state of a worker
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerStopping WorkerStatus = "stopping"
	WorkerStopped  WorkerStatus = "stopped"
	WorkerFailed   WorkerStatus = "failed"
)

// Well-known counter names
const (
	CounterEventsProcessed = "events_processed"
	CounterEventsDuplicate = "events_duplicate"
	CounterEventsDenied    = "events_denied"
	CounterEventsFailed    = "events_failed"
	CounterRepliesSent     = "replies_sent"
	CounterPollErrors      = "poll_errors"
)

// WorkerHandle is a point-in-time snapshot of one running worker
type WorkerHandle struct {
	TenantID              string           `json:"tenant_id"`
	Platform              string           `json:"platform"`
	CredentialFingerprint string           `json:"credential_fingerprint"`
	ConfigDigest          string           `json:"config_digest"`
	Status                WorkerStatus     `json:"status"`
	StartedAt             *time.Time       `json:"started_at,omitempty"`
	LastEventAt           *time.Time       `json:"last_event_at,omitempty"`
	Counters              map[string]int64 `json:"counters"`
	LastError             string           `json:"last_error,omitempty"`
}

// Copy returns a deep copy so callers never share the counters map
func (h WorkerHandle) Copy() WorkerHandle {
	out := h
	out.Counters = make(map[string]int64, len(h.Counters))
	for k, v := range h.Counters {
		out.Counters[k] = v
	}
	if h.StartedAt != nil {
		t := *h.StartedAt
		out.StartedAt = &t
	}
	if h.LastEventAt != nil {
		t := *h.LastEventAt
		out.LastEventAt = &t
	}
	return out
}
