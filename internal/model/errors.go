package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when an originator or target is outside the tenant scope
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDuplicateEvent marks an event id that was already handled
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrWorkerNotFound is returned when no worker is registered for a tenant
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrTenantNotConfigured is returned when a tenant has no usable configuration
	ErrTenantNotConfigured = errors.New("tenant not configured")
	// ErrShutdownTimeout is returned when a worker does not stop within its grace period
	ErrShutdownTimeout = errors.New("worker did not stop within grace period")
	// ErrWorkerNotRunning is returned when an event is handed to a worker that is not running
	ErrWorkerNotRunning = errors.New("worker not running")
)

// ConfigurationError reports an unreachable configuration source or a malformed record
type ConfigurationError struct {
	Platform string
	TenantID string
	Cause    error
}

func (e *ConfigurationError) Error() string {
	if e.TenantID != "" {
		return fmt.Sprintf("configuration error for %s/%s: %v", e.Platform, e.TenantID, e.Cause)
	}
	return fmt.Sprintf("configuration error for %s: %v", e.Platform, e.Cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// StartError reports a worker that could not be started
type StartError struct {
	Platform string
	TenantID string
	Cause    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s worker for tenant %s: %v", e.Platform, e.TenantID, e.Cause)
}

func (e *StartError) Unwrap() error {
	return e.Cause
}

// StopError reports a worker that did not stop cleanly
type StopError struct {
	Platform string
	TenantID string
	Cause    error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("failed to stop %s worker for tenant %s: %v", e.Platform, e.TenantID, e.Cause)
}

func (e *StopError) Unwrap() error {
	return e.Cause
}

// ProcessingError reports a failure while handling one event
type ProcessingError struct {
	TenantID string
	EventID  string
	Cause    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing event %s for tenant %s: %v", e.EventID, e.TenantID, e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}
