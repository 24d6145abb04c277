// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package core defines the abstract domain model of the planet
// orchestrator: planets, workers, task history, and the Store that
// persists them.
//
// Implementations of Store provide a specific database backend (see
// the memstore and pgstore packages).  Most callers only need the
// interfaces in this package plus one Store implementation.
package core

import "time"

// PlanetStatus is the lifecycle state of a Planet.
type PlanetStatus int

const (
	// Queued planets sit in the pending-due index waiting for their
	// next round time to come due and for a worker.
	Queued PlanetStatus = iota

	// Processing planets are currently assigned to a worker.
	Processing

	// Error planets failed their last attempt and are waiting out
	// a backoff before their next attempt.
	Error
)

func (s PlanetStatus) String() string {
	switch s {
	case Queued:
		return "queued"
	case Processing:
		return "processing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON represents a PlanetStatus as its wire-format string.
func (s PlanetStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON populates a PlanetStatus from its wire-format string.
func (s *PlanetStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"queued"`:
		*s = Queued
	case `"processing"`:
		*s = Processing
	case `"error"`:
		*s = Error
	default:
		return ErrUnknownStatus{Value: string(data)}
	}
	return nil
}

// WorkerStatus is the lifecycle state of a Worker session.
type WorkerStatus int

const (
	// Offline workers have no live session.
	Offline WorkerStatus = iota

	// NotInitialized workers have connected but have not yet sent
	// a status_update:idle frame.
	NotInitialized

	// Idle workers have a live session and no assigned planet.
	Idle

	// Busy workers have a live session and exactly one assigned
	// planet.
	Busy

	// NotResponding workers have a live session but have not sent
	// a heartbeat recently.
	NotResponding
)

func (s WorkerStatus) String() string {
	switch s {
	case Offline:
		return "offline"
	case NotInitialized:
		return "not_initialized"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case NotResponding:
		return "not_responding"
	default:
		return "unknown"
	}
}

// MarshalJSON represents a WorkerStatus as its wire-format string.
func (s WorkerStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON populates a WorkerStatus from its wire-format string.
func (s *WorkerStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"offline"`:
		*s = Offline
	case `"not_initialized"`:
		*s = NotInitialized
	case `"idle"`:
		*s = Idle
	case `"busy"`:
		*s = Busy
	case `"not_responding"`:
		*s = NotResponding
	default:
		return ErrUnknownStatus{Value: string(data)}
	}
	return nil
}

// AttemptStatus is the lifecycle state of a TaskHistory row.
type AttemptStatus int

const (
	Started AttemptStatus = iota
	Completed
	Failed
	Timeout
)

func (s AttemptStatus) String() string {
	switch s {
	case Started:
		return "started"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Planet is a unit of periodic work.
type Planet struct {
	PlanetID           string       `json:"planet_id"`
	SeasonID           int          `json:"season_id"`
	RoundID            int          `json:"round_id"`
	CurrentRoundNumber int          `json:"current_round_number"`
	NextRoundTime      time.Time    `json:"next_round_time"`
	Status             PlanetStatus `json:"status"`
	LastProcessed      time.Time    `json:"last_processed"`       // zero value means absent
	ProcessingServerID string       `json:"processing_server_id"` // empty means absent
	ErrorRetryCount    int          `json:"error_retry_count"`

	// Version is an optimistic-concurrency token bumped on every
	// Store write, used by the Assignment Engine's re-read check
	// before it commits a pairing.
	Version int64 `json:"-"`
}

// IsProcessing reports whether the planet is currently assigned.
func (p *Planet) IsProcessing() bool {
	return p.Status == Processing && p.ProcessingServerID != ""
}

// Due reports whether the planet's next round is due at or before now.
func (p *Planet) Due(now time.Time) bool {
	return !p.NextRoundTime.After(now)
}

// Worker is an external node that can process one planet at a time.
type Worker struct {
	ServerID       string       `json:"server_id"`
	ServerIP       string       `json:"server_ip"`
	Status         WorkerStatus `json:"status"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	IdleCPU        float64      `json:"idle_cpu"`
	MaxCPU         float64      `json:"max_cpu"`
	IdleRAM        float64      `json:"idle_ram"`
	MaxRAM         float64      `json:"max_ram"`
	Disk           float64      `json:"disk"`
	CurrentTask    string       `json:"current_task"` // empty means absent
	TotalAssigned  int          `json:"total_assigned"`
	TotalCompleted int          `json:"total_completed"`
	TotalFailed    int          `json:"total_failed"`
	ConnectedAt    time.Time    `json:"connected_at"`
	DisconnectedAt time.Time    `json:"disconnected_at"` // zero value means absent

	Version int64 `json:"-"`
}

// IsBusy reports whether the worker is currently assigned a planet.
func (w *Worker) IsBusy() bool {
	return w.Status == Busy && w.CurrentTask != ""
}

// TaskHistory is one attempt record for a (planet, worker) pair: at
// most one row per attempt, retries update the existing row rather
// than appending a new one.
type TaskHistory struct {
	ID              int64
	PlanetID        string
	ServerID        string
	StartTime       time.Time
	EndTime         time.Time // zero value means absent
	Status          AttemptStatus
	ErrorMessage    string
	DurationSeconds float64
	HasDuration     bool
}
