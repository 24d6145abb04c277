// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package registry holds the in-memory mapping from worker server_id
// to live session handle. It is in-memory only: a worker without a
// live session is never returned as idle, even if the Store still
// shows it idle, because the session layer or the Health Loop will
// reconcile the Store separately.
package registry

import (
	"sort"
	"sync"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// Session is the minimal surface the Registry needs from a worker's
// bidirectional channel. The session package provides the concrete
// implementation; this interface exists so registry has no import
// dependency on the transport.
type Session interface {
	// ServerID returns the worker id this session belongs to.
	ServerID() string

	// SendAssignJob enqueues an assign_job frame on the session's
	// bounded outbound queue. Returns core.ErrQueueFull if the queue
	// is at capacity.
	SendAssignJob(planetID string, seasonID, roundID int) error

	// SendCommand enqueues a command frame.
	SendCommand(command string, params map[string]interface{}) error

	// Close tears down the session from the transport side.
	Close()
}

type candidate struct {
	serverID       string
	totalCompleted int
	connectedAt    int64 // unix nanos, used only to break ties
}

// Registry is the process-scoped worker session map. Use New for a
// fresh instance per test or process; there is no package-level
// singleton so tests can run isolated registries in parallel.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*entry
}

type entry struct {
	session        Session
	status         core.WorkerStatus
	totalCompleted int
	connectedAt    int64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

// Attach registers a live session for serverID, replacing any prior
// session for the same id: re-attachment replaces the prior session.
func (r *Registry) Attach(serverID string, session Session, status core.WorkerStatus, totalCompleted int, connectedAtUnixNano int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[serverID] = &entry{
		session:        session,
		status:         status,
		totalCompleted: totalCompleted,
		connectedAt:    connectedAtUnixNano,
	}
}

// Detach removes the session for serverID, if any.
func (r *Registry) Detach(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, serverID)
}

// DetachIfCurrent removes the session for serverID only if session is
// still the one attached, and reports whether it removed anything. A
// superseded session's teardown uses this so it cannot drop the
// replacement that took its place after a reconnect.
func (r *Registry) DetachIfCurrent(serverID string, session Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[serverID]
	if !ok || e.session != session {
		return false
	}
	delete(r.byID, serverID)
	return true
}

// Get returns the live session for serverID, if any.
func (r *Registry) Get(serverID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[serverID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// SetStatus updates the cached status used by IdleCandidates, without
// touching the session handle. The Session Layer calls this whenever
// a worker's status_update frame changes its state.
func (r *Registry) SetStatus(serverID string, status core.WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[serverID]; ok {
		e.status = status
	}
}

// SetCompleted updates the cached total-completed counter used to
// order IdleCandidates least-loaded-first.
func (r *Registry) SetCompleted(serverID string, totalCompleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[serverID]; ok {
		e.totalCompleted = totalCompleted
	}
}

// IdleCandidates returns up to limit server ids with a live session
// and status == idle, ordered by total_completed ascending
// (least-loaded-first), breaking ties by connected_at ascending.
func (r *Registry) IdleCandidates(limit int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		return nil
	}

	candidates := make([]candidate, 0, len(r.byID))
	for id, e := range r.byID {
		if e.status != core.Idle {
			continue
		}
		candidates = append(candidates, candidate{
			serverID:       id,
			totalCompleted: e.totalCompleted,
			connectedAt:    e.connectedAt,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].totalCompleted != candidates[j].totalCompleted {
			return candidates[i].totalCompleted < candidates[j].totalCompleted
		}
		return candidates[i].connectedAt < candidates[j].connectedAt
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result := make([]string, len(candidates))
	for i, c := range candidates {
		result[i] = c.serverID
	}
	return result
}

// Size returns the number of sessions currently attached.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
