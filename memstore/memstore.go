// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memstore provides an in-process, in-memory implementation
// of core.Store. There is no persistence; state lives only as long as
// the process does. It is intended as a reference implementation for
// tests, and is adequate for a single orchestrator process with no
// durability requirement.
//
// The entire store is behind a single mutex to protect against
// concurrent updates; this is tuned for correctness, not throughput.
package memstore

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/alamin-khalid/planet-orchestrator/core"
)

// Store is an in-memory core.Store.
type Store struct {
	mu       sync.Mutex
	clock    clock.Clock
	planets  map[string]*memPlanet
	workers  map[string]*memWorker
	history  map[historyKey]*memHistory
	nextHist int64
}

// historyKey identifies the single TaskHistory row kept per
// (planet, worker) pair.
type historyKey struct {
	planetID string
	serverID string
}

// New creates a new in-memory Store using the real wall clock.
func New() *Store {
	return NewWithClock(clock.New())
}

// NewWithClock creates a new in-memory Store with an explicit time
// source, for deterministic tests.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		clock:   clk,
		planets: make(map[string]*memPlanet),
		workers: make(map[string]*memWorker),
		history: make(map[historyKey]*memHistory),
	}
}

type memPlanet struct {
	data    core.Planet
	version int64
}

type memWorker struct {
	data    core.Worker
	version int64
}

type memHistory struct {
	data core.TaskHistory
}

func (s *Store) lock()   { s.mu.Lock() }
func (s *Store) unlock() { s.mu.Unlock() }
