// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package core

import (
	"errors"
	"fmt"
)

// ErrGone is returned from operations on a planet, worker, or other
// entity whose owning namespace has been torn down.
var ErrGone = errors.New("store is gone")

// ErrPlanetExists is returned from CreatePlanet if a planet with the
// same id already exists.
var ErrPlanetExists = errors.New("planet already exists")

// ErrPlanetProcessing is returned from RemovePlanet if the planet is
// currently assigned to a worker.
var ErrPlanetProcessing = errors.New("planet is processing")

// ErrNotProcessing is returned from the Completion Handler if a
// completion message arrives for a planet that is not currently
// assigned to the reporting worker — a stale completion.
var ErrNotProcessing = errors.New("planet is not processing on this worker")

// ErrConflict is returned by Store writes that lose an optimistic
// concurrency race: the row was modified since the caller last read
// it.
var ErrConflict = errors.New("concurrent modification")

// ErrNoSession is returned when an outbound frame is queued for a
// worker that has no live session in the Registry.
var ErrNoSession = errors.New("no live session for worker")

// ErrQueueFull is returned when a session's bounded outbound queue
// is full.
var ErrQueueFull = errors.New("outbound queue full")

// ErrNoSuchPlanet is returned by Store lookups that cannot find a
// planet by id.
type ErrNoSuchPlanet struct {
	PlanetID string
}

func (e ErrNoSuchPlanet) Error() string {
	return fmt.Sprintf("no such planet %q", e.PlanetID)
}

// ErrNoSuchWorker is returned by Store lookups that cannot find a
// worker by id.
type ErrNoSuchWorker struct {
	ServerID string
}

func (e ErrNoSuchWorker) Error() string {
	return fmt.Sprintf("no such worker %q", e.ServerID)
}

// ErrInvalidPlanetID is returned when a caller-supplied planet id
// fails charset/length validation.
type ErrInvalidPlanetID struct {
	PlanetID string
	Reason   string
}

func (e ErrInvalidPlanetID) Error() string {
	return fmt.Sprintf("invalid planet id %q: %s", e.PlanetID, e.Reason)
}

// ErrUnknownStatus is returned while unmarshaling a status enum whose
// wire value does not match any known case.
type ErrUnknownStatus struct {
	Value string
}

func (e ErrUnknownStatus) Error() string {
	return fmt.Sprintf("unknown status %s", e.Value)
}
