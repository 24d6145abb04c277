// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package assign implements the Assignment Engine: it pulls due
// planets out of the Pending-Due Index, pairs them with idle workers
// from the Worker Registry, and performs the atomic "mark busy +
// dispatch + remove from index" transition.
package assign

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

// DefaultTickInterval is the default period between unconditional
// Assignment Engine passes.
const DefaultTickInterval = 5 * time.Second

// Engine is the Assignment Engine. One Engine exists per orchestrator
// process; construct with New for each test or process so no
// package-level singleton is shared across runs.
type Engine struct {
	Store    core.Store
	Index    core.PendingIndex
	Registry *registry.Registry
	Clock    clock.Clock
	Logger   logrus.FieldLogger

	// TickInterval overrides DefaultTickInterval when nonzero.
	TickInterval time.Duration

	mu   sync.Mutex // serializes per-pair transitions across concurrent RunOnce calls
	wake chan struct{}
}

// New creates an Engine ready to Run.
func New(store core.Store, index core.PendingIndex, reg *registry.Registry, clk clock.Clock, log logrus.FieldLogger) *Engine {
	return &Engine{
		Store:    store,
		Index:    index,
		Registry: reg,
		Clock:    clk,
		Logger:   log,
		wake:     make(chan struct{}, 1),
	}
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

// Wake schedules an immediate pass in addition to the regular tick,
// used when a worker becomes idle or a planet becomes due right now.
// Safe to call concurrently and from any goroutine; redundant wakes
// coalesce.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drives the tick + wake loop until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := e.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce()
		case <-e.wake:
			e.RunOnce()
		}
	}
}

// RunOnce performs a single pairing pass. It is idempotent and safe to
// call concurrently with itself; each per-pair transition is
// serialized by e.mu, and callers never block on anything expensive
// outside it.
func (e *Engine) RunOnce() {
	now := e.Clock.Now()

	idle := e.Registry.IdleCandidates(1 << 20) // bounded below once we know due count
	if len(idle) == 0 {
		return
	}
	due := e.Index.RangeDue(now, len(idle))
	if len(due) == 0 {
		return
	}
	if len(idle) > len(due) {
		idle = idle[:len(due)]
	}

	pairs := len(due)
	if len(idle) < pairs {
		pairs = len(idle)
	}

	for i := 0; i < pairs; i++ {
		e.assignOne(due[i].PlanetID, idle[i], now)
	}
}

// assignOne performs the atomic per-pair transition: re-validate both
// sides, dispatch, then commit. On any abort condition it leaves both
// entities untouched.
func (e *Engine) assignOne(planetID, serverID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger().WithField("planet_id", planetID).WithField("server_id", serverID)

	planet, err := e.Store.GetPlanet(planetID)
	if err != nil {
		log.WithError(err).Debug("assignment aborted: planet re-read failed")
		return
	}
	if planet.Status != core.Queued && planet.Status != core.Error {
		return // no longer eligible; someone else took it
	}

	worker, err := e.Store.GetWorker(serverID)
	if err != nil {
		log.WithError(err).Debug("assignment aborted: worker re-read failed")
		return
	}
	if worker.Status != core.Idle || worker.CurrentTask != "" {
		return
	}

	session, ok := e.Registry.Get(serverID)
	if !ok {
		// Registry says idle but the session vanished; Health Loop
		// will reconcile the Store's view of this worker.
		return
	}

	if err := session.SendAssignJob(planetID, planet.SeasonID, planet.RoundID); err != nil {
		log.WithError(err).Warn("assignment aborted: outbound queue full")
		return
	}

	prevStatus := planet.Status
	planet.Status = core.Processing
	planet.ProcessingServerID = serverID
	if err := e.Store.UpdatePlanet(planet); err != nil {
		log.WithError(err).Warn("assignment aborted: planet update conflict")
		return
	}

	worker.Status = core.Busy
	worker.CurrentTask = planetID
	worker.TotalAssigned++
	err = e.Store.UpsertWorker(worker)
	if err == core.ErrConflict {
		// A heartbeat raced the claim; re-read and retry once.
		fresh, ferr := e.Store.GetWorker(serverID)
		if ferr == nil && fresh.Status == core.Idle && fresh.CurrentTask == "" {
			fresh.Status = core.Busy
			fresh.CurrentTask = planetID
			fresh.TotalAssigned++
			err = e.Store.UpsertWorker(fresh)
		}
	}
	if err != nil {
		// Roll the planet back so it is not left processing against a
		// worker that never claimed it. The worker will report a stale
		// completion for this dispatch, which the Completion Handler
		// drops.
		planet.Status = prevStatus
		planet.ProcessingServerID = ""
		if rbErr := e.Store.UpdatePlanet(planet); rbErr != nil {
			log.WithError(rbErr).Error("failed to roll back planet after worker update conflict")
		}
		log.WithError(err).Warn("assignment aborted: worker update conflict")
		return
	}
	e.Registry.SetStatus(serverID, core.Busy)

	if _, err := e.Store.StartAttempt(planetID, serverID, now); err != nil {
		log.WithError(err).Warn("failed to record attempt start")
	}

	e.Index.Remove(planetID)
	log.Info("assigned planet to worker")
}
