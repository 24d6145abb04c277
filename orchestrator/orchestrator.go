// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package orchestrator wires the Store, Pending-Due Index, Worker
// Registry, Assignment Engine, Completion Handler, Health Loop, and
// Startup Reconciler into one running process, and exposes the
// public operations that the HTTP administrative surface and the
// Session Layer call.
package orchestrator

import (
	"context"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/assign"
	"github.com/alamin-khalid/planet-orchestrator/completion"
	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/health"
	"github.com/alamin-khalid/planet-orchestrator/proto"
	"github.com/alamin-khalid/planet-orchestrator/registry"
	"github.com/alamin-khalid/planet-orchestrator/session"
	"github.com/alamin-khalid/planet-orchestrator/startup"
)

// planetIDPattern enforces a max of 100 chars of [A-Za-z0-9_-].
var planetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Orchestrator is the assembled core. Construct with New, call
// Start(ctx) once process-wide state (Startup Reconciler) has been
// verified, and use the exported methods as the core's public API.
type Orchestrator struct {
	Store    core.Store
	Index    core.PendingIndex
	Registry *registry.Registry
	Clock    clock.Clock
	Logger   logrus.FieldLogger

	Engine     *assign.Engine
	Completion *completion.Handler
	Health     *health.Loop
	Sessions   *session.Manager
}

// Config bundles the tunables exposed to New.
type Config struct {
	AssignTickInterval time.Duration
	HealthPeriod       time.Duration
}

// New assembles an Orchestrator from a Store, a PendingIndex, a
// clock, and a logger. Call Reconcile then Start before accepting any
// worker connections or HTTP traffic.
func New(store core.Store, index core.PendingIndex, clk clock.Clock, log logrus.FieldLogger, cfg Config) *Orchestrator {
	reg := registry.New()

	engine := assign.New(store, index, reg, clk, log)
	engine.TickInterval = cfg.AssignTickInterval

	comp := &completion.Handler{
		Store:    store,
		Index:    index,
		Registry: reg,
		Clock:    clk,
		Logger:   log,
		Wake:     engine.Wake,
	}

	healthLoop := &health.Loop{
		Store:    store,
		Index:    index,
		Registry: reg,
		Clock:    clk,
		Logger:   log,
		Period:   cfg.HealthPeriod,
		Wake:     engine.Wake,
	}

	sessions := &session.Manager{
		Store:        store,
		Registry:     reg,
		Completion:   comp,
		Clock:        clk,
		Logger:       log,
		OnWorkerIdle: func(string) { engine.Wake() },
	}

	return &Orchestrator{
		Store:      store,
		Index:      index,
		Registry:   reg,
		Clock:      clk,
		Logger:     log,
		Engine:     engine,
		Completion: comp,
		Health:     healthLoop,
		Sessions:   sessions,
	}
}

// Reconcile runs the Startup Reconciler. Call this once, before Start.
func (o *Orchestrator) Reconcile() error {
	return startup.Reconcile(o.Store, o.Index, o.Clock, o.Logger)
}

// Start launches the Assignment Engine and Health Loop as background
// loops, returning immediately. Both stop when ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.Engine.Run(ctx)
	go o.Health.Run(ctx)
}

// CreatePlanet implements POST /planet/create. A new planet is
// immediately due: NextRoundTime is initialized to the creation time.
func (o *Orchestrator) CreatePlanet(planetID string, seasonID, roundID, currentRoundNumber int) (*core.Planet, error) {
	if !planetIDPattern.MatchString(planetID) {
		return nil, core.ErrInvalidPlanetID{PlanetID: planetID, Reason: "must be 1-100 chars of [A-Za-z0-9_-]"}
	}
	now := o.Clock.Now()
	p := &core.Planet{
		PlanetID:           planetID,
		SeasonID:           seasonID,
		RoundID:            roundID,
		CurrentRoundNumber: currentRoundNumber,
		NextRoundTime:      now,
		Status:             core.Queued,
	}
	if err := o.Store.CreatePlanet(p); err != nil {
		return nil, err
	}
	o.Index.Put(planetID, now)
	o.Engine.Wake()
	return p, nil
}

// RemovePlanet implements DELETE /planet/remove/<planet_id>. Returns
// core.ErrPlanetProcessing while the planet is in flight; delete
// succeeds only once completion lands.
func (o *Orchestrator) RemovePlanet(planetID string) error {
	if err := o.Store.DeletePlanet(planetID); err != nil {
		return err
	}
	o.Index.Remove(planetID)
	return nil
}

// Result implements POST /result, the HTTP fallback that dispatches
// the same success path as an inbound job_done frame.
func (o *Orchestrator) Result(planetID, serverID string, nextRoundTime time.Time) error {
	return o.Completion.JobDone(serverID, &proto.JobDone{
		Type:          proto.TypeJobDone,
		PlanetID:      planetID,
		NextRoundTime: nextRoundTime,
	})
}

// ForceAssign implements POST /force-assign: nudge the Assignment
// Engine outside of its regular tick.
func (o *Orchestrator) ForceAssign() {
	o.Engine.Wake()
}

// Command implements POST /command: send an outbound command frame
// to a specific worker's live session.
func (o *Orchestrator) Command(serverID, action string, payload map[string]interface{}) error {
	sess, ok := o.Registry.Get(serverID)
	if !ok {
		return core.ErrNoSession
	}
	return sess.SendCommand(action, payload)
}

// QueueStats implements GET /queue.
type QueueStats struct {
	QueueSize        int
	NextDueTime      time.Time
	HasNextDueTime   bool
	IdleServers      int
	BusyServers      int
	OfflineServers   int
	QueuedPlanets    int
	ProcessingPlanets int
}

// QueueStats computes the current GET /queue projection.
func (o *Orchestrator) QueueStats() (QueueStats, error) {
	var stats QueueStats
	stats.QueueSize = o.Index.Size()
	if next, ok := o.Index.PeekNext(); ok {
		stats.NextDueTime = next.Due
		stats.HasNextDueTime = true
	}

	workers, err := o.Store.ListWorkers()
	if err != nil {
		return stats, err
	}
	for _, w := range workers {
		switch w.Status {
		case core.Idle:
			stats.IdleServers++
		case core.Busy:
			stats.BusyServers++
		case core.Offline:
			stats.OfflineServers++
		}
	}

	queued, err := o.Store.ListPlanetsByStatus(core.Queued)
	if err != nil {
		return stats, err
	}
	stats.QueuedPlanets = len(queued)

	processing, err := o.Store.ListPlanetsByStatus(core.Processing)
	if err != nil {
		return stats, err
	}
	stats.ProcessingPlanets = len(processing)

	return stats, nil
}

// GetServer implements GET /server/<server_id>.
func (o *Orchestrator) GetServer(serverID string) (*core.Worker, error) {
	return o.Store.GetWorker(serverID)
}

// GetServers implements GET /servers.
func (o *Orchestrator) GetServers() ([]*core.Worker, error) {
	return o.Store.ListWorkers()
}
