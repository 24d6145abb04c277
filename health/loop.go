// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package health implements the Health Loop: stale heartbeat
// detection, orphan release for planets whose worker vanished, and
// drift repair between the Store and the Pending-Due Index. It does
// not touch retry counters; the Completion Handler resets an exhausted
// retry budget on the failure that exhausts it.
package health

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

// DefaultPeriod is the default tick period.
const DefaultPeriod = 5 * time.Second

// staleAfter is how long without a heartbeat before a worker is
// marked not_responding.
const staleAfter = 30 * time.Second

// offlineAfter is the total silence duration after which a worker is
// marked offline and its in-flight planet is released.
const offlineAfter = 60 * time.Second

// Loop is the Health Loop. Construct one per orchestrator process.
type Loop struct {
	Store    core.Store
	Index    core.PendingIndex
	Registry *registry.Registry
	Clock    clock.Clock
	Logger   logrus.FieldLogger

	// Period overrides DefaultPeriod when nonzero.
	Period time.Duration

	// Wake triggers an Assignment Engine pass after repairs.
	Wake func()
}

func (l *Loop) logger() logrus.FieldLogger {
	if l.Logger != nil {
		return l.Logger
	}
	return logrus.StandardLogger()
}

// Run drives the periodic tick until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	period := l.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := l.Clock.Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce()
		}
	}
}

// RunOnce performs one Health Loop pass: reap stale workers, release
// orphaned planets, then reconcile index drift.
func (l *Loop) RunOnce() {
	now := l.Clock.Now()

	l.reapWorkers(now)
	l.reapOrphanedPlanets(now)
	l.reconcileIndex(now)

	if l.Wake != nil {
		l.Wake()
	}
}

// reapWorkers performs stale-heartbeat escalation to not_responding,
// then to offline with orphan release.
func (l *Loop) reapWorkers(now time.Time) {
	workers, err := l.Store.ListWorkers()
	if err != nil {
		l.logger().WithError(err).Error("health loop: failed to list workers")
		return
	}

	for _, w := range workers {
		if w.Status == core.Offline {
			continue
		}
		silence := now.Sub(w.LastHeartbeat)
		if silence < staleAfter {
			continue
		}
		if silence < offlineAfter {
			if w.Status != core.NotResponding {
				w.Status = core.NotResponding
				if err := l.Store.UpsertWorker(w); err == nil {
					l.Registry.SetStatus(w.ServerID, core.NotResponding)
					l.logger().WithField("server_id", w.ServerID).Warn("worker not responding")
				}
			}
			continue
		}

		// silence >= offlineAfter: mark offline, tear down the
		// session, and release any in-flight planet.
		if session, ok := l.Registry.Get(w.ServerID); ok {
			session.Close()
		}
		l.Registry.Detach(w.ServerID)

		task := w.CurrentTask
		w.Status = core.Offline
		w.CurrentTask = ""
		w.DisconnectedAt = now
		if err := l.Store.UpsertWorker(w); err != nil {
			l.logger().WithError(err).WithField("server_id", w.ServerID).Error("failed to mark worker offline")
			continue
		}
		l.logger().WithField("server_id", w.ServerID).Warn("worker offline, silence exceeded 60s")

		if task != "" {
			l.releaseOrphan(task, w.ServerID, now)
		}
	}
}

// reapOrphanedPlanets catches a planet still processing against a
// worker that is offline (released at once, whatever the silence) or
// has been not_responding with over 60s of silence, even if the worker scan above already handled the common case; this
// covers planets left behind by a worker row that was deleted or
// otherwise desynced from its task pointer.
func (l *Loop) reapOrphanedPlanets(now time.Time) {
	planets, err := l.Store.ListPlanetsByStatus(core.Processing)
	if err != nil {
		l.logger().WithError(err).Error("health loop: failed to list processing planets")
		return
	}
	for _, p := range planets {
		w, err := l.Store.GetWorker(p.ProcessingServerID)
		if err != nil {
			// Worker row is gone entirely; treat as orphaned.
			l.releaseOrphan(p.PlanetID, p.ProcessingServerID, now)
			continue
		}
		if w.Status == core.Offline {
			l.releaseOrphan(p.PlanetID, p.ProcessingServerID, now)
			continue
		}
		if w.Status == core.NotResponding && now.Sub(w.LastHeartbeat) > offlineAfter {
			l.releaseOrphan(p.PlanetID, p.ProcessingServerID, now)
		}
	}
}

// releaseOrphan restores a planet orphaned by a dead worker to queued
// (or error, if it already has retries outstanding) and re-indexes it
// immediately, then records a timeout TaskHistory row by mutating the
// open started row rather than appending a new one.
func (l *Loop) releaseOrphan(planetID, serverID string, now time.Time) {
	planet, err := l.Store.GetPlanet(planetID)
	if err != nil {
		return
	}
	if planet.Status != core.Processing || planet.ProcessingServerID != serverID {
		return // already reclaimed by a racing completion
	}

	planet.ProcessingServerID = ""
	if planet.ErrorRetryCount > 0 {
		planet.Status = core.Error
	} else {
		planet.Status = core.Queued
	}
	planet.NextRoundTime = now
	if err := l.Store.UpdatePlanet(planet); err != nil {
		return
	}
	l.Index.Put(planetID, now)

	if w, err := l.Store.GetWorker(serverID); err == nil {
		w.TotalFailed++
		_ = l.Store.UpsertWorker(w)
	}
	if err := l.Store.FinishAttempt(planetID, serverID, core.Timeout, now, "worker unreachable"); err != nil {
		l.logger().WithError(err).Warn("failed to record timeout attempt")
	}

	l.logger().WithField("planet_id", planetID).WithField("server_id", serverID).Warn("released orphaned planet")
}

// reconcileIndex treats the Index as a best-effort cache over Store
// rows with status in {queued, error}; repair drift in either
// direction every tick.
func (l *Loop) reconcileIndex(now time.Time) {
	eligible := make(map[string]time.Time)
	for _, status := range []core.PlanetStatus{core.Queued, core.Error} {
		planets, err := l.Store.ListPlanetsByStatus(status)
		if err != nil {
			l.logger().WithError(err).Error("health loop: failed to list planets for reconciliation")
			return
		}
		for _, p := range planets {
			eligible[p.PlanetID] = p.NextRoundTime
		}
	}

	indexed := make(map[string]bool)
	for _, id := range l.Index.Members() {
		indexed[id] = true
	}

	for id, due := range eligible {
		if !indexed[id] {
			l.Index.Put(id, due)
		}
	}
	for id := range indexed {
		if _, ok := eligible[id]; !ok {
			l.Index.Remove(id)
		}
	}
}
