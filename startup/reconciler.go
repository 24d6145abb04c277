// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package startup implements the Startup Reconciler: a one-shot repair
// that runs once before the Health Loop and Assignment Engine begin,
// so a restarted orchestrator never trusts in-memory Registry or
// session state left over from before the restart.
package startup

import (
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// Reconcile marks every worker offline, clears their current task,
// moves every processing planet back to queued, and rebuilds the
// Pending-Due Index from the Store. It must run before any session
// accepts connections and before the Assignment Engine or Health Loop
// start ticking.
func Reconcile(store core.Store, index core.PendingIndex, clk clock.Clock, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := clk.Now()

	workers, err := store.ListWorkers()
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.Status == core.Offline && w.CurrentTask == "" {
			continue
		}
		w.Status = core.Offline
		w.CurrentTask = ""
		w.DisconnectedAt = now
		if err := store.UpsertWorker(w); err != nil {
			return err
		}
	}
	log.WithField("count", len(workers)).Info("startup reconciler: workers marked offline")

	processing, err := store.ListPlanetsByStatus(core.Processing)
	if err != nil {
		return err
	}
	for _, p := range processing {
		p.Status = core.Queued
		p.ProcessingServerID = ""
		p.NextRoundTime = now
		if err := store.UpdatePlanet(p); err != nil {
			return err
		}
	}
	log.WithField("count", len(processing)).Info("startup reconciler: stuck planets requeued")

	for _, status := range []core.PlanetStatus{core.Queued, core.Error} {
		planets, err := store.ListPlanetsByStatus(status)
		if err != nil {
			return err
		}
		for _, p := range planets {
			index.Put(p.PlanetID, p.NextRoundTime)
		}
	}
	log.WithField("indexed", index.Size()).Info("startup reconciler: pending-due index rebuilt")

	return nil
}
