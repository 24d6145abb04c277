// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package completion implements the Completion Handler: it processes
// job_done, job_skipped, and error frames (or their HTTP fallback via
// POST /result), updating planet, worker, and task history state and
// re-queueing as appropriate.
package completion

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/proto"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

// maxRetries is the retry budget: reaching 6 failures resets the
// counter to 0 and schedules a 30s cooldown.
const maxRetries = 5

// cooldownAfterReset is the wait imposed once the retry budget is
// exhausted and reset.
const cooldownAfterReset = 30 * time.Second

// Handler is the Completion Handler. Construct one per orchestrator
// process.
type Handler struct {
	Store    core.Store
	Index    core.PendingIndex
	Registry *registry.Registry
	Clock    clock.Clock
	Logger   logrus.FieldLogger

	// Wake is called whenever a worker is returned to idle (on every
	// success, skip, or error), and once more after a success or skip
	// whose new due time is already <= now, so the Assignment Engine
	// does not have to wait for its next tick.
	Wake func()
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Logger != nil {
		return h.Logger
	}
	return logrus.StandardLogger()
}

// validate looks up the planet and checks that it is actually
// assigned to the reporting worker. A mismatch is a logic-guard
// condition: log and drop, no side effects.
func (h *Handler) validate(serverID, planetID string) (*core.Planet, error) {
	planet, err := h.Store.GetPlanet(planetID)
	if err != nil {
		return nil, err
	}
	if planet.Status != core.Processing || planet.ProcessingServerID != serverID {
		return nil, core.ErrNotProcessing
	}
	return planet, nil
}

// JobDone implements the success path.
func (h *Handler) JobDone(serverID string, f *proto.JobDone) error {
	log := h.logger().WithField("planet_id", f.PlanetID).WithField("server_id", serverID)

	planet, err := h.validate(serverID, f.PlanetID)
	if err != nil {
		log.WithError(err).Debug("dropping stale job_done")
		return nil
	}

	now := h.Clock.Now()
	planet.CurrentRoundNumber++
	planet.RoundID++
	planet.NextRoundTime = f.NextRoundTime
	planet.Status = core.Queued
	planet.ProcessingServerID = ""
	planet.LastProcessed = now
	planet.ErrorRetryCount = 0
	if err := h.Store.UpdatePlanet(planet); err != nil {
		return err
	}
	h.Index.Put(planet.PlanetID, f.NextRoundTime)

	if err := h.completeWorker(serverID, true, now); err != nil {
		return err
	}
	if err := h.Store.FinishAttempt(f.PlanetID, serverID, core.Completed, now, ""); err != nil {
		log.WithError(err).Warn("failed to close task history row")
	}

	h.nudgeIfDue(f.NextRoundTime, now)
	log.Info("planet completed")
	return nil
}

// JobSkipped implements the skip path: the worker returns to idle but
// earns no completion credit.
func (h *Handler) JobSkipped(serverID string, f *proto.JobSkipped) error {
	log := h.logger().WithField("planet_id", f.PlanetID).WithField("server_id", serverID)

	planet, err := h.validate(serverID, f.PlanetID)
	if err != nil {
		log.WithError(err).Debug("dropping stale job_skipped")
		return nil
	}

	now := h.Clock.Now()
	planet.Status = core.Queued
	planet.ProcessingServerID = ""
	planet.NextRoundTime = f.NextRoundTime
	if err := h.Store.UpdatePlanet(planet); err != nil {
		return err
	}
	h.Index.Put(planet.PlanetID, f.NextRoundTime)

	if err := h.completeWorker(serverID, false, now); err != nil {
		return err
	}

	// The skip handler marks the history row completed, with an
	// explanatory error_message, for queryability, rather than
	// leaving it started.
	msg := "skipped"
	if f.Reason != "" {
		msg = "skipped: " + f.Reason
	}
	if err := h.Store.FinishAttempt(f.PlanetID, serverID, core.Completed, now, msg); err != nil {
		log.WithError(err).Warn("failed to close task history row")
	}

	h.nudgeIfDue(f.NextRoundTime, now)
	log.Info("planet skipped")
	return nil
}

// JobError implements the failure path with bounded exponential
// backoff.
func (h *Handler) JobError(serverID string, f *proto.ErrorFrame) error {
	planetID := f.PlanetID
	log := h.logger().WithField("planet_id", planetID).WithField("server_id", serverID)

	var planet *core.Planet
	var err error
	if planetID != "" {
		planet, err = h.validate(serverID, planetID)
		if err != nil {
			log.WithError(err).Debug("dropping stale error frame")
			return nil
		}
	} else {
		// No planet_id supplied: fall back to whatever this worker
		// believes it is processing.
		w, werr := h.Store.GetWorker(serverID)
		if werr != nil || w.CurrentTask == "" {
			log.Debug("error frame with no planet_id and no current task, dropping")
			return nil
		}
		planetID = w.CurrentTask
		planet, err = h.validate(serverID, planetID)
		if err != nil {
			log.WithError(err).Debug("dropping stale error frame")
			return nil
		}
	}

	now := h.Clock.Now()
	planet.ErrorRetryCount++
	planet.ProcessingServerID = ""

	var newDue time.Time
	if planet.ErrorRetryCount <= maxRetries {
		backoff := time.Duration(1<<(planet.ErrorRetryCount-1)) * time.Second
		candidate := now.Add(backoff)
		if planet.NextRoundTime.After(candidate) {
			newDue = planet.NextRoundTime
		} else {
			newDue = candidate
		}
	} else {
		planet.ErrorRetryCount = 0
		newDue = now.Add(cooldownAfterReset)
	}
	planet.Status = core.Error
	planet.NextRoundTime = newDue
	if err := h.Store.UpdatePlanet(planet); err != nil {
		return err
	}
	h.Index.Put(planet.PlanetID, newDue)

	if err := h.releaseFailedWorker(serverID); err != nil {
		return err
	}

	if err := h.Store.FinishAttempt(planetID, serverID, core.Failed, now, f.Error); err != nil {
		log.WithError(err).Warn("failed to close task history row")
	}

	log.WithField("retry_count", planet.ErrorRetryCount).WithField("next_due", newDue).Warn("planet attempt failed")
	return nil
}

// completeWorker returns a worker to idle, crediting completion count
// only on success.
func (h *Handler) completeWorker(serverID string, credit bool, now time.Time) error {
	w, err := h.Store.GetWorker(serverID)
	if err != nil {
		return err
	}
	w.Status = core.Idle
	w.CurrentTask = ""
	if credit {
		w.TotalCompleted++
	}
	if err := h.Store.UpsertWorker(w); err != nil {
		return err
	}
	h.Registry.SetStatus(serverID, core.Idle)
	h.Registry.SetCompleted(serverID, w.TotalCompleted)
	if h.Wake != nil {
		h.Wake()
	}
	return nil
}

// releaseFailedWorker returns a worker to idle and credits a failure,
// in one Store write (the success/skip paths use completeWorker
// instead, since they never touch TotalFailed).
func (h *Handler) releaseFailedWorker(serverID string) error {
	w, err := h.Store.GetWorker(serverID)
	if err != nil {
		return err
	}
	w.Status = core.Idle
	w.CurrentTask = ""
	w.TotalFailed++
	if err := h.Store.UpsertWorker(w); err != nil {
		return err
	}
	h.Registry.SetStatus(serverID, core.Idle)
	h.Registry.SetCompleted(serverID, w.TotalCompleted)
	if h.Wake != nil {
		h.Wake()
	}
	return nil
}

func (h *Handler) nudgeIfDue(due time.Time, now time.Time) {
	if h.Wake != nil && !due.After(now) {
		h.Wake()
	}
}
