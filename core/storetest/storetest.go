// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package storetest is a backend-conformance suite for core.Store: a
// single Suite struct whose test methods run, unmodified, against any
// Store implementation a concrete _test.go wires in.
package storetest

import (
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/check.v1"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// Suite holds the Store (and its Clock, if the implementation uses an
// injectable one) under test. A concrete package registers this with
// check.Suite(&storetest.Suite{Store: ..., Clock: ...}).
type Suite struct {
	Store core.Store
	Clock clock.Clock
}

func (s *Suite) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

// TestCreateGetPlanet covers basic create/get round-tripping and
// duplicate-id rejection.
func (s *Suite) TestCreateGetPlanet(c *check.C) {
	now := s.now()
	p := &core.Planet{PlanetID: "p1", SeasonID: 1, NextRoundTime: now, Status: core.Queued}
	c.Assert(s.Store.CreatePlanet(p), check.IsNil)
	c.Check(p.Version, check.Not(check.Equals), int64(0))

	got, err := s.Store.GetPlanet("p1")
	c.Assert(err, check.IsNil)
	c.Check(got.PlanetID, check.Equals, "p1")
	c.Check(got.SeasonID, check.Equals, 1)
	c.Check(got.Status, check.Equals, core.Queued)

	dup := &core.Planet{PlanetID: "p1", SeasonID: 2, NextRoundTime: now}
	c.Check(s.Store.CreatePlanet(dup), check.Equals, core.ErrPlanetExists)
}

// TestGetMissingPlanet covers the ErrNoSuchPlanet path.
func (s *Suite) TestGetMissingPlanet(c *check.C) {
	_, err := s.Store.GetPlanet("does-not-exist")
	c.Assert(err, check.FitsTypeOf, core.ErrNoSuchPlanet{})
}

// TestUpdatePlanetOptimisticConcurrency covers the Version-keyed
// conflict check the Assignment Engine depends on.
func (s *Suite) TestUpdatePlanetOptimisticConcurrency(c *check.C) {
	now := s.now()
	p := &core.Planet{PlanetID: "p2", SeasonID: 1, NextRoundTime: now, Status: core.Queued}
	c.Assert(s.Store.CreatePlanet(p), check.IsNil)

	stale := &core.Planet{PlanetID: "p2", Version: p.Version}
	p.Status = core.Processing
	p.ProcessingServerID = "w1"
	c.Assert(s.Store.UpdatePlanet(p), check.IsNil)

	stale.Status = core.Error
	c.Check(s.Store.UpdatePlanet(stale), check.Equals, core.ErrConflict)
}

// TestDeletePlanetWhileProcessing covers that delete is refused
// mid-flight, and succeeds once the planet is no longer processing.
func (s *Suite) TestDeletePlanetWhileProcessing(c *check.C) {
	now := s.now()
	p := &core.Planet{PlanetID: "p3", SeasonID: 1, NextRoundTime: now, Status: core.Processing, ProcessingServerID: "w1"}
	c.Assert(s.Store.CreatePlanet(p), check.IsNil)

	c.Check(s.Store.DeletePlanet("p3"), check.Equals, core.ErrPlanetProcessing)

	got, err := s.Store.GetPlanet("p3")
	c.Assert(err, check.IsNil)
	got.Status = core.Queued
	got.ProcessingServerID = ""
	c.Assert(s.Store.UpdatePlanet(got), check.IsNil)

	c.Assert(s.Store.DeletePlanet("p3"), check.IsNil)
	_, err = s.Store.GetPlanet("p3")
	c.Check(err, check.FitsTypeOf, core.ErrNoSuchPlanet{})
}

// TestListPlanetsByStatus covers the status-filtered listing the
// Health Loop and Startup Reconciler rely on.
func (s *Suite) TestListPlanetsByStatus(c *check.C) {
	now := s.now()
	c.Assert(s.Store.CreatePlanet(&core.Planet{PlanetID: "ls1", NextRoundTime: now, Status: core.Queued}), check.IsNil)
	c.Assert(s.Store.CreatePlanet(&core.Planet{PlanetID: "ls2", NextRoundTime: now, Status: core.Processing, ProcessingServerID: "w1"}), check.IsNil)

	queued, err := s.Store.ListPlanetsByStatus(core.Queued)
	c.Assert(err, check.IsNil)
	found := false
	for _, p := range queued {
		if p.PlanetID == "ls1" {
			found = true
		}
		c.Check(p.Status, check.Equals, core.Queued)
	}
	c.Check(found, check.Equals, true)
}

// TestUpsertWorkerCreateAndUpdate covers worker creation (Version ==
// 0 inserts) then a conditional update.
func (s *Suite) TestUpsertWorkerCreateAndUpdate(c *check.C) {
	now := s.now()
	w := &core.Worker{ServerID: "w-a", ServerIP: "10.0.0.1", Status: core.NotInitialized, LastHeartbeat: now, ConnectedAt: now}
	c.Assert(s.Store.UpsertWorker(w), check.IsNil)
	c.Check(w.Version, check.Not(check.Equals), int64(0))

	w.Status = core.Idle
	c.Assert(s.Store.UpsertWorker(w), check.IsNil)

	got, err := s.Store.GetWorker("w-a")
	c.Assert(err, check.IsNil)
	c.Check(got.Status, check.Equals, core.Idle)
}

// TestGetMissingWorker covers the ErrNoSuchWorker path.
func (s *Suite) TestGetMissingWorker(c *check.C) {
	_, err := s.Store.GetWorker("nope")
	c.Assert(err, check.FitsTypeOf, core.ErrNoSuchWorker{})
}

// TestAttemptHistoryReusesRowOnRetry covers that a second StartAttempt
// for the same (planet, worker) pair after a Failed FinishAttempt
// reuses the row rather than appending.
func (s *Suite) TestAttemptHistoryReusesRowOnRetry(c *check.C) {
	now := s.now()
	id1, err := s.Store.StartAttempt("hp1", "hw1", now)
	c.Assert(err, check.IsNil)

	c.Assert(s.Store.FinishAttempt("hp1", "hw1", core.Failed, now.Add(time.Second), "boom"), check.IsNil)

	id2, err := s.Store.StartAttempt("hp1", "hw1", now.Add(2*time.Second))
	c.Assert(err, check.IsNil)
	c.Check(id2, check.Equals, id1)

	rows, err := s.Store.TaskHistoryFor("hp1")
	c.Assert(err, check.IsNil)
	c.Check(len(rows), check.Equals, 1)
	c.Check(rows[0].Status, check.Equals, core.Started)
	c.Check(rows[0].ErrorMessage, check.Equals, "")
}

// TestOpenAttempt covers the lookup the Completion Handler and Health
// Loop use to find the in-flight row for a (planet, worker) pair.
func (s *Suite) TestOpenAttempt(c *check.C) {
	now := s.now()
	_, err := s.Store.StartAttempt("oa1", "ow1", now)
	c.Assert(err, check.IsNil)

	open, err := s.Store.OpenAttempt("oa1", "ow1")
	c.Assert(err, check.IsNil)
	c.Assert(open, check.NotNil)
	c.Check(open.Status, check.Equals, core.Started)

	c.Assert(s.Store.FinishAttempt("oa1", "ow1", core.Completed, now.Add(time.Second), ""), check.IsNil)
	open, err = s.Store.OpenAttempt("oa1", "ow1")
	c.Assert(err, check.IsNil)
	c.Check(open, check.IsNil)
}
