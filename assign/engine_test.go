// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package assign_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alamin-khalid/planet-orchestrator/assign"
	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

type recordingSession struct {
	serverID  string
	assigned  []string
	queueFull bool
}

func (s *recordingSession) ServerID() string { return s.serverID }

func (s *recordingSession) SendAssignJob(planetID string, seasonID, roundID int) error {
	if s.queueFull {
		return core.ErrQueueFull
	}
	s.assigned = append(s.assigned, planetID)
	return nil
}

func (s *recordingSession) SendCommand(string, map[string]interface{}) error { return nil }
func (s *recordingSession) Close()                                          {}

func newFixture(t *testing.T) (*memstore.Store, *memstore.Index, *registry.Registry, *clock.Mock) {
	clk := clock.NewMock()
	clk.Add(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Sub(clk.Now()))
	return memstore.NewWithClock(clk), memstore.NewIndex(), registry.New(), clk
}

func attachIdleWorker(t *testing.T, store *memstore.Store, reg *registry.Registry, clk *clock.Mock, serverID string) *recordingSession {
	w := &core.Worker{ServerID: serverID, Status: core.Idle, LastHeartbeat: clk.Now(), ConnectedAt: clk.Now()}
	require.NoError(t, store.UpsertWorker(w))
	sess := &recordingSession{serverID: serverID}
	reg.Attach(serverID, sess, core.Idle, 0, clk.Now().UnixNano())
	return sess
}

func createDuePlanet(t *testing.T, store *memstore.Store, index *memstore.Index, clk *clock.Mock, planetID string) {
	p := &core.Planet{PlanetID: planetID, SeasonID: 1, NextRoundTime: clk.Now(), Status: core.Queued}
	require.NoError(t, store.CreatePlanet(p))
	index.Put(planetID, clk.Now())
}

func TestRunOnceAssignsDuePlanetToIdleWorker(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	sess := attachIdleWorker(t, store, reg, clk, "w1")
	createDuePlanet(t, store, index, clk, "p1")

	e := assign.New(store, index, reg, clk, nil)
	e.RunOnce()

	assert.Equal(t, []string{"p1"}, sess.assigned)

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Processing, p.Status)
	assert.Equal(t, "w1", p.ProcessingServerID)

	w, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, core.Busy, w.Status)
	assert.Equal(t, "p1", w.CurrentTask)
	assert.Equal(t, 1, w.TotalAssigned)

	assert.Equal(t, 0, index.Size())

	open, err := store.OpenAttempt("p1", "w1")
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestRunOnceLeavesSurplusPlanetQueued(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	sess := attachIdleWorker(t, store, reg, clk, "w1")
	createDuePlanet(t, store, index, clk, "pA")
	createDuePlanet(t, store, index, clk, "pB")

	e := assign.New(store, index, reg, clk, nil)
	e.RunOnce()

	require.Len(t, sess.assigned, 1)
	assigned := sess.assigned[0]
	other := "pA"
	if assigned == "pA" {
		other = "pB"
	}

	p, err := store.GetPlanet(other)
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p.Status)
	assert.Equal(t, 1, index.Size())
}

func TestRunOnceNoIdleWorkersIsNoop(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	createDuePlanet(t, store, index, clk, "p1")

	e := assign.New(store, index, reg, clk, nil)
	e.RunOnce()

	assert.Equal(t, 1, index.Size())
}

func TestRunOnceOutboundQueueFullAbortsAssignment(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	w := &core.Worker{ServerID: "w1", Status: core.Idle, LastHeartbeat: clk.Now(), ConnectedAt: clk.Now()}
	require.NoError(t, store.UpsertWorker(w))
	sess := &recordingSession{serverID: "w1", queueFull: true}
	reg.Attach("w1", sess, core.Idle, 0, clk.Now().UnixNano())
	createDuePlanet(t, store, index, clk, "p1")

	e := assign.New(store, index, reg, clk, nil)
	e.RunOnce()

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p.Status, "planet must stay queued when the outbound queue is full")
	assert.Equal(t, 1, index.Size(), "planet remains in the index for the health loop to reclaim")
}

func TestRunOnceSkipsNotYetDuePlanets(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	attachIdleWorker(t, store, reg, clk, "w1")

	p := &core.Planet{PlanetID: "future", SeasonID: 1, NextRoundTime: clk.Now().Add(time.Hour), Status: core.Queued}
	require.NoError(t, store.CreatePlanet(p))
	index.Put("future", clk.Now().Add(time.Hour))

	e := assign.New(store, index, reg, clk, nil)
	e.RunOnce()

	got, err := store.GetPlanet("future")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, got.Status)
}

func TestWakeCoalescesRedundantSignals(t *testing.T) {
	store, index, reg, clk := newFixture(t)
	e := assign.New(store, index, reg, clk, nil)
	// Wake before Run starts should not block or panic, and repeated
	// calls must coalesce into a single buffered signal.
	e.Wake()
	e.Wake()
	e.Wake()
}
