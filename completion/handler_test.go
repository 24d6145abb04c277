// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package completion_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alamin-khalid/planet-orchestrator/completion"
	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/proto"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

type noopSession struct{ serverID string }

func (s *noopSession) ServerID() string                                    { return s.serverID }
func (s *noopSession) SendAssignJob(string, int, int) error                { return nil }
func (s *noopSession) SendCommand(string, map[string]interface{}) error    { return nil }
func (s *noopSession) Close()                                              {}

func newHandler(t *testing.T) (*completion.Handler, *memstore.Store, *memstore.Index, *clock.Mock, *int) {
	clk := clock.NewMock()
	clk.Add(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Sub(clk.Now()))
	store := memstore.NewWithClock(clk)
	index := memstore.NewIndex()
	reg := registry.New()
	wakes := 0

	h := &completion.Handler{Store: store, Index: index, Registry: reg, Clock: clk, Wake: func() { wakes++ }}
	return h, store, index, clk, &wakes
}

func processingFixture(t *testing.T, store *memstore.Store, reg *registry.Registry, clk *clock.Mock, planetID, serverID string) {
	require.NoError(t, store.UpsertWorker(&core.Worker{ServerID: serverID, Status: core.Busy, CurrentTask: planetID, LastHeartbeat: clk.Now(), ConnectedAt: clk.Now()}))
	reg.Attach(serverID, &noopSession{serverID}, core.Busy, 0, clk.Now().UnixNano())
	require.NoError(t, store.CreatePlanet(&core.Planet{PlanetID: planetID, SeasonID: 1, RoundID: 3, NextRoundTime: clk.Now(), Status: core.Processing, ProcessingServerID: serverID}))
	_, err := store.StartAttempt(planetID, serverID, clk.Now())
	require.NoError(t, err)
}

func TestJobDoneAdvancesRoundAndRequeues(t *testing.T) {
	h, store, index, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	next := clk.Now().Add(time.Minute)
	require.NoError(t, h.JobDone("w1", &proto.JobDone{PlanetID: "p1", NextRoundTime: next}))

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p.Status)
	assert.Equal(t, 1, p.CurrentRoundNumber)
	assert.Equal(t, 4, p.RoundID)
	assert.Equal(t, "", p.ProcessingServerID)
	assert.Equal(t, 0, p.ErrorRetryCount)
	assert.True(t, p.NextRoundTime.Equal(next))

	w, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, core.Idle, w.Status)
	assert.Equal(t, "", w.CurrentTask)
	assert.Equal(t, 1, w.TotalCompleted)

	due, ok := index.PeekNext()
	require.True(t, ok)
	assert.Equal(t, "p1", due.PlanetID)

	rows, err := store.TaskHistoryFor("p1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, core.Completed, rows[0].Status)
}

func TestJobDoneResetsRetryCount(t *testing.T) {
	h, store, _, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	p.ErrorRetryCount = 3
	require.NoError(t, store.UpdatePlanet(p))

	require.NoError(t, h.JobDone("w1", &proto.JobDone{PlanetID: "p1", NextRoundTime: clk.Now().Add(time.Minute)}))

	got, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorRetryCount)
}

func TestJobDoneDropsStaleCompletion(t *testing.T) {
	h, store, _, clk, wakes := newHandler(t)
	// p1 is processing on w2, not w1: a completion from w1 is stale.
	processingFixture(t, store, h.Registry, clk, "p1", "w2")

	require.NoError(t, h.JobDone("w1", &proto.JobDone{PlanetID: "p1", NextRoundTime: clk.Now()}))

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Processing, p.Status, "stale completion must not mutate the planet")
	assert.Equal(t, 0, *wakes)
}

func TestJobSkippedReturnsToQueueWithoutCompletionCredit(t *testing.T) {
	h, store, index, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	next := clk.Now().Add(30 * time.Second)
	require.NoError(t, h.JobSkipped("w1", &proto.JobSkipped{PlanetID: "p1", NextRoundTime: next, Reason: "no map loaded"}))

	w, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, core.Idle, w.Status)
	assert.Equal(t, 0, w.TotalCompleted)

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p.Status)
	assert.True(t, p.NextRoundTime.Equal(next))

	due, ok := index.PeekNext()
	require.True(t, ok)
	assert.Equal(t, "p1", due.PlanetID)

	rows, err := store.TaskHistoryFor("p1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, core.Completed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "no map loaded")
}

func TestJobErrorBacksOffExponentially(t *testing.T) {
	h, store, index, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	expectedBackoffSeconds := []int{1, 2, 4, 8, 16}
	for i, wantBackoff := range expectedBackoffSeconds {
		// Re-assign p1 to w1 for the next attempt, as the Assignment
		// Engine would between errors.
		p, err := store.GetPlanet("p1")
		require.NoError(t, err)
		p.Status = core.Processing
		p.ProcessingServerID = "w1"
		require.NoError(t, store.UpdatePlanet(p))

		require.NoError(t, h.JobError("w1", &proto.ErrorFrame{PlanetID: "p1", Error: "boom"}))

		got, err := store.GetPlanet("p1")
		require.NoError(t, err)
		assert.Equal(t, core.Error, got.Status)
		assert.Equal(t, i+1, got.ErrorRetryCount)

		want := clk.Now().Add(time.Duration(wantBackoff) * time.Second)
		assert.True(t, got.NextRoundTime.Equal(want), "attempt %d: got due %v want %v", i+1, got.NextRoundTime, want)

		due, ok := index.PeekNext()
		require.True(t, ok)
		assert.Equal(t, "p1", due.PlanetID)
	}

	// Sixth failure resets the counter and schedules a 30s cooldown.
	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	p.Status = core.Processing
	p.ProcessingServerID = "w1"
	require.NoError(t, store.UpdatePlanet(p))

	require.NoError(t, h.JobError("w1", &proto.ErrorFrame{PlanetID: "p1", Error: "boom"}))
	got, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ErrorRetryCount)
	assert.True(t, got.NextRoundTime.Equal(clk.Now().Add(30*time.Second)))

	w, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, 6, w.TotalFailed)
}

func TestJobErrorBackoffNeverPrecedesScheduledRoundTime(t *testing.T) {
	h, store, _, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	far := clk.Now().Add(time.Hour)
	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	p.NextRoundTime = far
	require.NoError(t, store.UpdatePlanet(p))

	require.NoError(t, h.JobError("w1", &proto.ErrorFrame{PlanetID: "p1", Error: "boom"}))

	got, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.True(t, got.NextRoundTime.Equal(far), "backoff must never advance past the scheduled round time")
}

func TestJobErrorFallsBackToWorkerCurrentTaskWhenPlanetIDOmitted(t *testing.T) {
	h, store, _, clk, _ := newHandler(t)
	processingFixture(t, store, h.Registry, clk, "p1", "w1")

	require.NoError(t, h.JobError("w1", &proto.ErrorFrame{Error: "no planet id"}))

	p, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ErrorRetryCount)
}
