// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package startup_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/startup"
)

func TestReconcileMarksWorkersOfflineAndRequeuesStuckPlanets(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Sub(clk.Now()))
	store := memstore.NewWithClock(clk)
	index := memstore.NewIndex()

	require.NoError(t, store.UpsertWorker(&core.Worker{ServerID: "w1", Status: core.Busy, CurrentTask: "p1", LastHeartbeat: clk.Now(), ConnectedAt: clk.Now()}))
	require.NoError(t, store.CreatePlanet(&core.Planet{PlanetID: "p1", NextRoundTime: clk.Now().Add(-time.Hour), Status: core.Processing, ProcessingServerID: "w1"}))
	require.NoError(t, store.CreatePlanet(&core.Planet{PlanetID: "p2", NextRoundTime: clk.Now().Add(time.Hour), Status: core.Queued}))

	require.NoError(t, startup.Reconcile(store, index, clk, logrus.StandardLogger()))

	w, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, core.Offline, w.Status)
	assert.Equal(t, "", w.CurrentTask)

	p1, err := store.GetPlanet("p1")
	require.NoError(t, err)
	assert.Equal(t, core.Queued, p1.Status)
	assert.Equal(t, "", p1.ProcessingServerID)
	assert.True(t, p1.NextRoundTime.Equal(clk.Now()))

	assert.Equal(t, 2, index.Size())
	members := index.Members()
	assert.Contains(t, members, "p1")
	assert.Contains(t, members, "p2")
}

func TestReconcileIsIdempotentOnAlreadyCleanState(t *testing.T) {
	clk := clock.NewMock()
	store := memstore.NewWithClock(clk)
	index := memstore.NewIndex()

	require.NoError(t, startup.Reconcile(store, index, clk, nil))
	require.NoError(t, startup.Reconcile(store, index, clk, nil))
	assert.Equal(t, 0, index.Size())
}
