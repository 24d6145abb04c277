// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/httpapi"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/orchestrator"
)

func newTestAPI(t *testing.T) (http.Handler, *orchestrator.Orchestrator, *clock.Mock) {
	clk := clock.NewMock()
	clk.Add(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Sub(clk.Now()))
	store := memstore.New()
	index := memstore.NewIndex()
	o := orchestrator.New(store, index, clk, nil, orchestrator.Config{})
	require.NoError(t, o.Reconcile())
	return httpapi.NewRouter(o, nil), o, clk
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreatePlanetThenDuplicateConflicts(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"planet_id": "p1", "season_id": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"planet_id": "p1", "season_id": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePlanetAcceptsMapIDAlias(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"map_id": "p1", "season_id": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreatePlanetRejectsMissingID(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"season_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlanetRejectsBadCharset(t *testing.T) {
	h, _, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"planet_id": "bad id!", "season_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueReflectsCreatedPlanet(t *testing.T) {
	h, _, _ := newTestAPI(t)
	doJSON(t, h, http.MethodPost, "/planet/create", map[string]interface{}{"planet_id": "p1", "season_id": 1})

	rec := doJSON(t, h, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		QueueSize     int        `json:"queue_size"`
		NextDueTime   *time.Time `json:"next_due_time"`
		QueuedPlanets int        `json:"queued_planets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.QueueSize)
	assert.Equal(t, 1, resp.QueuedPlanets)
	require.NotNil(t, resp.NextDueTime)
	assert.False(t, resp.NextDueTime.After(time.Now().Add(time.Hour)))
}

func TestRemovePlanetNotFound(t *testing.T) {
	h, _, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodDelete, "/planet/remove/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemovePlanetConflictWhileProcessing(t *testing.T) {
	h, o, _ := newTestAPI(t)
	_, err := o.CreatePlanet("p1", 1, 0, 0)
	require.NoError(t, err)

	p, err := o.Store.GetPlanet("p1")
	require.NoError(t, err)
	p.Status = core.Processing
	p.ProcessingServerID = "w1"
	require.NoError(t, o.Store.UpdatePlanet(p))

	rec := doJSON(t, h, http.MethodDelete, "/planet/remove/p1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestForceAssignReturnsOK(t *testing.T) {
	h, _, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodPost, "/force-assign", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandReturnsNotFoundWithoutLiveSession(t *testing.T) {
	h, _, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodPost, "/command", map[string]interface{}{"server_id": "w1", "action": "reload"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetServersEmpty(t *testing.T) {
	h, _, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/servers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetServerNotFound(t *testing.T) {
	h, _, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/server/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
