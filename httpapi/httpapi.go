// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package httpapi is the thin administrative HTTP adapter. It is not
// part of the core: every handler here does nothing but decode a
// request, call one orchestrator.Orchestrator method, and encode the
// result. It carries no authentication or authorization of its own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jtacoma/uritemplates"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/orchestrator"
)

// API holds the persistent state for the administrative HTTP surface.
type API struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       logrus.FieldLogger
}

// NewRouter builds the full negroni-wrapped handler: recovery and
// request logging middleware around a gorilla/mux router.
func NewRouter(o *orchestrator.Orchestrator, log logrus.FieldLogger) http.Handler {
	api := &API{Orchestrator: o, Logger: log}

	r := mux.NewRouter()
	r.HandleFunc("/planet/create", api.createPlanet).Methods(http.MethodPost).Name("planet-create")
	r.HandleFunc("/planet/remove/{planet_id}", api.removePlanet).Methods(http.MethodDelete).Name("planet-remove")
	r.HandleFunc("/result", api.result).Methods(http.MethodPost).Name("result")
	r.HandleFunc("/force-assign", api.forceAssign).Methods(http.MethodPost).Name("force-assign")
	r.HandleFunc("/command", api.command).Methods(http.MethodPost).Name("command")
	r.HandleFunc("/queue", api.queue).Methods(http.MethodGet).Name("queue")
	r.HandleFunc("/server/{server_id}", api.getServer).Methods(http.MethodGet).Name("server")
	r.HandleFunc("/servers", api.getServers).Methods(http.MethodGet).Name("servers")
	// Workers dial with and without the trailing slash; register both
	// rather than redirecting, since websocket dialers do not follow
	// redirects.
	r.HandleFunc("/ws/server/{server_id}", api.wsConnect).Name("ws-connect")
	r.HandleFunc("/ws/server/{server_id}/", api.wsConnect)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(r)
	return n
}

func (api *API) logger() logrus.FieldLogger {
	if api.Logger != nil {
		return api.Logger
	}
	return logrus.StandardLogger()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// createPlanetRequest is decoded twice: once by json.Unmarshal into a
// loosely typed map (to tolerate the "planet_id|map_id" alias left
// over from the legacy worker fleet), then by mapstructure into the
// typed request.
type createPlanetRequest struct {
	PlanetID           string `mapstructure:"planet_id"`
	SeasonID           int    `mapstructure:"season_id"`
	RoundID            int    `mapstructure:"round_id"`
	CurrentRoundNumber int    `mapstructure:"current_round_number"`
}

func (api *API) createPlanet(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if raw["planet_id"] == nil && raw["map_id"] != nil {
		raw["planet_id"] = raw["map_id"]
	}

	var req createPlanetRequest
	if err := mapstructure.Decode(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlanetID == "" {
		writeError(w, http.StatusBadRequest, "planet_id is required")
		return
	}

	p, err := api.Orchestrator.CreatePlanet(req.PlanetID, req.SeasonID, req.RoundID, req.CurrentRoundNumber)
	if err != nil {
		switch err {
		case core.ErrPlanetExists:
			writeError(w, http.StatusConflict, err.Error())
		default:
			if _, ok := err.(core.ErrInvalidPlanetID); ok {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			api.logger().WithError(err).Error("create planet failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if loc, err := selfLink("/planet/{planet_id}", map[string]interface{}{"planet_id": p.PlanetID}); err == nil {
		w.Header().Set("Location", loc)
	}
	writeJSON(w, http.StatusCreated, p)
}

// selfLink expands a URI template (RFC 6570), used here to build
// response Location headers.
func selfLink(template string, vars map[string]interface{}) (string, error) {
	tmpl, err := uritemplates.Parse(template)
	if err != nil {
		return "", err
	}
	return tmpl.Expand(vars)
}

func (api *API) removePlanet(w http.ResponseWriter, r *http.Request) {
	planetID := mux.Vars(r)["planet_id"]
	err := api.Orchestrator.RemovePlanet(planetID)
	switch e := err.(type) {
	case nil:
		writeJSON(w, http.StatusOK, nil)
	case core.ErrNoSuchPlanet:
		writeError(w, http.StatusNotFound, e.Error())
	default:
		if err == core.ErrPlanetProcessing {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		api.logger().WithError(err).Error("remove planet failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type resultRequest struct {
	PlanetID      string    `json:"planet_id"`
	ServerID      string    `json:"server_id"`
	NextRoundTime time.Time `json:"next_round_time"`
}

func (api *API) result(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := api.Orchestrator.Result(req.PlanetID, req.ServerID, req.NextRoundTime); err != nil {
		api.logger().WithError(err).Warn("result fallback failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (api *API) forceAssign(w http.ResponseWriter, r *http.Request) {
	api.Orchestrator.ForceAssign()
	writeJSON(w, http.StatusOK, nil)
}

type commandRequest struct {
	ServerID string                 `json:"server_id"`
	Action   string                 `json:"action"`
	Payload  map[string]interface{} `json:"payload"`
}

func (api *API) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := api.Orchestrator.Command(req.ServerID, req.Action, req.Payload); err != nil {
		if err == core.ErrNoSession {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type queueResponse struct {
	QueueSize         int        `json:"queue_size"`
	NextDueTime       *time.Time `json:"next_due_time"`
	IdleServers       int        `json:"idle_servers"`
	BusyServers       int        `json:"busy_servers"`
	OfflineServers    int        `json:"offline_servers"`
	QueuedPlanets     int        `json:"queued_planets"`
	ProcessingPlanets int        `json:"processing_planets"`
}

func (api *API) queue(w http.ResponseWriter, r *http.Request) {
	stats, err := api.Orchestrator.QueueStats()
	if err != nil {
		api.logger().WithError(err).Error("queue stats failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := queueResponse{
		QueueSize:         stats.QueueSize,
		IdleServers:       stats.IdleServers,
		BusyServers:       stats.BusyServers,
		OfflineServers:    stats.OfflineServers,
		QueuedPlanets:     stats.QueuedPlanets,
		ProcessingPlanets: stats.ProcessingPlanets,
	}
	if stats.HasNextDueTime {
		resp.NextDueTime = &stats.NextDueTime
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *API) getServer(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["server_id"]
	worker, err := api.Orchestrator.GetServer(serverID)
	if err != nil {
		if _, ok := err.(core.ErrNoSuchWorker); ok {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (api *API) getServers(w http.ResponseWriter, r *http.Request) {
	workers, err := api.Orchestrator.GetServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, workers)
}
