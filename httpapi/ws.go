// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// upgrader has no origin restriction: game servers connect from
// operator-controlled infrastructure, not browsers, so the usual
// CSRF-via-origin concern does not apply here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConnect implements the websocket upgrade endpoint a game server
// dials to open its session. The server_id and server_ip the worker
// identifies itself with travel as path/query parameters since the
// handshake itself carries no frame of its own.
func (api *API) wsConnect(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["server_id"]
	if serverID == "" {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	serverIP := r.URL.Query().Get("server_ip")
	if serverIP == "" {
		serverIP = r.RemoteAddr
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger().WithError(err).Warn("websocket upgrade failed")
		return
	}

	if err := api.Orchestrator.Sessions.Accept(r.Context(), serverID, serverIP, conn); err != nil {
		api.logger().WithError(err).WithField("server_id", serverID).Warn("session ended with error")
	}
}
