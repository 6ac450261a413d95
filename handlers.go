package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	// Origins are checked per message by the hub, which drops
	// non-matching ones without a response. Failing the handshake here
	// would leak the endpoint's existence to unapproved origins.
	return true
}}

// handleIndex identifies the relay.
func handleIndex(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, struct {
			Name string `json:"name"`
		}{app.cfg.Name}, nil, http.StatusOK)
	}
}

// handleStatus reports the running build and storage backend.
func handleStatus(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Storage string `json:"storage"`
		}{app.cfg.Name, buildString, app.cfg.Storage}, nil, http.StatusOK)
	}
}

// handleWS handles incoming requester connections. The Origin header
// captured here travels with the peer and is tested on every message.
func handleWS(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			app.logger.Printf("Websocket upgrade failed: %s: %v", r.RemoteAddr, err)
			return
		}

		app.hub.ConnectPeer(r.Header.Get("Origin"), ws)
	}
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}
