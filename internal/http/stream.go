package httpx

import (
	"net/http"
	"time"

	"github.com/umbrellafw/umbrella/internal/ws"
)

// handleNodeStreamWS upgrades to a websocket that receives node events of
// the organization until the client goes away.
func (r *Router) handleNodeStreamWS(w http.ResponseWriter, req *http.Request) {
	org, ok := adminOrg(req)
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusInternalServerError, "node stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(org.Name, client)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	go func() {
		defer func() {
			close(done)
			r.hub.Unregister(org.Name, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleNodeStreamSSE streams the same events as server-sent events.
func (r *Router) handleNodeStreamSSE(w http.ResponseWriter, req *http.Request) {
	org, ok := adminOrg(req)
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusInternalServerError, "node stream unavailable")
		return
	}
	rc := http.NewResponseController(w)
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		r.logger.Warn("sse flush unsupported", "error", err)
		return
	}

	client := ws.NewSSEClient(w, rc.Flush, r.logger)
	r.hub.Register(org.Name, client)
	defer r.hub.Unregister(org.Name, client)

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
