package httpx

import (
	"net/http"

	"github.com/umbrellafw/umbrella/internal/domain"
)

type pingRequest struct {
	NodeID string `json:"nodeId" validate:"required,max=256"`
}

func (r *Router) handlePing(w http.ResponseWriter, req *http.Request) {
	var payload pingRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	cfg, err := r.ingest.Ping(req.Context(), req.PathValue("org"), credential(req), payload.NodeID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (r *Router) handleHTTPEvent(w http.ResponseWriter, req *http.Request) {
	var metadata domain.HTTPMetadata
	if err := decodeJSON(req, &metadata); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	action, err := r.ingest.HTTPEvent(req.Context(), req.PathValue("org"), credential(req), metadata)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (r *Router) handleCustomEvent(w http.ResponseWriter, req *http.Request) {
	var metadata map[string]string
	if err := decodeJSON(req, &metadata); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.ingest.CustomEvent(req.Context(), req.PathValue("org"), credential(req), req.PathValue("eventType"), metadata)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
