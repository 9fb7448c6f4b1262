package httpx

import (
	"net/http"
)

func (r *Router) handleCreateOrg(w http.ResponseWriter, req *http.Request) {
	org, err := r.orgs.Create(req.Context(), req.PathValue("org"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOrganization(org))
}

func (r *Router) handleDeleteOrg(w http.ResponseWriter, req *http.Request) {
	if err := r.orgs.Delete(req.Context(), req.PathValue("org")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminKeyRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

func (r *Router) handleCreateAdminKey(w http.ResponseWriter, req *http.Request) {
	var payload adminKeyRequest
	if err := decode(req, &payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	org, err := r.orgs.CreateAPIKeyForAdmin(req.Context(), req.PathValue("org"), payload.Name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.respondCreatedKey(w, org, payload.Name)
}

func (r *Router) handleListAllNodes(w http.ResponseWriter, req *http.Request) {
	nodes, err := r.health.ListAll(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}
