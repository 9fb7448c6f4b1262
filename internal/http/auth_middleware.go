package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/umbrellafw/umbrella/internal/domain"
)

type authContextKey string

type authInfo struct {
	Actor string
	Org   *domain.Organization
}

const (
	contextKeyAuth authContextKey = "umbrella-auth-info"

	actorOperator = "operator"
	actorAdmin    = "admin"
	actorIngest   = "ingest"

	operatorTokenHeader = "X-Operator-Token"
)

type contextSetter interface {
	SetContext(context.Context)
}

// credential returns the raw Authorization header. Browsers cannot set
// headers on websocket upgrades, so the api_key query parameter is accepted
// as a fallback.
func credential(req *http.Request) string {
	if header := req.Header.Get("Authorization"); strings.TrimSpace(header) != "" {
		return header
	}
	return req.URL.Query().Get("api_key")
}

// withAuth stores info in the request context and tells the audit recorder about it.
func withAuth(w http.ResponseWriter, req *http.Request, info authInfo) *http.Request {
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	return req.WithContext(ctx)
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

// requireOperator guards tenant lifecycle routes with the shared operator token.
func (r *Router) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		expected := r.operatorToken
		if expected == "" {
			r.logger.Error("operator token not configured", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "operator authentication misconfigured")
			return
		}
		token := strings.TrimSpace(req.Header.Get(operatorTokenHeader))
		if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			r.logger.Warn("operator token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, withAuth(w, req, authInfo{Actor: actorOperator}))
	}
}

// requireAdmin resolves the path organization for an admin key.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		org, err := r.orgs.GetIfAuthorizedForAdmin(req.Context(), req.PathValue("org"), credential(req))
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		next(w, withAuth(w, req, authInfo{Actor: actorAdmin, Org: org}))
	}
}

// adminOrg returns the organization resolved by requireAdmin.
func adminOrg(req *http.Request) (*domain.Organization, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok || info.Org == nil {
		return nil, false
	}
	return info.Org, true
}
