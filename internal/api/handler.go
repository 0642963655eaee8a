// Package api exposes the authenticated HTTP surface of the gateway:
// provider credential lifecycle, sessions and the generation entry point.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/teamgate-io/teamgate/internal/auth"
	"github.com/teamgate-io/teamgate/internal/db"
	"github.com/teamgate-io/teamgate/internal/engine"
	"github.com/teamgate-io/teamgate/internal/forms"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/ratelimit"
	"github.com/teamgate-io/teamgate/internal/upstream"
	"github.com/teamgate-io/teamgate/internal/vault"
)

type Handler struct {
	db        *db.DB
	limiter   *ratelimit.RateLimiter
	registry  *provider.Registry
	engine    *engine.Engine
	vault     *vault.Vault
	jwtSecret string
}

func NewHandler(database *db.DB, limiter *ratelimit.RateLimiter, registry *provider.Registry, eng *engine.Engine, v *vault.Vault, jwtSecret string) *Handler {
	return &Handler{
		db:        database,
		limiter:   limiter,
		registry:  registry,
		engine:    eng,
		vault:     v,
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes mounts the token exchange and the authenticated API.
func (h *Handler) RegisterRoutes(router *mux.Router, mw *auth.Middleware) {
	authed := func(fn http.HandlerFunc) http.Handler {
		return mw.Authenticate(fn)
	}

	router.HandleFunc("/auth/token", h.IssueToken).Methods("POST")
	router.Handle("/api/providers", authed(h.ListProviders)).Methods("GET")
	router.Handle("/api/providers/{id}/credentials", authed(h.SaveCredentials)).Methods("POST")
	router.Handle("/api/providers/{id}/credentials", authed(h.DeleteCredentials)).Methods("DELETE")
	router.Handle("/api/sessions", authed(h.CreateSession)).Methods("POST")
	router.Handle("/api/sessions/{id}", authed(h.GetSession)).Methods("GET")
	router.Handle("/api/generate", authed(h.Generate)).Methods("POST")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: err.Error()}})
}

// classify maps the error taxonomy onto HTTP statuses and kinds.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound, "UnknownProvider"
	case errors.Is(err, provider.ErrUnknownModel):
		return http.StatusNotFound, "UnknownModel"
	case errors.Is(err, provider.ErrUnsupportedModelType):
		return http.StatusBadRequest, "UnsupportedModelType"
	case errors.Is(err, forms.ErrMissing):
		return http.StatusBadRequest, "MissingParameter"
	case errors.Is(err, forms.ErrInvalid):
		return http.StatusBadRequest, "InvalidParameter"
	case errors.Is(err, provider.ErrMissingCredential):
		return http.StatusBadRequest, "MissingCredential"
	case errors.Is(err, provider.ErrInvalidCredential):
		return http.StatusBadRequest, "InvalidCredential"
	case errors.Is(err, engine.ErrContextOverflow):
		return http.StatusBadRequest, "ContextOverflow"
	case errors.Is(err, prompt.ErrNotImplemented):
		return http.StatusNotImplemented, "NotImplemented"
	case errors.Is(err, vault.ErrPrivateKeyNotFound):
		return http.StatusInternalServerError, "PrivateKeyNotFound"
	case errors.Is(err, vault.ErrCrypto):
		return http.StatusInternalServerError, "CryptoError"
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "UpstreamTimeout"
	case errors.Is(err, upstream.ErrUpstreamDisconnected):
		return http.StatusBadGateway, "UpstreamDisconnected"
	case errors.Is(err, upstream.ErrUpstream):
		return http.StatusBadGateway, "UpstreamError"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

// IssueToken exchanges a team API key for a short-lived bearer token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		http.Error(w, "api_key is required", http.StatusBadRequest)
		return
	}

	team, err := h.db.GetTeamByAPIKey(r.Context(), req.APIKey)
	if err != nil {
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(team.ID, team.APIKey, h.jwtSecret)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token, "team_id": team.ID})
}

// team resolves the authenticated team or writes the failure.
func (h *Handler) team(w http.ResponseWriter, r *http.Request) (teamID string, ok bool) {
	claims, found := auth.GetTeamFromContext(r.Context())
	if !found {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return claims.TeamID, true
}
