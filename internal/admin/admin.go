package admin

import (
	"encoding/json"
	"log"
	"net/http"

	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/teamgate-io/teamgate/internal/db"
	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/vault"
)

type AdminHandler struct {
	db    *db.DB
	vault *vault.Vault
}

func NewAdminHandler(database *db.DB, v *vault.Vault) *AdminHandler {
	return &AdminHandler{db: database, vault: v}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Team management
	router.HandleFunc("/admin/teams", h.ListTeams).Methods("GET")
	router.HandleFunc("/admin/teams", h.CreateTeam).Methods("POST")
	router.HandleFunc("/admin/teams/{id}", h.GetTeam).Methods("GET")
	router.HandleFunc("/admin/teams/{id}", h.DeleteTeam).Methods("DELETE")
	router.HandleFunc("/admin/teams/{id}/rotate-key", h.RotateAPIKey).Methods("POST")

	// Analytics
	router.HandleFunc("/admin/teams/{id}/analytics", h.GetAnalytics).Methods("GET")
}

// CreateTeam provisions a tenant: record, API key and vault keypair.
func (h *AdminHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string `json:"name"`
		RateLimitPerHour int    `json:"rate_limit_per_hour"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	if req.RateLimitPerHour <= 0 {
		req.RateLimitPerHour = 1000 // Default
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	teamID := uuid.New().String()
	publicKey, err := h.vault.GenerateKeyPair(teamID)
	if err != nil {
		log.Printf("Failed to generate keypair for team %s: %v", teamID, err)
		http.Error(w, "Failed to generate keypair", http.StatusInternalServerError)
		return
	}

	team := &models.Team{
		ID:               teamID,
		Name:             req.Name,
		APIKey:           apiKey,
		PublicKey:        publicKey,
		RateLimitPerHour: req.RateLimitPerHour,
	}

	if err := h.db.CreateTeam(r.Context(), team); err != nil {
		log.Printf("Failed to create team: %v", err)
		http.Error(w, "Failed to create team", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(team)
}

func (h *AdminHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.db.ListTeams(r.Context())
	if err != nil {
		http.Error(w, "Failed to list teams", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teams)
}

func (h *AdminHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	team, err := h.db.GetTeamByID(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, "Team not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(team)
}

func (h *AdminHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.db.DeleteTeam(r.Context(), vars["id"]); err != nil {
		http.Error(w, "Failed to delete team", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	newAPIKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	if err := h.db.UpdateTeamAPIKey(r.Context(), vars["id"], newAPIKey); err != nil {
		http.Error(w, "Failed to rotate API key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

func (h *AdminHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	summary, err := h.db.GetUsageSummary(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, "Failed to get analytics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
