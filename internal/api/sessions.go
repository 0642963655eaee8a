package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/teamgate-io/teamgate/internal/models"
)

type createSessionRequest struct {
	Name             string             `json:"name"`
	Mode             string             `json:"mode"`
	Type             models.SessionType `json:"type"`
	ProviderID       string             `json:"provider_id"`
	ModelID          string             `json:"model_id"`
	Config           map[string]any     `json:"config"`
	PromptTemplateID *int64             `json:"prompt_template_id"`
}

// CreateSession opens a generation scope for the team. Model identity and
// session config are checked against the registry up front; parameter values
// are validated again on every call.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = models.SessionLLM
	}
	if req.Type != models.SessionLLM && req.Type != models.SessionPrompt {
		http.Error(w, "Type must be llm or prompt", http.StatusBadRequest)
		return
	}

	p, err := h.registry.Provider(req.ProviderID)
	if err != nil {
		writeError(w, err)
		return
	}
	llm, err := p.LLMCollection()
	if err != nil {
		writeError(w, err)
		return
	}
	model, err := llm.Model(req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := llm.ResolveParameters(model, req.Config); err != nil {
		writeError(w, err)
		return
	}

	if req.Type == models.SessionPrompt {
		if req.PromptTemplateID == nil {
			http.Error(w, "prompt_template_id is required for prompt sessions", http.StatusBadRequest)
			return
		}
		if _, err := h.db.GetPromptTemplate(r.Context(), teamID, *req.PromptTemplateID); err != nil {
			http.Error(w, "Prompt template not found", http.StatusNotFound)
			return
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = string(llm.Mode(model))
	}

	session := &models.Session{
		ID:               uuid.New().String(),
		TeamID:           teamID,
		Name:             req.Name,
		Mode:             mode,
		Type:             req.Type,
		ProviderID:       req.ProviderID,
		ModelID:          req.ModelID,
		Config:           req.Config,
		PromptTemplateID: req.PromptTemplateID,
	}
	if err := h.db.CreateSession(r.Context(), session); err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GetSession returns one of the team's sessions.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}

	session, err := h.db.GetSession(r.Context(), teamID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
