package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/teamgate-io/teamgate/internal/engine"
	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
)

type fileRef struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type generateRequest struct {
	SessionID  string         `json:"session_id"`
	Query      string         `json:"query"`
	Files      []fileRef      `json:"files,omitempty"`
	Context    []string       `json:"context,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	User       string         `json:"user,omitempty"`
	Stream     bool           `json:"stream"`
}

type generateResponse struct {
	Answer string         `json:"answer"`
	Model  string         `json:"model"`
	Usage  provider.Usage `json:"usage"`
}

type streamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Generate runs one generation for a session. With stream=false the response
// is a single JSON document; with stream=true it is a chunked sequence of
// {type, data} frames mirroring the WebSocket protocol.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	team, err := h.db.GetTeamByID(r.Context(), teamID)
	if err != nil {
		http.Error(w, "Team not found", http.StatusUnauthorized)
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), team.ID, team.RateLimitPerHour)
	if err != nil {
		log.Printf("Rate limit check failed for team %s: %v", team.ID, err)
	} else if !allowed {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	session, err := h.db.GetSession(r.Context(), teamID, req.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	record, err := h.db.GetProviderRecord(r.Context(), teamID, session.ProviderID)
	if err != nil || !record.Valid {
		http.Error(w, "Provider is not configured for this team", http.StatusBadRequest)
		return
	}

	var tmpl prompt.Template
	if session.Type == models.SessionPrompt && session.PromptTemplateID != nil {
		stored, err := h.db.GetPromptTemplate(r.Context(), teamID, *session.PromptTemplateID)
		if err != nil {
			http.Error(w, "Prompt template not found", http.StatusNotFound)
			return
		}
		tmpl = stored.Template()
	}

	gen := engine.GenerateRequest{
		Team:      team,
		Session:   session,
		Record:    record,
		Template:  tmpl,
		Query:     req.Query,
		Files:     joinFiles(req.Files),
		Context:   contextParts(req.Context),
		Overrides: req.Parameters,
		User:      req.User,
		Stream:    req.Stream,
	}

	if !req.Stream {
		result, err := h.engine.Generate(r.Context(), gen)
		if err != nil {
			writeError(w, err)
			return
		}
		h.account(r, session, result)
		writeJSON(w, http.StatusOK, generateResponse{
			Answer: result.Message.PlainContent(),
			Model:  result.Model,
			Usage:  result.Usage,
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	gen.OnChunk = func(content string) {
		enc.Encode(streamFrame{Type: "chunk", Data: map[string]string{"content": content}})
		flusher.Flush()
	}

	result, err := h.engine.Generate(r.Context(), gen)
	if err != nil {
		_, kind := classify(err)
		enc.Encode(streamFrame{Type: "error", Data: errorBody{Kind: kind, Message: err.Error()}})
		flusher.Flush()
		return
	}

	h.account(r, session, result)
	enc.Encode(streamFrame{Type: "final", Data: generateResponse{
		Answer: result.Message.PlainContent(),
		Model:  result.Model,
		Usage:  result.Usage,
	}})
	flusher.Flush()
}

// account persists usage and bumps the provider record. Failures are logged,
// never surfaced to the caller.
func (h *Handler) account(r *http.Request, session *models.Session, result *provider.Result) {
	usage := &models.UsageLog{
		TeamID:       session.TeamID,
		SessionID:    session.ID,
		ProviderID:   session.ProviderID,
		ModelID:      result.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		TotalTokens:  result.Usage.TotalTokens,
		TotalPrice:   result.Usage.TotalPrice,
		Currency:     result.Usage.Currency,
		Latency:      result.Usage.Latency,
	}
	if err := h.db.LogUsage(r.Context(), usage); err != nil {
		log.Printf("Failed to log usage for session %s: %v", session.ID, err)
	}
	if err := h.db.TouchProviderRecord(r.Context(), session.TeamID, session.ProviderID); err != nil {
		log.Printf("Failed to touch provider record for team %s: %v", session.TeamID, err)
	}
}

func joinFiles(files []fileRef) string {
	if len(files) == 0 {
		return ""
	}
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, f.Content)
	}
	return strings.Join(parts, "\n")
}

func contextParts(texts []string) []provider.ContentPart {
	if len(texts) == 0 {
		return nil
	}
	parts := make([]provider.ContentPart, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, provider.ContentPart{Type: "text", Text: t})
	}
	return parts
}
