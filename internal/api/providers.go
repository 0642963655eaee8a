package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/teamgate-io/teamgate/internal/models"
	"github.com/teamgate-io/teamgate/internal/schema"
	"github.com/teamgate-io/teamgate/internal/vault"
)

type providerStatus struct {
	Provider    schema.ProviderDescriptor `json:"provider"`
	Enabled     bool                      `json:"enabled"`
	Valid       bool                      `json:"valid"`
	LastUsed    *time.Time                `json:"last_used,omitempty"`
	Credentials map[string]string         `json:"credentials,omitempty"`
}

// ListProviders returns every registered provider schema together with the
// team's configuration status. Secret credential fields come back obfuscated,
// never in plaintext.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}

	schemas, err := h.registry.Schemas()
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.db.ListProviderRecords(r.Context(), teamID)
	if err != nil {
		http.Error(w, "Failed to list providers", http.StatusInternalServerError)
		return
	}
	byProvider := make(map[string]*models.ProviderRecord, len(records))
	for _, rec := range records {
		byProvider[rec.ProviderID] = rec
	}

	out := make([]providerStatus, 0, len(schemas))
	for _, desc := range schemas {
		status := providerStatus{Provider: desc}
		if rec, configured := byProvider[desc.ID]; configured {
			status.Enabled = true
			status.Valid = rec.Valid
			status.LastUsed = rec.LastUsed

			credentials, err := h.vault.DecryptCredentials(teamID, rec.EncryptedConfig)
			if err != nil {
				log.Printf("Failed to decrypt credentials for team %s provider %s: %v", teamID, desc.ID, err)
			} else {
				status.Credentials = vault.ObfuscateSecrets(desc.CredentialForm, credentials)
			}
		}
		out = append(out, status)
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// SaveCredentials validates and stores a team's credentials for one provider.
// Incoming secret fields carrying the hidden sentinel are restored from the
// previously stored plaintext before validation.
func (h *Handler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	providerID := mux.Vars(r)["id"]

	var update map[string]string
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.registry.Provider(providerID)
	if err != nil {
		writeError(w, err)
		return
	}
	desc, err := p.Schema()
	if err != nil {
		writeError(w, err)
		return
	}

	var previous map[string]string
	if rec, err := h.db.GetProviderRecord(r.Context(), teamID, providerID); err == nil {
		if prev, err := h.vault.DecryptCredentials(teamID, rec.EncryptedConfig); err == nil {
			previous = prev
		}
	}
	restored := vault.RestoreHidden(desc.CredentialForm, update, previous)

	validated, err := h.registry.ValidateCredentials(r.Context(), providerID, restored)
	if err != nil {
		writeError(w, err)
		return
	}

	team, err := h.db.GetTeamByID(r.Context(), teamID)
	if err != nil {
		http.Error(w, "Team not found", http.StatusUnauthorized)
		return
	}

	encrypted, err := h.vault.EncryptCredentials(team.PublicKey, validated)
	if err != nil {
		writeError(w, err)
		return
	}

	record := &models.ProviderRecord{
		TeamID:          teamID,
		ProviderID:      providerID,
		EncryptedConfig: encrypted,
		Valid:           true,
	}
	if err := h.db.UpsertProviderRecord(r.Context(), record); err != nil {
		http.Error(w, "Failed to store credentials", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"valid":       true,
		"credentials": vault.ObfuscateSecrets(desc.CredentialForm, validated),
	})
}

// DeleteCredentials removes a team's stored credentials for one provider.
func (h *Handler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	providerID := mux.Vars(r)["id"]

	if _, err := h.registry.Provider(providerID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.db.GetProviderRecord(r.Context(), teamID, providerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "Provider not configured", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load provider record", http.StatusInternalServerError)
		return
	}

	if err := h.db.DeleteProviderRecord(r.Context(), teamID, providerID); err != nil {
		http.Error(w, "Failed to delete credentials", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
