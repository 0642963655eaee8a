package db

import (
	"context"
	"encoding/json"

	"github.com/teamgate-io/teamgate/internal/models"
)

func (db *DB) CreateTeam(ctx context.Context, team *models.Team) error {
	query := `
        INSERT INTO teams (id, name, api_key, public_key, rate_limit_per_hour)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query,
		team.ID,
		team.Name,
		team.APIKey,
		team.PublicKey,
		team.RateLimitPerHour,
	).Scan(&team.CreatedAt, &team.UpdatedAt)
}

func (db *DB) GetTeamByAPIKey(ctx context.Context, apiKey string) (*models.Team, error) {
	return db.getTeam(ctx, "api_key", apiKey)
}

func (db *DB) GetTeamByID(ctx context.Context, id string) (*models.Team, error) {
	return db.getTeam(ctx, "id", id)
}

func (db *DB) getTeam(ctx context.Context, column, value string) (*models.Team, error) {
	query := `
        SELECT id, name, api_key, public_key, rate_limit_per_hour, created_at, updated_at
        FROM teams
        WHERE ` + column + ` = $1
    `

	var team models.Team
	err := db.Pool.QueryRow(ctx, query, value).Scan(
		&team.ID,
		&team.Name,
		&team.APIKey,
		&team.PublicKey,
		&team.RateLimitPerHour,
		&team.CreatedAt,
		&team.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &team, nil
}

func (db *DB) ListTeams(ctx context.Context) ([]*models.Team, error) {
	query := `
        SELECT id, name, api_key, public_key, rate_limit_per_hour, created_at, updated_at
        FROM teams
        ORDER BY created_at
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var team models.Team
		if err := rows.Scan(
			&team.ID,
			&team.Name,
			&team.APIKey,
			&team.PublicKey,
			&team.RateLimitPerHour,
			&team.CreatedAt,
			&team.UpdatedAt,
		); err != nil {
			return nil, err
		}
		teams = append(teams, &team)
	}

	return teams, rows.Err()
}

func (db *DB) UpdateTeamAPIKey(ctx context.Context, id, apiKey string) error {
	query := `UPDATE teams SET api_key = $2, updated_at = NOW() WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, id, apiKey)
	return err
}

func (db *DB) DeleteTeam(ctx context.Context, id string) error {
	query := `DELETE FROM teams WHERE id = $1`
	_, err := db.Pool.Exec(ctx, query, id)
	return err
}

func (db *DB) UpsertProviderRecord(ctx context.Context, record *models.ProviderRecord) error {
	query := `
        INSERT INTO provider_records (team_id, provider_id, encrypted_config, valid)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (team_id, provider_id) DO UPDATE
        SET encrypted_config = EXCLUDED.encrypted_config,
            valid = EXCLUDED.valid,
            updated_at = NOW()
        RETURNING id, created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query,
		record.TeamID,
		record.ProviderID,
		record.EncryptedConfig,
		record.Valid,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
}

func (db *DB) GetProviderRecord(ctx context.Context, teamID, providerID string) (*models.ProviderRecord, error) {
	query := `
        SELECT id, team_id, provider_id, encrypted_config, valid, last_used, created_at, updated_at
        FROM provider_records
        WHERE team_id = $1 AND provider_id = $2
    `

	var record models.ProviderRecord
	err := db.Pool.QueryRow(ctx, query, teamID, providerID).Scan(
		&record.ID,
		&record.TeamID,
		&record.ProviderID,
		&record.EncryptedConfig,
		&record.Valid,
		&record.LastUsed,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (db *DB) ListProviderRecords(ctx context.Context, teamID string) ([]*models.ProviderRecord, error) {
	query := `
        SELECT id, team_id, provider_id, encrypted_config, valid, last_used, created_at, updated_at
        FROM provider_records
        WHERE team_id = $1
        ORDER BY provider_id
    `

	rows, err := db.Pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ProviderRecord
	for rows.Next() {
		var record models.ProviderRecord
		if err := rows.Scan(
			&record.ID,
			&record.TeamID,
			&record.ProviderID,
			&record.EncryptedConfig,
			&record.Valid,
			&record.LastUsed,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

func (db *DB) TouchProviderRecord(ctx context.Context, teamID, providerID string) error {
	query := `UPDATE provider_records SET last_used = NOW() WHERE team_id = $1 AND provider_id = $2`
	_, err := db.Pool.Exec(ctx, query, teamID, providerID)
	return err
}

func (db *DB) DeleteProviderRecord(ctx context.Context, teamID, providerID string) error {
	query := `DELETE FROM provider_records WHERE team_id = $1 AND provider_id = $2`
	_, err := db.Pool.Exec(ctx, query, teamID, providerID)
	return err
}

func (db *DB) CreateSession(ctx context.Context, session *models.Session) error {
	config, err := json.Marshal(session.Config)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO sessions (id, team_id, name, mode, type, provider_id, model_id, config, prompt_template_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query,
		session.ID,
		session.TeamID,
		session.Name,
		session.Mode,
		session.Type,
		session.ProviderID,
		session.ModelID,
		config,
		session.PromptTemplateID,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

func (db *DB) GetSession(ctx context.Context, teamID, id string) (*models.Session, error) {
	query := `
        SELECT id, team_id, name, mode, type, provider_id, model_id, config, prompt_template_id, created_at, updated_at
        FROM sessions
        WHERE team_id = $1 AND id = $2
    `

	var session models.Session
	var config []byte
	err := db.Pool.QueryRow(ctx, query, teamID, id).Scan(
		&session.ID,
		&session.TeamID,
		&session.Name,
		&session.Mode,
		&session.Type,
		&session.ProviderID,
		&session.ModelID,
		&config,
		&session.PromptTemplateID,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &session.Config); err != nil {
			return nil, err
		}
	}

	return &session, nil
}

func (db *DB) CreatePromptTemplate(ctx context.Context, tmpl *models.PromptTemplate) error {
	questions, err := json.Marshal(tmpl.SuggestedQuestions)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO prompt_templates (team_id, name, description, pre_prompt, suggested_questions, type)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at
    `

	return db.Pool.QueryRow(ctx, query,
		tmpl.TeamID,
		tmpl.Name,
		tmpl.Description,
		tmpl.PrePrompt,
		questions,
		tmpl.Type,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
}

func (db *DB) GetPromptTemplate(ctx context.Context, teamID string, id int64) (*models.PromptTemplate, error) {
	query := `
        SELECT id, team_id, name, description, pre_prompt, suggested_questions, type, created_at
        FROM prompt_templates
        WHERE team_id = $1 AND id = $2
    `

	var tmpl models.PromptTemplate
	var questions []byte
	err := db.Pool.QueryRow(ctx, query, teamID, id).Scan(
		&tmpl.ID,
		&tmpl.TeamID,
		&tmpl.Name,
		&tmpl.Description,
		&tmpl.PrePrompt,
		&questions,
		&tmpl.Type,
		&tmpl.CreatedAt,
	)

	if err != nil {
		return nil, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &tmpl.SuggestedQuestions); err != nil {
			return nil, err
		}
	}

	return &tmpl, nil
}

func (db *DB) LogUsage(ctx context.Context, usage *models.UsageLog) error {
	query := `
        INSERT INTO usage_logs (team_id, session_id, provider_id, model_id, input_tokens, output_tokens, total_tokens, total_price, currency, latency)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := db.Pool.Exec(ctx, query,
		usage.TeamID,
		usage.SessionID,
		usage.ProviderID,
		usage.ModelID,
		usage.InputTokens,
		usage.OutputTokens,
		usage.TotalTokens,
		usage.TotalPrice,
		usage.Currency,
		usage.Latency,
	)

	return err
}

// UsageSummary aggregates a team's usage for the analytics endpoint.
type UsageSummary struct {
	Generations int64           `json:"generations"`
	TotalTokens int64           `json:"total_tokens"`
	ByModel     map[string]int64 `json:"by_model"`
}

func (db *DB) GetUsageSummary(ctx context.Context, teamID string) (*UsageSummary, error) {
	summary := &UsageSummary{ByModel: make(map[string]int64)}

	query := `
        SELECT model_id, COUNT(*), COALESCE(SUM(total_tokens), 0)
        FROM usage_logs
        WHERE team_id = $1
        GROUP BY model_id
    `

	rows, err := db.Pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var count, tokens int64
		if err := rows.Scan(&model, &count, &tokens); err != nil {
			return nil, err
		}
		summary.Generations += count
		summary.TotalTokens += tokens
		summary.ByModel[model] = tokens
	}

	return summary, rows.Err()
}
