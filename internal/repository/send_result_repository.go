package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

type sendResultRepository struct {
	db *sqlx.DB
}

func NewSendResultRepository(db *sqlx.DB) SendResultRepository {
	return &sendResultRepository{
		db: db,
	}
}

// Create writes a send result. Results are immutable: a conflicting write
// for the same (campaign, recipient, step) leaves the first record intact.
func (r *sendResultRepository) Create(result *models.SendResult) error {
	query := `
		INSERT INTO send_results (client_id, campaign_id, recipient, step_index, status, error_reason, sent_at, created_at)
		VALUES (:client_id, :campaign_id, :recipient, :step_index, :status, :error_reason, :sent_at, NOW())
		ON CONFLICT (campaign_id, recipient, step_index) DO NOTHING
	`

	if _, err := r.db.NamedExec(query, result); err != nil {
		return fmt.Errorf("failed to create send result: %w", err)
	}
	return nil
}

// Exists reports whether an outcome was already recorded for the step.
func (r *sendResultRepository) Exists(campaignID, recipient string, stepIndex int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM send_results WHERE campaign_id = $1 AND recipient = $2 AND step_index = $3)`

	if err := r.db.Get(&exists, query, campaignID, recipient, stepIndex); err != nil {
		return false, fmt.Errorf("failed to check send result: %w", err)
	}
	return exists, nil
}

// ListByCampaign returns all recorded outcomes for a campaign, ordered by
// recipient then step.
func (r *sendResultRepository) ListByCampaign(campaignID string) ([]models.SendResult, error) {
	query := `
		SELECT id, client_id, campaign_id, recipient, step_index, status, error_reason, sent_at, created_at
		FROM send_results
		WHERE campaign_id = $1
		ORDER BY recipient ASC, step_index ASC
	`

	var results []models.SendResult
	if err := r.db.Select(&results, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list send results: %w", err)
	}
	return results, nil
}
