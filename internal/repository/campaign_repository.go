package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

type campaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) CampaignRepository {
	return &campaignRepository{
		db: db,
	}
}

// Create persists a submitted campaign definition.
func (r *campaignRepository) Create(campaign *models.Campaign) error {
	raw, err := json.Marshal(campaign.Input)
	if err != nil {
		return fmt.Errorf("failed to encode campaign input: %w", err)
	}
	campaign.RawInput = raw

	query := `
		INSERT INTO campaigns (id, client_id, name, input, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	if _, err := r.db.Exec(query, campaign.ID, campaign.ClientID, campaign.Name, campaign.RawInput, campaign.Status); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID loads a campaign with its decoded input.
func (r *campaignRepository) GetByID(id string) (*models.Campaign, error) {
	var campaign models.Campaign
	query := `
		SELECT id, client_id, name, input, status, created_at
		FROM campaigns
		WHERE id = $1
	`

	if err := r.db.Get(&campaign, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	if err := json.Unmarshal(campaign.RawInput, &campaign.Input); err != nil {
		return nil, fmt.Errorf("failed to decode campaign input: %w", err)
	}
	return &campaign, nil
}

// UpdateStatus moves campaign-level status.
func (r *campaignRepository) UpdateStatus(id string, status models.CampaignStatus) error {
	res, err := r.db.Exec(`UPDATE campaigns SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}
