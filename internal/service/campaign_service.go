package service

import (
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/engine"
	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

// Kicker wakes the dispatch loop ahead of its deadline.
type Kicker interface {
	Kick()
}

type campaignService struct {
	engine *engine.Engine
	kicker Kicker
	logger *zap.Logger
}

func NewCampaignService(eng *engine.Engine, kicker Kicker, logger *zap.Logger) CampaignService {
	return &campaignService{
		engine: eng,
		kicker: kicker,
		logger: logger,
	}
}

func (s *campaignService) Submit(input models.CampaignInput) (*models.Campaign, error) {
	campaign, err := s.engine.Submit(input)
	if err != nil {
		return nil, err
	}

	// Newly enqueued work may be due before the loop's current deadline.
	s.kicker.Kick()
	return campaign, nil
}

func (s *campaignService) Cancel(campaignID string) error {
	return s.engine.Cancel(campaignID)
}

func (s *campaignService) Report(campaignID string) (*models.CampaignReport, error) {
	return s.engine.Report(campaignID)
}
