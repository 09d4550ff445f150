package models

import (
	"time"
)

// CampaignStatus tracks campaign-level progression.
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

// ContactCard is a vCard reference shared as part of a message bundle.
type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	VCard string `json:"vcard,omitempty"`
}

// Poll is a poll definition sent as part of a message bundle.
type Poll struct {
	Title           string   `json:"title"`
	Options         []string `json:"options"`
	MultipleAnswers bool     `json:"multiple_answers"`
}

// NurturingStep is a delayed follow-up fired after the previous step for the
// same recipient was sent. After is relative seconds from the previous step's
// sent_at; the step carries its own daily window and content bundle.
type NurturingStep struct {
	Message      string        `json:"message"`
	After        int64         `json:"after"`
	StartFrom    string        `json:"start_from"`
	EndAt        string        `json:"end_at"`
	Attachments  []string      `json:"attachments,omitempty"`
	ContactCards []ContactCard `json:"shared_contact_cards,omitempty"`
	Polls        []Poll        `json:"polls,omitempty"`
}

// CampaignInput mirrors the campaign-builder payload submitted by the admin
// and client UIs.
type CampaignInput struct {
	ClientID     string          `json:"client_id"`
	Name         string          `json:"name,omitempty"`
	Message      string          `json:"message"`
	Attachments  []string        `json:"attachments,omitempty"`
	ContactCards []ContactCard   `json:"shared_contact_cards,omitempty"`
	Polls        []Poll          `json:"polls,omitempty"`
	Recipients   []string        `json:"recipients"`
	StartFrom    string          `json:"start_from"`
	EndAt        string          `json:"end_at"`
	MinDelay     int             `json:"min_delay,omitempty"`
	MaxDelay     int             `json:"max_delay,omitempty"`
	Nurturing    []NurturingStep `json:"nurturing,omitempty"`
}

// Campaign is the persisted form of a submitted campaign.
type Campaign struct {
	ID        string         `db:"id" json:"id"`
	ClientID  string         `db:"client_id" json:"client_id"`
	Name      string         `db:"name" json:"name"`
	Input     CampaignInput  `db:"-" json:"input"`
	RawInput  []byte         `db:"input" json:"-"`
	Status    CampaignStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// HasContent reports whether the step-0 bundle carries anything to send.
func (c *CampaignInput) HasContent() bool {
	return c.Message != "" || len(c.Attachments) > 0 || len(c.ContactCards) > 0 || len(c.Polls) > 0
}

// StepCount is the total number of steps: the initial send plus nurturing.
func (c *CampaignInput) StepCount() int {
	return 1 + len(c.Nurturing)
}
