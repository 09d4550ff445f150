package engine_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/engine"
	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

func testOptions() engine.Options {
	return engine.Options{
		BatchSize:   50,
		MaxAttempts: 3,
		BackoffBase: 30 * time.Second,
		MaxInterval: 30 * time.Second,
		SendTimeout: 5 * time.Second,
	}
}

// testClock is a mutable clock shared with the engine under test.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T, repo *fakeRepo, sender *fakeSender, store *fakeStore) (*engine.Engine, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(repo, sender, store, testOptions(), zap.NewNop()).
		WithClock(clock.Now, rand.New(rand.NewSource(42)))
	return eng, clock
}

func validInput() models.CampaignInput {
	return models.CampaignInput{
		ClientID:   "tenant-1",
		Name:       "launch",
		Message:    "hello",
		Recipients: []string{"491111", "492222"},
		StartFrom:  "09:00",
		EndAt:      "19:00",
	}
}

func TestEngine_Submit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CampaignInput)
	}{
		{"missing client id", func(in *models.CampaignInput) { in.ClientID = "" }},
		{"no content", func(in *models.CampaignInput) { in.Message = "" }},
		{"no recipients", func(in *models.CampaignInput) { in.Recipients = nil }},
		{"bad window", func(in *models.CampaignInput) { in.StartFrom = "25:00" }},
		{"negative nurturing delay", func(in *models.CampaignInput) {
			in.Nurturing = []models.NurturingStep{{Message: "x", After: -1, StartFrom: "09:00", EndAt: "10:00"}}
		}},
		{"empty nurturing step", func(in *models.CampaignInput) {
			in.Nurturing = []models.NurturingStep{{After: 60, StartFrom: "09:00", EndAt: "10:00"}}
		}},
		{"bad nurturing window", func(in *models.CampaignInput) {
			in.Nurturing = []models.NurturingStep{{Message: "x", After: 60, StartFrom: "09:00", EndAt: "26:00"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			eng, _ := newTestEngine(t, repo, newFakeSender(), newFakeStore())

			input := validInput()
			tt.mutate(&input)

			_, err := eng.Submit(input)
			assert.ErrorIs(t, err, models.ErrInvalidCampaign)

			// Validation failures leave no side effects.
			pending, err := repo.PendingRequest().ListPending("tenant-1", nil)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestEngine_Submit_EnqueuesFirstStepPerRecipient(t *testing.T) {
	repo := newFakeRepo()
	eng, clock := newTestEngine(t, repo, newFakeSender(), newFakeStore())

	campaign, err := eng.Submit(validInput())
	require.NoError(t, err)
	require.NotEmpty(t, campaign.ID)
	assert.Equal(t, models.CampaignStatusActive, campaign.Status)

	pending, err := repo.PendingRequest().ListPending("tenant-1", nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	windowClose := time.Date(2026, 8, 28, 19, 0, 0, 0, time.UTC)
	for _, req := range pending {
		assert.Equal(t, models.RequestTypeSendMessage, req.Type)

		var payload models.SendPayload
		require.NoError(t, json.Unmarshal(req.Data, &payload))
		assert.Equal(t, campaign.ID, payload.CampaignID)
		assert.Equal(t, 0, payload.StepIndex)
		assert.Equal(t, "hello", payload.Message)
		assert.Equal(t, campaign.ID+":"+payload.Recipient+":0", req.Key)

		// Jittered instants stay inside the remainder of today's window.
		assert.False(t, req.ScheduledAt.Before(clock.now))
		assert.False(t, req.ScheduledAt.After(windowClose))
	}
}

func TestEngine_Submit_ResubmitDoesNotDuplicateSteps(t *testing.T) {
	repo := newFakeRepo()
	eng, _ := newTestEngine(t, repo, newFakeSender(), newFakeStore())

	first, err := eng.Submit(validInput())
	require.NoError(t, err)

	// A second submit is a new campaign with its own keys; the original
	// campaign's steps are untouched and not duplicated.
	second, err := eng.Submit(validInput())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	pending, err := repo.PendingRequest().ListPendingByKeyPrefix("tenant-1", first.ID+":")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestEngine_Cancel(t *testing.T) {
	repo := newFakeRepo()
	sender := newFakeSender()
	eng, _ := newTestEngine(t, repo, sender, newFakeStore())

	campaign, err := eng.Submit(validInput())
	require.NoError(t, err)

	require.NoError(t, eng.Cancel(campaign.ID))

	t.Run("pending steps become skipped results", func(t *testing.T) {
		for _, recipient := range []string{"491111", "492222"} {
			result := repo.resultFor(campaign.ID, recipient, 0)
			require.NotNil(t, result, "missing result for %s", recipient)
			assert.Equal(t, models.SendStatusSkipped, result.Status)
			assert.Equal(t, models.ReasonCampaignCancelled, result.ErrorReason.String)

			req := repo.request("tenant-1", campaign.ID+":"+recipient+":0")
			assert.Equal(t, models.RequestStatusFailed, req.Status)
		}
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		require.NoError(t, eng.Cancel(campaign.ID))
	})

	t.Run("unknown campaign returns not found", func(t *testing.T) {
		assert.ErrorIs(t, eng.Cancel("nope"), models.ErrNotFound)
	})
}

func TestEngine_Report(t *testing.T) {
	repo := newFakeRepo()
	sender := newFakeSender()
	sender.setStatus("tenant-1", models.SessionStatusReady)
	eng, clock := newTestEngine(t, repo, sender, newFakeStore())

	input := validInput()
	input.Recipients = []string{"491111", "492222", "493333"}
	campaign, err := eng.Submit(input)
	require.NoError(t, err)

	// One recipient fails permanently, the rest send.
	sender.failRecipient("492222", models.ErrInvalidRecipient)

	clock.now = clock.now.Add(8 * time.Hour)
	_, err = eng.Tick(context.Background())
	require.NoError(t, err)

	report, err := eng.Report(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Pending)
	assert.Len(t, report.Results, 3)
}

func TestEngine_FailPendingForClient(t *testing.T) {
	repo := newFakeRepo()
	eng, _ := newTestEngine(t, repo, newFakeSender(), newFakeStore())

	campaign, err := eng.Submit(validInput())
	require.NoError(t, err)

	otherInput := validInput()
	otherInput.ClientID = "tenant-2"
	otherCampaign, err := eng.Submit(otherInput)
	require.NoError(t, err)

	eng.FailPendingForClient("tenant-1", models.ReasonSessionLost)

	for _, recipient := range []string{"491111", "492222"} {
		result := repo.resultFor(campaign.ID, recipient, 0)
		require.NotNil(t, result)
		assert.Equal(t, models.SendStatusFailed, result.Status)
		assert.Equal(t, models.ReasonSessionLost, result.ErrorReason.String)
	}

	// The other tenant's work is untouched.
	pending, err := repo.PendingRequest().ListPendingByKeyPrefix("tenant-2", otherCampaign.ID+":")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
