package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
)

// fakeRepo is an in-memory repository that records the order of mutating
// calls so tests can assert write ordering.
type fakeRepo struct {
	mu        sync.Mutex
	pending   map[string]*models.PendingRequest // keyed client_id|key
	results   []*models.SendResult
	campaigns map[string]*models.Campaign
	ops       []string
	nextID    int64

	enqueueErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		pending:   make(map[string]*models.PendingRequest),
		campaigns: make(map[string]*models.Campaign),
	}
}

func (f *fakeRepo) Ping() error { return nil }

func (f *fakeRepo) PendingRequest() repository.PendingRequestRepository {
	return (*fakePendingRepo)(f)
}

func (f *fakeRepo) SendResult() repository.SendResultRepository {
	return (*fakeResultRepo)(f)
}

func (f *fakeRepo) Campaign() repository.CampaignRepository {
	return (*fakeCampaignRepo)(f)
}

func (f *fakeRepo) key(clientID, key string) string { return clientID + "|" + key }

func (f *fakeRepo) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeRepo) request(clientID, key string) *models.PendingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[f.key(clientID, key)]
}

func (f *fakeRepo) resultFor(campaignID, recipient string, step int) *models.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.results {
		if r.CampaignID == campaignID && r.Recipient == recipient && r.StepIndex == step {
			return r
		}
	}
	return nil
}

type fakePendingRepo fakeRepo

func (f *fakePendingRepo) Enqueue(clientID, key string, typ models.PendingRequestType, data json.RawMessage, scheduledAt time.Time) (*models.PendingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}

	k := (*fakeRepo)(f).key(clientID, key)
	if existing, ok := f.pending[k]; ok {
		return existing, nil
	}

	f.nextID++
	req := &models.PendingRequest{
		ID:          f.nextID,
		ClientID:    clientID,
		Key:         key,
		Type:        typ,
		Data:        data,
		Status:      models.RequestStatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}
	f.pending[k] = req
	f.ops = append(f.ops, "enqueue:"+key)
	return req, nil
}

func (f *fakePendingRepo) MarkSuccess(clientID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.pending[(*fakeRepo)(f).key(clientID, key)]
	if !ok {
		return models.ErrNotFound
	}
	if req.Status == models.RequestStatusPending {
		req.Status = models.RequestStatusSuccess
		f.ops = append(f.ops, "success:"+key)
	}
	return nil
}

func (f *fakePendingRepo) MarkFailed(clientID, key, errMsg, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.pending[(*fakeRepo)(f).key(clientID, key)]
	if !ok {
		return models.ErrNotFound
	}
	if req.Status == models.RequestStatusPending {
		req.Status = models.RequestStatusFailed
		req.Error = nullStr(errMsg)
		req.Reason = nullStr(reason)
		f.ops = append(f.ops, "failed:"+key)
	}
	return nil
}

func (f *fakePendingRepo) Reschedule(clientID, key string, attempts int, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.pending[(*fakeRepo)(f).key(clientID, key)]
	if !ok || req.Status != models.RequestStatusPending {
		return models.ErrNotFound
	}
	req.Attempts = attempts
	req.NextAttemptAt = nullTime(nextAttemptAt)
	f.ops = append(f.ops, "reschedule:"+key)
	return nil
}

func (f *fakePendingRepo) ListPending(clientID string, typ *models.PendingRequestType) ([]*models.PendingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PendingRequest
	for _, req := range f.pending {
		if req.ClientID != clientID || req.Status != models.RequestStatusPending {
			continue
		}
		if typ != nil && req.Type != *typ {
			continue
		}
		out = append(out, req)
	}
	sortByID(out)
	return out, nil
}

func (f *fakePendingRepo) ListPendingByKeyPrefix(clientID, keyPrefix string) ([]*models.PendingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PendingRequest
	for _, req := range f.pending {
		if req.ClientID == clientID && req.Status == models.RequestStatusPending && strings.HasPrefix(req.Key, keyPrefix) {
			out = append(out, req)
		}
	}
	sortByID(out)
	return out, nil
}

func (f *fakePendingRepo) ListDue(now time.Time, limit int) ([]*models.PendingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PendingRequest
	for _, req := range f.pending {
		if req.Status != models.RequestStatusPending || req.ScheduledAt.After(now) {
			continue
		}
		if req.NextAttemptAt.Valid && req.NextAttemptAt.Time.After(now) {
			continue
		}
		out = append(out, req)
	}
	sortByID(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePendingRepo) NextDeadline(now time.Time, excludeClients []string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	excluded := make(map[string]bool, len(excludeClients))
	for _, id := range excludeClients {
		excluded[id] = true
	}

	var best time.Time
	found := false
	for _, req := range f.pending {
		if req.Status != models.RequestStatusPending || excluded[req.ClientID] {
			continue
		}
		deadline := req.ScheduledAt
		if req.NextAttemptAt.Valid && req.NextAttemptAt.Time.After(deadline) {
			deadline = req.NextAttemptAt.Time
		}
		if !found || deadline.Before(best) {
			best = deadline
			found = true
		}
	}
	return best, found, nil
}

func (f *fakePendingRepo) FailAllPending(clientID, errMsg, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, req := range f.pending {
		if req.ClientID == clientID && req.Status == models.RequestStatusPending {
			req.Status = models.RequestStatusFailed
			req.Error = nullStr(errMsg)
			req.Reason = nullStr(reason)
			n++
		}
	}
	if n > 0 {
		f.ops = append(f.ops, "fail-all:"+clientID)
	}
	return n, nil
}

type fakeResultRepo fakeRepo

func (f *fakeResultRepo) Create(result *models.SendResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.results {
		if r.CampaignID == result.CampaignID && r.Recipient == result.Recipient && r.StepIndex == result.StepIndex {
			return nil
		}
	}
	f.nextID++
	result.ID = f.nextID
	f.results = append(f.results, result)
	f.ops = append(f.ops, "result:"+result.Recipient)
	return nil
}

func (f *fakeResultRepo) Exists(campaignID, recipient string, stepIndex int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.results {
		if r.CampaignID == campaignID && r.Recipient == recipient && r.StepIndex == stepIndex {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResultRepo) ListByCampaign(campaignID string) ([]models.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.SendResult
	for _, r := range f.results {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeCampaignRepo fakeRepo

func (f *fakeCampaignRepo) Create(campaign *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	campaign.CreatedAt = time.Now()
	f.campaigns[campaign.ID] = campaign
	return nil
}

func (f *fakeCampaignRepo) GetByID(id string) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	campaign, ok := f.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return campaign, nil
}

func (f *fakeCampaignRepo) UpdateStatus(id string, status models.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	campaign, ok := f.campaigns[id]
	if !ok {
		return models.ErrNotFound
	}
	campaign.Status = status
	return nil
}

// fakeSender scripts per-recipient send outcomes and session status.
type fakeSender struct {
	mu       sync.Mutex
	status   map[string]models.SessionStatus
	sendErr  map[string]error // keyed by recipient
	sent     []string
	contacts []models.Contact
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		status:  make(map[string]models.SessionStatus),
		sendErr: make(map[string]error),
	}
}

func (f *fakeSender) setStatus(clientID string, status models.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[clientID] = status
}

func (f *fakeSender) failRecipient(recipient string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr[recipient] = err
}

func (f *fakeSender) Send(ctx context.Context, clientID, recipient string, payload models.SendPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, recipient)
	return nil
}

func (f *fakeSender) ListContacts(ctx context.Context, clientID string, savedOnly bool) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if savedOnly {
		var out []models.Contact
		for _, c := range f.contacts {
			if c.Saved {
				out = append(out, c)
			}
		}
		return out, nil
	}
	return append([]models.Contact(nil), f.contacts...), nil
}

func (f *fakeSender) Status(clientID string) models.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.status[clientID]; ok {
		return s
	}
	return models.SessionStatusUninitialized
}

func (f *fakeSender) sentRecipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeStore is an in-memory session store.
type fakeStore struct {
	mu      sync.Mutex
	strings map[string]string
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		strings: make(map[string]string),
		objects: make(map[string][]byte),
	}
}

func (f *fakeStore) GetString(ctx context.Context, clientID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[clientID+"|"+key]
	if !ok {
		return "", models.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) SetString(ctx context.Context, clientID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[clientID+"|"+key] = value
	delete(f.objects, clientID+"|"+key)
	return nil
}

func (f *fakeStore) GetObject(ctx context.Context, clientID, key string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[clientID+"|"+key]
	if !ok {
		return models.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeStore) SetObject(ctx context.Context, clientID, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[clientID+"|"+key] = raw
	delete(f.strings, clientID+"|"+key)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, clientID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strings, clientID+"|"+key)
	delete(f.objects, clientID+"|"+key)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func sortByID(reqs []*models.PendingRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
