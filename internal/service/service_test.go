package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
)

// stubRepo implements repository.Repository with an in-memory pending queue
// and result log, enough to exercise the service layer.
type stubRepo struct {
	mu      sync.Mutex
	pingErr error
	pending []*models.PendingRequest
	results []*models.SendResult
	failed  map[string]int64 // clientID -> rows failed
	nextID  int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{failed: make(map[string]int64)}
}

func (s *stubRepo) Ping() error { return s.pingErr }

func (s *stubRepo) PendingRequest() repository.PendingRequestRepository { return (*stubPendingRepo)(s) }

func (s *stubRepo) SendResult() repository.SendResultRepository { return (*stubResultRepo)(s) }

func (s *stubRepo) Campaign() repository.CampaignRepository { return (*stubCampaignRepo)(s) }

func (s *stubRepo) pendingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, req := range s.pending {
		keys = append(keys, req.Key)
	}
	return keys
}

type stubPendingRepo stubRepo

func (s *stubPendingRepo) Enqueue(clientID, key string, typ models.PendingRequestType, data json.RawMessage, scheduledAt time.Time) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req := &models.PendingRequest{
		ID:          s.nextID,
		ClientID:    clientID,
		Key:         key,
		Type:        typ,
		Data:        data,
		Status:      models.RequestStatusPending,
		ScheduledAt: scheduledAt,
	}
	s.pending = append(s.pending, req)
	return req, nil
}

func (s *stubPendingRepo) MarkSuccess(clientID, key string) error { return nil }

func (s *stubPendingRepo) MarkFailed(clientID, key, errMsg, reason string) error { return nil }

func (s *stubPendingRepo) Reschedule(clientID, key string, attempts int, nextAttemptAt time.Time) error {
	return nil
}

func (s *stubPendingRepo) ListPending(clientID string, typ *models.PendingRequestType) ([]*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PendingRequest
	for _, req := range s.pending {
		if req.ClientID == clientID && req.Status == models.RequestStatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *stubPendingRepo) ListPendingByKeyPrefix(clientID, keyPrefix string) ([]*models.PendingRequest, error) {
	return nil, nil
}

func (s *stubPendingRepo) ListDue(now time.Time, limit int) ([]*models.PendingRequest, error) {
	return nil, nil
}

func (s *stubPendingRepo) NextDeadline(now time.Time, excludeClients []string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *stubPendingRepo) FailAllPending(clientID, errMsg, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, req := range s.pending {
		if req.ClientID == clientID && req.Status == models.RequestStatusPending {
			req.Status = models.RequestStatusFailed
			n++
		}
	}
	s.failed[clientID] += n
	return n, nil
}

type stubResultRepo stubRepo

func (s *stubResultRepo) Create(result *models.SendResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *stubResultRepo) Exists(campaignID, recipient string, stepIndex int) (bool, error) {
	return false, nil
}

func (s *stubResultRepo) ListByCampaign(campaignID string) ([]models.SendResult, error) {
	return nil, nil
}

type stubCampaignRepo stubRepo

func (s *stubCampaignRepo) Create(campaign *models.Campaign) error { return nil }

func (s *stubCampaignRepo) GetByID(id string) (*models.Campaign, error) {
	return nil, models.ErrNotFound
}

func (s *stubCampaignRepo) UpdateStatus(id string, status models.CampaignStatus) error { return nil }

// fakeClient and fakeFactory drive the session manager without a real
// messaging connection.
type fakeClient struct {
	handler session.Handler
}

func (c *fakeClient) Connect(ctx context.Context) error { return nil }

func (c *fakeClient) Send(ctx context.Context, recipient string, payload models.SendPayload) error {
	return nil
}

func (c *fakeClient) ListContacts(ctx context.Context, savedOnly bool) ([]models.Contact, error) {
	return []models.Contact{{Phone: "491111", Name: "Alice", Saved: true}}, nil
}

func (c *fakeClient) Logout(ctx context.Context) error { return nil }

func (c *fakeClient) Close() error { return nil }

type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeClient)}
}

func (f *fakeFactory) NewClient(clientID string, handler session.Handler) (session.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{handler: handler}
	f.clients[clientID] = c
	return c, nil
}

func (f *fakeFactory) client(clientID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[clientID]
}

// memStore is an in-memory store.SessionStore with an injectable ping
// error for health checks.
type memStore struct {
	mu      sync.Mutex
	strings map[string]string
	objects map[string][]byte
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		strings: make(map[string]string),
		objects: make(map[string][]byte),
	}
}

func (m *memStore) key(clientID, key string) string { return clientID + "|" + key }

func (m *memStore) GetString(ctx context.Context, clientID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.strings[m.key(clientID, key)]
	if !ok {
		return "", models.ErrNotFound
	}
	return val, nil
}

func (m *memStore) SetString(ctx context.Context, clientID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[m.key(clientID, key)] = value
	delete(m.objects, m.key(clientID, key))
	return nil
}

func (m *memStore) GetObject(ctx context.Context, clientID, key string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.objects[m.key(clientID, key)]
	if !ok {
		return models.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *memStore) SetObject(ctx context.Context, clientID, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(clientID, key)] = raw
	delete(m.strings, m.key(clientID, key))
	return nil
}

func (m *memStore) Delete(ctx context.Context, clientID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, m.key(clientID, key))
	delete(m.objects, m.key(clientID, key))
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memStore) getString(clientID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.strings[m.key(clientID, key)]
	return val, ok
}

// countingKicker records wakeups.
type countingKicker struct {
	mu    sync.Mutex
	kicks int
}

func (k *countingKicker) Kick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kicks++
}

func (k *countingKicker) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			require.FailNow(t, "condition never met")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
