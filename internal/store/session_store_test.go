package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/store"
)

func setupTestStore(t *testing.T) (store.SessionStore, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())

	cleanup := func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}

	return store.NewSessionStore(client, zap.NewNop()), cleanup
}

func TestSessionStore_Strings(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.GetString(ctx, "tenant-1", "token")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, s.SetString(ctx, "tenant-1", "token", "abc123"))

		got, err := s.GetString(ctx, "tenant-1", "token")
		require.NoError(t, err)
		assert.Equal(t, "abc123", got)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		_, err := s.GetString(ctx, "tenant-2", "token")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "tenant-1", "token"))
		_, err := s.GetString(ctx, "tenant-1", "token")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestSessionStore_Objects(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	contacts := []models.Contact{
		{Phone: "491111", Name: "Alice", Saved: true},
		{Phone: "492222", Name: "Bob", Saved: false},
	}
	require.NoError(t, s.SetObject(ctx, "tenant-1", "contacts:export-1", contacts))

	var got []models.Contact
	require.NoError(t, s.GetObject(ctx, "tenant-1", "contacts:export-1", &got))
	assert.Equal(t, contacts, got)

	t.Run("missing object", func(t *testing.T) {
		var out []models.Contact
		err := s.GetObject(ctx, "tenant-1", "contacts:missing", &out)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestSessionStore_StringAndObjectAreExclusive(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, s.SetObject(ctx, "tenant-1", "state", map[string]string{"a": "b"}))
	require.NoError(t, s.SetString(ctx, "tenant-1", "state", "plain"))

	// Writing the string cleared the object representation.
	var out map[string]string
	err := s.GetObject(ctx, "tenant-1", "state", &out)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := s.GetString(ctx, "tenant-1", "state")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestSessionStore_Ping(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	assert.NoError(t, s.Ping(context.Background()))
}
