// Package whatsapp implements the session.Client interface on top of
// whatsmeow. Each tenant owns a sqlite-backed device store so authenticated
// sessions survive process restarts.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/config"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
)

// Factory allocates whatsmeow clients bound to per-tenant sqlite session
// stores under the configured data directory.
type Factory struct {
	cfg    *config.WhatsAppConfig
	logger *zap.Logger
}

// NewFactory creates a client factory, ensuring the session and QR
// directories exist.
func NewFactory(cfg *config.WhatsAppConfig, logger *zap.Logger) (*Factory, error) {
	if err := os.MkdirAll(cfg.SessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	if err := os.MkdirAll(cfg.QRDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create qr directory: %w", err)
	}

	return &Factory{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// NewClient opens (or creates) the tenant's device store and wraps a
// whatsmeow client around it.
func (f *Factory) NewClient(clientID string, handler session.Handler) (session.Client, error) {
	dbPath := f.sessionPath(clientID)
	dbURI := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)

	ctx := context.Background()
	dbLog := waLog.Noop
	container, err := sqlstore.New(ctx, "sqlite3", dbURI, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store for %s: %w", clientID, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to get device for %s: %w", clientID, err)
	}
	if device == nil {
		device = container.NewDevice()
		if err := container.PutDevice(ctx, device); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to store device for %s: %w", clientID, err)
		}
	}

	wa := whatsmeow.NewClient(device, waLog.Noop)

	c := &client{
		clientID:  clientID,
		handler:   handler,
		wa:        wa,
		container: container,
		qrDir:     f.cfg.QRDir,
		logger:    f.logger.With(zap.String("client_id", clientID)),
	}
	wa.AddEventHandler(c.handleEvent)

	return c, nil
}

// ListExisting enumerates tenants with a persisted device store, enabling
// restart replay.
func (f *Factory) ListExisting() ([]string, error) {
	entries, err := os.ReadDir(f.cfg.SessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".db"))
	}
	return ids, nil
}

func (f *Factory) sessionPath(clientID string) string {
	return filepath.Join(f.cfg.SessionsDir, sanitizeClientID(clientID)+".db")
}

func sanitizeClientID(clientID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, clientID)
}
