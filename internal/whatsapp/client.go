package whatsapp

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
)

// client adapts one whatsmeow connection to the session.Client interface.
type client struct {
	clientID  string
	handler   session.Handler
	wa        *whatsmeow.Client
	container *sqlstore.Container
	qrDir     string
	logger    *zap.Logger
}

// Connect establishes the connection. Devices without stored credentials go
// through the QR handshake; each code is rendered to a PNG for the UI and
// forwarded to the lifecycle handler.
func (c *client) Connect(ctx context.Context) error {
	if c.wa.Store.ID != nil {
		return c.wa.Connect()
	}

	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		if err == whatsmeow.ErrQRStoreContainsID {
			return c.wa.Connect()
		}
		return fmt.Errorf("failed to get QR channel: %w", err)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go func() {
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				if path, err := c.writeQRImage(evt.Code); err != nil {
					c.logger.Warn("Failed to render QR image", zap.Error(err))
				} else {
					c.logger.Info("QR code rendered", zap.String("path", path))
				}
				c.handler.QRGenerated(evt.Code)
			case "success":
				c.logger.Info("QR login succeeded")
			case "timeout":
				c.logger.Warn("QR handshake timed out")
				c.handler.Closed("QR_TIMEOUT")
				return
			}
		}
	}()

	return nil
}

// Send delivers one bundle: text, attachments, contact cards and polls are
// sent as separate WhatsApp messages in that order.
func (c *client) Send(ctx context.Context, recipient string, payload models.SendPayload) error {
	jid, err := parseJID(recipient)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRecipient, err)
	}

	if payload.Message != "" {
		msg := &waE2E.Message{Conversation: proto.String(payload.Message)}
		if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
			return fmt.Errorf("%w: text: %v", models.ErrSendFailed, err)
		}
	}

	for _, path := range payload.Attachments {
		if err := c.sendAttachment(ctx, jid, path); err != nil {
			return err
		}
	}

	for _, card := range payload.ContactCards {
		msg := &waE2E.Message{
			ContactMessage: &waE2E.ContactMessage{
				DisplayName: proto.String(card.Name),
				Vcard:       proto.String(buildVCard(card)),
			},
		}
		if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
			return fmt.Errorf("%w: contact card: %v", models.ErrSendFailed, err)
		}
	}

	for _, poll := range payload.Polls {
		selectable := 1
		if poll.MultipleAnswers {
			selectable = len(poll.Options)
		}
		msg := c.wa.BuildPollCreation(poll.Title, poll.Options, selectable)
		if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
			return fmt.Errorf("%w: poll: %v", models.ErrSendFailed, err)
		}
	}

	return nil
}

// ListContacts exports the device's contact store. Saved contacts are the
// ones carrying an address-book name.
func (c *client) ListContacts(ctx context.Context, savedOnly bool) ([]models.Contact, error) {
	all, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact store: %w", err)
	}

	contacts := make([]models.Contact, 0, len(all))
	for jid, info := range all {
		saved := info.FullName != ""
		if savedOnly && !saved {
			continue
		}
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		contacts = append(contacts, models.Contact{
			Phone: jid.User,
			Name:  name,
			Saved: saved,
		})
	}
	return contacts, nil
}

// Logout unlinks the device and removes stored credentials.
func (c *client) Logout(ctx context.Context) error {
	if err := c.wa.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// Close disconnects and releases the device store without unlinking.
func (c *client) Close() error {
	c.wa.Disconnect()
	return c.container.Close()
}

func (c *client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.logger.Info("Device paired", zap.String("device", v.ID.String()))
		c.handler.Authenticated()
	case *events.Connected:
		c.handler.Ready()
	case *events.LoggedOut:
		c.logger.Warn("Logged out by server", zap.Stringer("reason", v.Reason))
		c.handler.Closed("LOGGED_OUT")
	case *events.StreamReplaced:
		c.handler.Closed("STREAM_REPLACED")
	case *events.Disconnected:
		// Transient socket drop; whatsmeow reconnects on its own. Only
		// LoggedOut and StreamReplaced are terminal.
		c.logger.Warn("Connection lost, waiting for automatic reconnect",
			zap.String("client_id", c.clientID))
	}
}

func (c *client) sendAttachment(ctx context.Context, jid types.JID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read attachment %s: %v", models.ErrSendFailed, path, err)
	}

	uploaded, err := c.wa.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("%w: upload attachment: %v", models.ErrSendFailed, err)
	}

	mimetype := mime.TypeByExtension(filepath.Ext(path))
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	msg := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileName:      proto.String(filepath.Base(path)),
			Title:         proto.String(filepath.Base(path)),
		},
	}
	if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("%w: attachment: %v", models.ErrSendFailed, err)
	}
	return nil
}

func (c *client) writeQRImage(code string) (string, error) {
	filename := fmt.Sprintf("qr-%s-%s.png", sanitizeClientID(c.clientID), uuid.New().String()[:8])
	path := filepath.Join(c.qrDir, filename)

	if err := qrcode.WriteFile(code, qrcode.Medium, 512, path); err != nil {
		return "", err
	}
	return path, nil
}

func buildVCard(card models.ContactCard) string {
	if card.VCard != "" {
		return card.VCard
	}
	return fmt.Sprintf("BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;type=CELL;waid=%s:+%s\nEND:VCARD",
		card.Name, card.Phone, card.Phone)
}

func parseJID(recipient string) (types.JID, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(recipient), "+")

	if strings.ContainsRune(cleaned, '@') {
		jid, err := types.ParseJID(cleaned)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("invalid JID %q: %w", recipient, err)
		}
		return jid, nil
	}

	if cleaned == "" {
		return types.EmptyJID, fmt.Errorf("empty recipient")
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return types.EmptyJID, fmt.Errorf("invalid phone number %q", recipient)
		}
	}
	return types.NewJID(cleaned, types.DefaultUserServer), nil
}
