package telegram

import (
	"context"
	"errors"
	"log/slog"
)

// ErrSendDisabled is returned when no bot token is configured. The worker
// keeps simulating without a token; only delivery is off.
var ErrSendDisabled = errors.New("telegram: sending disabled, no bot token configured")

// Messenger adapts the API client to the notify.Messenger contract, adding
// the disabled mode for tokenless deployments.
type Messenger struct {
	client *Client
	logger *slog.Logger
}

// NewMessenger creates a Messenger. An empty token yields a disabled
// messenger whose sends fail with ErrSendDisabled.
func NewMessenger(config ClientConfig) *Messenger {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if config.Token == "" {
		logger.Warn("telegram bot token not configured, delivery disabled")
		return &Messenger{logger: logger}
	}

	return &Messenger{
		client: NewClient(config),
		logger: logger,
	}
}

// Enabled reports whether delivery is configured.
func (m *Messenger) Enabled() bool {
	return m.client != nil
}

// SendText sends an HTML-formatted text message.
func (m *Messenger) SendText(ctx context.Context, chatID int64, html string) error {
	if m.client == nil {
		return ErrSendDisabled
	}
	return m.client.SendHTML(ctx, chatID, html)
}

// SendDocument sends a binary document under the given filename.
func (m *Messenger) SendDocument(ctx context.Context, chatID int64, filename string, payload []byte) error {
	if m.client == nil {
		return ErrSendDisabled
	}
	return m.client.SendDocument(ctx, chatID, filename, payload)
}
