package providers

import (
	"context"
	"strings"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Channel endpoints used when the channel config has no base_url.
const (
	DefaultTelegramURL = "https://api.telegram.org"
	DefaultWhatsAppURL = "https://graph.facebook.com/v18.0"
	defaultEmailFrom   = "noreply@lessonflow.local"
)

// Messenger delivers messages with credentials read from the config store.
// Config ids match channel names: "telegram" keeps the bot token as api_key,
// "whatsapp" its access token plus a phone_number_id setting, and "email"
// the relay URL as base_url.
type Messenger struct {
	configs actions.ConfigStore
	client  *client
}

// NewMessenger creates a messenger over configs.
func NewMessenger(configs actions.ConfigStore, doer HTTPDoer) *Messenger {
	return &Messenger{configs: configs, client: newClient(doer)}
}

var _ actions.Messenger = (*Messenger)(nil)

// Send implements actions.Messenger.
func (m *Messenger) Send(ctx context.Context, msg actions.Message) (*actions.Confirmation, error) {
	cfg, err := m.channelConfig(ctx, msg.Channel)
	if err != nil {
		return nil, err
	}

	var id string
	switch msg.Channel {
	case actions.ChannelTelegram:
		id, err = m.sendTelegram(ctx, cfg, msg)
	case actions.ChannelWhatsApp:
		id, err = m.sendWhatsApp(ctx, cfg, msg)
	case actions.ChannelEmail:
		id, err = m.sendEmail(ctx, cfg, msg)
	default:
		err = schema.NewErrorf(schema.ErrCodeValidation, "unsupported channel %q", msg.Channel)
	}
	if err != nil {
		return nil, err
	}
	return &actions.Confirmation{Channel: msg.Channel, To: msg.To, MessageID: id}, nil
}

func (m *Messenger) channelConfig(ctx context.Context, ch actions.Channel) (*schema.ProviderConfig, error) {
	if m.configs == nil {
		return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s is not configured", ch)
	}
	cfg, err := m.configs.GetProviderConfig(ctx, string(ch))
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s is not configured", ch)
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s is disabled", ch)
	}
	return cfg, nil
}

func (m *Messenger) sendTelegram(ctx context.Context, cfg *schema.ProviderConfig, msg actions.Message) (string, error) {
	if cfg.APIKey == "" {
		return "", schema.NewError(schema.ErrCodeMissingCredentials, "telegram bot token is not configured")
	}
	url := baseOr(cfg.BaseURL, DefaultTelegramURL) + "/bot" + cfg.APIKey + "/sendMessage"
	decoded, err := m.client.postJSON(ctx, "telegram", url, nil, map[string]any{
		"chat_id":    msg.To,
		"text":       msg.Body,
		"parse_mode": "HTML",
	})
	if err != nil {
		return "", err
	}
	if ok, _ := m.client.jq.Query(ctx, `.ok`, decoded); len(ok) == 1 && ok[0] == false {
		desc, _ := m.client.extract(ctx, "telegram", `.description`, decoded)
		return "", schema.NewErrorf(schema.ErrCodeProvider, "telegram: %s", desc)
	}
	return m.client.extract(ctx, "telegram", `.result.message_id | tostring`, decoded)
}

func (m *Messenger) sendWhatsApp(ctx context.Context, cfg *schema.ProviderConfig, msg actions.Message) (string, error) {
	if cfg.APIKey == "" {
		return "", schema.NewError(schema.ErrCodeMissingCredentials, "whatsapp access token is not configured")
	}
	sender := cfg.Setting("phone_number_id")
	if sender == "" {
		sender = "me"
	}
	url := baseOr(cfg.BaseURL, DefaultWhatsAppURL) + "/" + sender + "/messages"
	decoded, err := m.client.postJSON(ctx, "whatsapp", url, bearer(cfg.APIKey), map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              "text",
		"text":              map[string]any{"body": msg.Body},
	})
	if err != nil {
		return "", err
	}
	return m.client.extract(ctx, "whatsapp", `.messages[0].id?`, decoded)
}

func (m *Messenger) sendEmail(ctx context.Context, cfg *schema.ProviderConfig, msg actions.Message) (string, error) {
	if cfg.BaseURL == "" {
		return "", schema.NewError(schema.ErrCodeMissingCredentials, "email relay url is not configured")
	}
	from := cfg.Setting("from")
	if from == "" {
		from = defaultEmailFrom
	}
	var headers map[string]string
	if cfg.APIKey != "" {
		headers = bearer(cfg.APIKey)
	}
	decoded, err := m.client.postJSON(ctx, "email", cfg.BaseURL, headers, map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
		"from":    from,
	})
	if err != nil {
		return "", err
	}
	return m.client.extract(ctx, "email", `.messageId?, .message_id?`, decoded)
}

func baseOr(base, def string) string {
	if base == "" {
		return def
	}
	return strings.TrimRight(base, "/")
}
