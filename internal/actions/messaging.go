package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/lessonflow/internal/expressions"
	"github.com/rendis/lessonflow/pkg/schema"
)

const messagingConfigSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "string", "minLength": 1},
    "message": {"type": "string", "description": "Text with {{ expression }} blocks over input, label, node_id and description. A {{ with no closing }} stays literal; {{\"{{\"}} writes a literal {{."},
    "subject": {"type": "string"}
  },
  "required": ["to"]
}`

// MessagingConfig is the config of whatsapp, telegram and email nodes.
type MessagingConfig struct {
	To      string `mapstructure:"to" validate:"required"`
	Message string `mapstructure:"message"`
	Subject string `mapstructure:"subject"`
}

var channelNames = map[Channel]string{
	ChannelWhatsApp: "WhatsApp",
	ChannelTelegram: "Telegram",
	ChannelEmail:    "Email",
}

// MessagingHandler sends node output over a messaging channel.
type MessagingHandler struct {
	messenger Messenger
	renderer  *expressions.Renderer
}

// NewMessagingHandler creates the messaging handler.
func NewMessagingHandler(m Messenger, r *expressions.Renderer) *MessagingHandler {
	if r == nil {
		r = expressions.NewRenderer(nil)
	}
	return &MessagingHandler{messenger: m, renderer: r}
}

func (h *MessagingHandler) Families() []schema.KindFamily {
	return []schema.KindFamily{schema.FamilyMessaging}
}

func (h *MessagingHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Send the aggregated input, or a templated message, to a WhatsApp number, Telegram chat or email address.",
		ConfigSchema: json.RawMessage(messagingConfigSchema),
	}
}

// Execute sends the message and returns a confirmation naming the destination.
func (h *MessagingHandler) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	var cfg MessagingConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return "", err
	}
	channel := Channel(node.Kind)
	if channel == ChannelEmail {
		if err := validate.Var(cfg.To, "email"); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "to must be an email address, got %q", cfg.To).
				WithNode(node.ID)
		}
	}

	body := input
	if cfg.Message != "" {
		rendered, err := h.renderer.Render(ctx, cfg.Message, templateData(node, input))
		if err != nil {
			return "", err
		}
		body = rendered
	}
	if strings.TrimSpace(body) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "nothing to send: no message and no input").WithNode(node.ID)
	}

	subject := cfg.Subject
	if subject == "" && channel == ChannelEmail {
		subject = node.Label
		if subject == "" {
			subject = "Lesson update"
		}
	}

	conf, err := h.messenger.Send(ctx, Message{Channel: channel, To: cfg.To, Subject: subject, Body: body})
	if err != nil {
		return "", err
	}
	to := cfg.To
	if conf != nil && conf.To != "" {
		to = conf.To
	}
	return fmt.Sprintf("%s message sent to %s", channelNames[channel], to), nil
}

// templateData is the environment of {{ }} blocks in node text.
func templateData(node *schema.Node, input string) map[string]any {
	return map[string]any{
		"input":       input,
		"label":       node.Label,
		"node_id":     node.ID,
		"description": node.Description,
	}
}
