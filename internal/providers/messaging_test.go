package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

func TestMessenger_Telegram(t *testing.T) {
	var got captured
	srv := jsonServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":77}}`, &got)
	m := NewMessenger(memConfigs{"telegram": {ID: "telegram", Enabled: true, APIKey: "123:abc", BaseURL: srv.URL}}, srv.Client())

	conf, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelTelegram, To: "42", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "77", conf.MessageID)
	assert.Equal(t, "/bot123:abc/sendMessage", got.path)
	assert.Equal(t, "42", got.body["chat_id"])
	assert.Equal(t, "hi", got.body["text"])
}

func TestMessenger_TelegramNotOK(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"ok":false,"description":"chat not found"}`, nil)
	m := NewMessenger(memConfigs{"telegram": {ID: "telegram", Enabled: true, APIKey: "t", BaseURL: srv.URL}}, srv.Client())

	_, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelTelegram, To: "1", Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestMessenger_TelegramUnreachableHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	const token = "123456:SECRET-BOT-TOKEN"
	m := NewMessenger(memConfigs{"telegram": {ID: "telegram", Enabled: true, APIKey: token, BaseURL: base}}, &http.Client{})

	_, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelTelegram, To: "1", Body: "x"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeProvider, schema.CodeOf(err))
	assert.Contains(t, schema.MessageOf(err), "telegram: request to "+base+" failed")
	for e := err; e != nil; e = errors.Unwrap(e) {
		assert.NotContains(t, e.Error(), "SECRET-BOT-TOKEN")
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://api.telegram.org", redactURL("https://api.telegram.org/bot1:abc/sendMessage"))
	assert.Equal(t, "(invalid url)", redactURL("::nope"))
}

func TestMessenger_WhatsApp(t *testing.T) {
	var got captured
	srv := jsonServer(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`, &got)
	m := NewMessenger(memConfigs{"whatsapp": {
		ID: "whatsapp", Enabled: true, APIKey: "wa", BaseURL: srv.URL,
		Settings: map[string]any{"phone_number_id": "555"},
	}}, srv.Client())

	conf, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelWhatsApp, To: "+1", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", conf.MessageID)
	assert.Equal(t, "/555/messages", got.path)
	assert.Equal(t, "Bearer wa", got.headers.Get("Authorization"))
	assert.Equal(t, map[string]any{"body": "hello"}, got.body["text"])
}

func TestMessenger_Email(t *testing.T) {
	var got captured
	srv := jsonServer(t, http.StatusOK, `{"messageId":"e-9"}`, &got)
	m := NewMessenger(memConfigs{"email": {ID: "email", Enabled: true, BaseURL: srv.URL + "/send"}}, srv.Client())

	conf, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelEmail, To: "a@b.c", Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "e-9", conf.MessageID)
	assert.Equal(t, "/send", got.path)
	assert.Equal(t, "noreply@lessonflow.local", got.body["from"])
}

func TestMessenger_MissingCredentials(t *testing.T) {
	tests := map[string]memConfigs{
		"absent":   {},
		"disabled": {"telegram": {ID: "telegram", APIKey: "t"}},
		"no token": {"telegram": {ID: "telegram", Enabled: true}},
	}
	for name, cfgs := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewMessenger(cfgs, nil)
			_, err := m.Send(context.Background(), actions.Message{Channel: actions.ChannelTelegram, To: "1", Body: "x"})
			assert.Equal(t, schema.ErrCodeMissingCredentials, schema.CodeOf(err))
		})
	}
}
