package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/roomrelay/internal/bot"
)

type captureSink struct {
	mu     sync.Mutex
	events []bot.Event
}

func (s *captureSink) Submit(_ context.Context, ev bot.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) Events() []bot.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bot.Event(nil), s.events...)
}

const updateJSON = `{"update_id":7,"message":{"message_id":5,"from":{"id":42,"is_bot":false,"first_name":"A","username":"alice"},"chat":{"id":42,"type":"private"},"date":0,"text":"hi"}}`

const operatorCommandJSON = `{"update_id":8,"message":{"message_id":6,"from":{"id":1,"is_bot":false,"first_name":"M"},"chat":{"id":-4796230051,"type":"group"},"date":0,"text":"/send_all","entities":[{"type":"bot_command","offset":0,"length":9}]}}`

const testSecret = "s3cret-token_1"

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretTokenHeader, secret)
	}
	return req
}

func TestWebhookSubmitsUpdate(t *testing.T) {
	sink := &captureSink{}
	h := NewWebhookHandler(&tgbotapi.BotAPI{}, sink, testSecret)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, webhookRequest(updateJSON, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, bot.EventMessage, events[0].Kind)
	assert.Equal(t, "hi", events[0].Payload.Text)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	sink := &captureSink{}
	h := NewWebhookHandler(&tgbotapi.BotAPI{}, sink, testSecret)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, webhookRequest("{", testSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sink.Events())
}

func TestWebhookRejectsUpdatesWithoutSecret(t *testing.T) {
	cases := map[string]struct {
		configured string
		sent       string
	}{
		"missing header":      {configured: testSecret, sent: ""},
		"wrong secret":        {configured: testSecret, sent: "guessed"},
		"secret prefix":       {configured: testSecret, sent: testSecret[:4]},
		"handler without one": {configured: "", sent: ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &captureSink{}
			h := NewWebhookHandler(&tgbotapi.BotAPI{}, sink, tc.configured)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, webhookRequest(operatorCommandJSON, tc.sent))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Empty(t, sink.Events(), "forged operator command must not reach the bot")
		})
	}
}

func TestWebhookAcceptsOperatorCommandWithSecret(t *testing.T) {
	sink := &captureSink{}
	h := NewWebhookHandler(&tgbotapi.BotAPI{}, sink, testSecret)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, webhookRequest(operatorCommandJSON, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, bot.EventCommand, events[0].Kind)
	assert.Equal(t, "send_all", events[0].Command)
	assert.Equal(t, int64(-4796230051), events[0].ChatID)
}

type fakeSource struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
}

func (f *fakeSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }

func (f *fakeSource) StopReceivingUpdates() { close(f.stopped) }

func TestPollFeedsSinkUntilCancelled(t *testing.T) {
	src := &fakeSource{ch: make(chan tgbotapi.Update, 2), stopped: make(chan struct{})}
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Poll(ctx, src, sink)
		close(done)
	}()

	src.ch <- tgbotapi.Update{Message: message("one")}
	src.ch <- tgbotapi.Update{EditedMessage: message("ignored")}

	require.Eventually(t, func() bool { return len(sink.Events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	<-src.stopped
	assert.Equal(t, "one", sink.Events()[0].Payload.Text)
}

type fakeRegistrar struct {
	endpoint string
	params   tgbotapi.Params
}

func (f *fakeRegistrar) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.endpoint = endpoint
	f.params = params
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestRegisterWebhookSendsSecret(t *testing.T) {
	api := &fakeRegistrar{}

	require.NoError(t, RegisterWebhook(api, "https://relay.example.com/telegram/webhook", testSecret))

	assert.Equal(t, "setWebhook", api.endpoint)
	assert.Equal(t, "https://relay.example.com/telegram/webhook", api.params["url"])
	assert.Equal(t, testSecret, api.params["secret_token"])
}

func TestRegisterWebhookRequiresSecret(t *testing.T) {
	api := &fakeRegistrar{}

	require.Error(t, RegisterWebhook(api, "https://relay.example.com/telegram/webhook", ""))
	assert.Empty(t, api.endpoint)
}

func TestRemoveWebhook(t *testing.T) {
	api := &fakeAPI{}

	require.NoError(t, RemoveWebhook(api))

	require.Len(t, api.requests, 1)
	assert.IsType(t, tgbotapi.DeleteWebhookConfig{}, api.requests[0])
}
