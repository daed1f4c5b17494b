package bot

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"zakupbot/internal/config"
	"zakupbot/internal/model"
	"zakupbot/internal/registry"
	"zakupbot/internal/storage"
)

// mockAPI records everything the bot sends.
type mockAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (m *mockAPI) StopReceivingUpdates() {}

// texts returns the text of every plain message sent so far.
func (m *mockAPI) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (m *mockAPI) lastText(t *testing.T) string {
	t.Helper()
	texts := m.texts()
	if len(texts) == 0 {
		t.Fatal("no messages sent")
	}
	return texts[len(texts)-1]
}

type stubTransport struct {
	resp func(*http.Request) (*http.Response, error)
}

func (s stubTransport) Do(r *http.Request) (*http.Response, error) { return s.resp(r) }

func emptyListing(*http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader([]byte("[]")))}, nil
}

func newTestBot(t *testing.T, transport registry.HTTPClient) (*Bot, *mockAPI) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		DownloadDir: t.TempDir(),
		TargetCodes: []string{"801019.000.000010"},
		HeaderRows:  10,
		Registry: config.RegistryConfig{
			ListURL:     "https://registry.test/plans",
			DownloadURL: "https://registry.test/files",
			Year:        2025,
			PageSize:    20,
			MaxPages:    20,
		},
	}

	api := &mockAPI{}
	b := &Bot{
		api:    api,
		store:  store,
		client: registry.New(transport, cfg.Registry),
		cfg:    cfg,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	cmdLen := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		cmdLen = i
	}
	return &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: userID, FirstName: "Тест"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func TestHandleSubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	b.handleCommand(ctx, commandMessage(42, "/subscribe"))

	subscribed, err := b.store.IsSubscribed(ctx, 42)
	if err != nil {
		t.Fatalf("is subscribed: %v", err)
	}
	if !subscribed {
		t.Error("user should be subscribed after /subscribe")
	}
	if got := api.lastText(t); !strings.Contains(got, "подписались") {
		t.Errorf("unexpected reply: %q", got)
	}

	b.handleCommand(ctx, commandMessage(42, "/unsubscribe"))

	subscribed, err = b.store.IsSubscribed(ctx, 42)
	if err != nil {
		t.Fatalf("is subscribed: %v", err)
	}
	if subscribed {
		t.Error("user should not be subscribed after /unsubscribe")
	}
}

func TestHandleSetEmail(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		wantReply string
		wantStore string
	}{
		{
			name:      "valid address",
			command:   "/setemail user@example.kz",
			wantReply: "✅ Почта user@example.kz сохранена.",
			wantStore: "user@example.kz",
		},
		{
			name:      "missing argument",
			command:   "/setemail",
			wantReply: "Использование",
			wantStore: "",
		},
		{
			name:      "not an address",
			command:   "/setemail not-an-email",
			wantReply: "не email",
			wantStore: "",
		},
		{
			name:      "missing domain dot",
			command:   "/setemail user@host",
			wantReply: "не email",
			wantStore: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, api := newTestBot(t, stubTransport{resp: emptyListing})

			b.handleCommand(ctx, commandMessage(42, tt.command))

			if got := api.lastText(t); !strings.Contains(got, tt.wantReply) {
				t.Errorf("reply = %q, want substring %q", got, tt.wantReply)
			}
			stored, err := b.store.Email(ctx, 42)
			if err != nil {
				t.Fatalf("email: %v", err)
			}
			if stored != tt.wantStore {
				t.Errorf("stored email = %q, want %q", stored, tt.wantStore)
			}
		})
	}
}

func TestHandleStartSendsKeyboard(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	b.handleCommand(context.Background(), commandMessage(42, "/start"))

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if !strings.Contains(msg.Text, "/check") {
		t.Errorf("welcome text missing command hint:\n%s", msg.Text)
	}
	if _, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Errorf("welcome reply markup = %T, want ReplyKeyboardMarkup", msg.ReplyMarkup)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	b.handleCommand(context.Background(), commandMessage(42, "/frobnicate"))

	if got := api.lastText(t); !strings.Contains(got, "Неизвестная команда") {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestHandleCheckNoPlans(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	b.handleCheck(context.Background(), 42)

	texts := api.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want 2: %v", len(texts), texts)
	}
	if !strings.Contains(texts[1], "не найдено") {
		t.Errorf("unexpected final reply: %q", texts[1])
	}
}

func TestNotifyPlanAttachesActions(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})
	plan := model.Plan{
		ExcelFileUID:     "uid-9",
		CustomerName:     "АО Тест",
		CustomerBIN:      "123456789012",
		PlanDurationType: "ANNUAL",
		PlanType:         "BASIC",
	}

	b.NotifyPlan(42, plan, "текст уведомления")

	api.mu.Lock()
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	api.mu.Unlock()
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup = %T, want InlineKeyboardMarkup", msg.ReplyMarkup)
	}
	var data []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				data = append(data, *btn.CallbackData)
			}
		}
	}
	want := []string{"download:uid-9", "email:uid-9"}
	if len(data) != 2 || data[0] != want[0] || data[1] != want[1] {
		t.Errorf("callback data = %v, want %v", data, want)
	}

	// The plan is cached, so on-demand requests get the structured name.
	if got := b.artifactName("uid-9"); got != "АО_Тест_123456789012_Годовой_план_Основной.xlsx" {
		t.Errorf("artifact name = %q", got)
	}
}

func TestArtifactNameFallsBackToUID(t *testing.T) {
	b, _ := newTestBot(t, stubTransport{resp: emptyListing})

	if got := b.artifactName("deadbeef"); got != "deadbeef_filtered.xlsx" {
		t.Errorf("artifact name = %q, want UID fallback", got)
	}
}

func TestHandleCallbackDeniedUser(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})
	b.cfg.AllowedUsers = []int64{1}

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 99},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 99}, Text: "уведомление"},
		Data:    "download:uid-1",
	}
	b.handleCallback(context.Background(), cb)

	if got := api.lastText(t); got != accessDeniedText {
		t.Errorf("reply = %q, want access denied", got)
	}
}

func TestHandleCallbackMalformedData(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	for _, data := range []string{"download", "download:", ""} {
		cb := &tgbotapi.CallbackQuery{
			ID:      "cb1",
			From:    &tgbotapi.User{ID: 42},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
			Data:    data,
		}
		b.handleCallback(context.Background(), cb)
	}

	// Only the callback acks go out, no chat messages.
	if texts := api.texts(); texts != nil {
		t.Errorf("unexpected replies: %v", texts)
	}
}

func TestHandleEmailWithoutMailer(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})

	b.handleEmail(context.Background(), 42, 42, "uid-1", "текст")

	if got := api.lastText(t); !strings.Contains(got, "не настроена") {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestHandleEmailWithoutAddress(t *testing.T) {
	b, api := newTestBot(t, stubTransport{resp: emptyListing})
	b.mailer = nopMailer{}

	b.handleEmail(context.Background(), 42, 42, "uid-1", "текст")

	if got := api.lastText(t); !strings.Contains(got, "/setemail") {
		t.Errorf("unexpected reply: %q", got)
	}
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string, string) error { return nil }
