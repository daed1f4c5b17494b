// Package bot implements the Telegram transport: user commands, callback
// actions, and notification delivery.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"zakupbot/internal/config"
	"zakupbot/internal/model"
	"zakupbot/internal/registry"
	"zakupbot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Mailer is the interface for submitting artifact emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body, attachmentPath string) error
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api    telegramAPI
	store  storage.Storage
	client *registry.Client
	mailer Mailer // nil when mail delivery is disabled
	cfg    *config.Config
	log    *slog.Logger
	plans  planCache
}

// New creates a Bot with the given Telegram token, storage, registry client
// and mail transport (mailer may be nil).
func New(token string, store storage.Storage, client *registry.Client, mailer Mailer, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:    api,
		store:  store,
		client: client,
		mailer: mailer,
		cfg:    cfg,
		log:    log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				// Callback actions download and filter spreadsheets; keep
				// the update loop responsive while they run.
				go b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, accessDeniedText)
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// NotifyPlan delivers a plan notification with download/email actions to one
// recipient. Delivery failures are logged, never returned: a single bad
// recipient must not affect the rest of the fan-out.
func (b *Bot) NotifyPlan(userID int64, plan model.Plan, text string) {
	b.plans.put(plan)

	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = planKeyboard(plan.ExcelFileUID)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send notification", "user_id", userID, "error", err)
	}
}

func planKeyboard(fileUID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📥 Скачать ПЗ", actionDownload+":"+fileUID),
			tgbotapi.NewInlineKeyboardButtonData("✉️ Отправить на почту", actionEmail+":"+fileUID),
		),
	)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// planCache remembers plans seen during this process's lifetime so that
// on-demand artifact requests can derive file names from structured fields
// instead of re-parsing rendered notification text. Entries are keyed by
// spreadsheet file UID; a cache miss falls back to a UID-based name.
type planCache struct {
	mu    sync.Mutex
	plans map[string]model.Plan
}

func (c *planCache) put(p model.Plan) {
	if p.ExcelFileUID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plans == nil {
		c.plans = make(map[string]model.Plan)
	}
	c.plans[p.ExcelFileUID] = p
}

func (c *planCache) get(fileUID string) (model.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[fileUID]
	return p, ok
}
