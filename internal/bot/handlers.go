package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"zakupbot/internal/excel"
)

const accessDeniedText = "⛔ У вас нет доступа к этому боту."

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID, msg.From.ID, msg.From.FirstName)
	case "help":
		b.handleHelp(chatID)
	case "check":
		// The manual check downloads and filters spreadsheets; keep the
		// update loop responsive while it runs.
		go b.handleCheck(ctx, chatID)
	case "subscribe":
		b.handleSubscribe(ctx, chatID, msg.From.ID)
	case "unsubscribe":
		b.handleUnsubscribe(ctx, chatID, msg.From.ID)
	case "setemail":
		b.handleSetEmail(ctx, chatID, msg.From.ID, args)
	default:
		b.reply(chatID, "Неизвестная команда. Используйте /help.")
	}
}

func (b *Bot) handleStart(chatID, userID int64, firstName string) {
	b.log.Info("user started bot", "user_id", userID, "name", firstName)

	msg := tgbotapi.NewMessage(chatID,
		`👋 Добро пожаловать в ZakupBot!

Бот отслеживает обновления в планах закупок zakup.sk.kz и уведомляет, если появились подходящие ТРУ.

📌 /check — проверить актуальные планы
🔔 /subscribe — подписаться на автоматические уведомления
✉️ /setemail — указать почту для отправки файлов

Полный список команд: /help`)
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("/check")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send welcome", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Команды:
/check — проверить планы закупок сейчас
/subscribe — подписаться на уведомления
/unsubscribe — отписаться от уведомлений
/setemail <адрес> — почта для отправки отфильтрованных планов

Кнопки под уведомлением:
📥 Скачать ПЗ — получить отфильтрованный план в чат
✉️ Отправить на почту — получить его письмом`)
}

// handleCheck is the synchronous on-demand listing: it reuses the registry
// client and the spreadsheet filter directly and never touches the
// processed-file set or the row history.
func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	b.reply(chatID, "🔍 Проверяю планы закупок, подождите...")

	plans, err := b.client.ListPlans(ctx, b.cfg.Registry.Year)
	if err != nil {
		b.log.Error("list plans", "error", err)
		b.reply(chatID, "❌ Не удалось получить список планов.")
		return
	}

	found := 0
	for _, plan := range plans {
		if plan.ExcelFileUID == "" {
			continue
		}

		raw, err := b.client.Download(ctx, plan.ExcelFileUID)
		if err != nil {
			b.log.Error("download spreadsheet", "file_uid", plan.ExcelFileUID, "error", err)
			continue
		}

		filtered, err := excel.Filter(raw, b.cfg.TargetCodes, b.cfg.HeaderRows)
		if err != nil {
			if !errors.Is(err, excel.ErrNoMatch) {
				b.log.Error("filter spreadsheet", "file_uid", plan.ExcelFileUID, "error", err)
			}
			continue
		}
		_ = filtered.Close()

		b.plans.put(plan)
		msg := tgbotapi.NewMessage(chatID, FormatNotification(plan))
		msg.ReplyMarkup = planKeyboard(plan.ExcelFileUID)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send summary", "chat_id", chatID, "error", err)
		}
		found++
	}

	if found == 0 {
		b.reply(chatID, "🚫 Подходящих планов не найдено.")
	}
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID, userID int64) {
	if err := b.store.Subscribe(ctx, userID); err != nil {
		b.log.Error("subscribe", "user_id", userID, "error", err)
		b.reply(chatID, "❌ Не удалось сохранить подписку.")
		return
	}
	b.reply(chatID, "✅ Вы подписались на автоматические уведомления о новых закупках.")
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID, userID int64) {
	if err := b.store.Unsubscribe(ctx, userID); err != nil {
		b.log.Error("unsubscribe", "user_id", userID, "error", err)
		b.reply(chatID, "❌ Не удалось удалить подписку.")
		return
	}
	b.reply(chatID, "❌ Вы отписались от автоматических уведомлений.")
}

func (b *Bot) handleSetEmail(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		b.reply(chatID, "✉️ Использование: /setemail <адрес>")
		return
	}
	if !emailRe.MatchString(args) {
		b.reply(chatID, "❌ Похоже, это не email. Попробуйте ещё раз.")
		return
	}
	if err := b.store.SetEmail(ctx, userID, args); err != nil {
		b.log.Error("set email", "user_id", userID, "error", err)
		b.reply(chatID, "❌ Не удалось сохранить почту.")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Почта %s сохранена.", args))
}
