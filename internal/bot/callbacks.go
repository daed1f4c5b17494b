package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"zakupbot/internal/excel"
	"zakupbot/internal/model"
)

const (
	actionDownload = "download"
	actionEmail    = "email"
)

// Mail content for artifact delivery.
const (
	MailSubject = "План закупок"
	MailFooter  = "\n\nВо вложении находится отфильтрованный план закупок"
)

// handleCallback serves the on-demand artifact path: the artifact is always
// re-derived from the registry, and neither the processed-file set nor the
// row history is consulted or mutated.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	ack := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(ack); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(cb.Data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return
	}
	action, fileUID := parts[0], parts[1]

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.reply(cb.Message.Chat.ID, accessDeniedText)
		return
	}

	chatID := cb.Message.Chat.ID
	b.log.Info("callback", "action", action, "file_uid", fileUID, "user_id", cb.From.ID)

	switch action {
	case actionDownload:
		b.handleDownload(ctx, chatID, fileUID)
	case actionEmail:
		b.handleEmail(ctx, chatID, cb.From.ID, fileUID, cb.Message.Text)
	}
}

func (b *Bot) handleDownload(ctx context.Context, chatID int64, fileUID string) {
	path, ok := b.prepareArtifact(ctx, chatID, fileUID)
	if !ok {
		return
	}
	defer func() { _ = os.Remove(path) }()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error("send document", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Не удалось отправить файл.")
	}
}

func (b *Bot) handleEmail(ctx context.Context, chatID, userID int64, fileUID, messageText string) {
	if b.mailer == nil {
		b.reply(chatID, "❌ Отправка на почту не настроена.")
		return
	}

	address, err := b.store.Email(ctx, userID)
	if err != nil {
		b.log.Error("get email", "user_id", userID, "error", err)
		b.reply(chatID, "❌ Не удалось отправить файл.")
		return
	}
	if address == "" {
		b.reply(chatID, "❌ Вы ещё не указали почту. Используйте команду /setemail.")
		return
	}

	path, ok := b.prepareArtifact(ctx, chatID, fileUID)
	if !ok {
		return
	}
	defer func() { _ = os.Remove(path) }()

	if err := b.mailer.Send(ctx, address, MailSubject, messageText+MailFooter, path); err != nil {
		b.log.Error("send email", "user_id", userID, "address", address, "error", err)
		b.reply(chatID, "❌ Ошибка при отправке на почту.")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Обработанный ПЗ отправлен на %s", address))
}

// prepareArtifact re-downloads and re-filters the spreadsheet and writes it
// under its deterministic file name. On failure the requester gets a plain
// failure message and any partial file is removed.
func (b *Bot) prepareArtifact(ctx context.Context, chatID int64, fileUID string) (string, bool) {
	raw, err := b.client.Download(ctx, fileUID)
	if err != nil {
		b.log.Error("download spreadsheet", "file_uid", fileUID, "error", err)
		b.reply(chatID, "❌ Не удалось скачать файл.")
		return "", false
	}

	filtered, err := excel.Filter(raw, b.cfg.TargetCodes, b.cfg.HeaderRows)
	if err != nil {
		if errors.Is(err, excel.ErrNoMatch) {
			b.reply(chatID, "❌ В файле не найдено подходящих позиций.")
		} else {
			b.log.Error("filter spreadsheet", "file_uid", fileUID, "error", err)
			b.reply(chatID, "❌ Не удалось обработать файл.")
		}
		return "", false
	}
	defer func() { _ = filtered.Close() }()

	path := filepath.Join(b.cfg.DownloadDir, b.artifactName(fileUID))
	if err := filtered.SaveAs(path); err != nil {
		b.log.Error("save artifact", "path", path, "error", err)
		_ = os.Remove(path)
		b.reply(chatID, "❌ Не удалось обработать файл.")
		return "", false
	}
	return path, true
}

// artifactName derives the artifact file name from the cached plan fields,
// falling back to the file UID when the plan is no longer cached (e.g.
// after a restart).
func (b *Bot) artifactName(fileUID string) string {
	if plan, ok := b.plans.get(fileUID); ok {
		return excel.SafeFileName(
			plan.CustomerName,
			plan.CustomerBIN,
			model.DurationLabel(plan.PlanDurationType),
			model.PlanTypeLabel(plan.PlanType),
		)
	}
	return fileUID + "_filtered.xlsx"
}
