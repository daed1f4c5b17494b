package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"zakupbot/internal/bot"
	"zakupbot/internal/config"
	"zakupbot/internal/mailer"
	"zakupbot/internal/registry"
	"zakupbot/internal/scheduler"
	"zakupbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.DownloadDir} {
		if dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client := registry.New(http.DefaultClient, cfg.Registry)

	var mail *mailer.SMTP
	if cfg.MailEnabled() {
		mail = mailer.New(cfg.SMTP)
	} else {
		log.Warn("smtp not configured, email delivery disabled")
	}

	b, err := newBot(cfg, store, client, mail, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := newScheduler(cfg, store, client, b, mail, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "codes", cfg.TargetCodes, "interval", cfg.CheckInterval.Std())

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

// newBot and newScheduler keep the nil-mailer wiring in one place: a typed
// nil *mailer.SMTP must not become a non-nil interface value.
func newBot(cfg *config.Config, store storage.Storage, client *registry.Client, mail *mailer.SMTP, log *slog.Logger) (*bot.Bot, error) {
	var m bot.Mailer
	if mail != nil {
		m = mail
	}
	return bot.New(cfg.TelegramBotToken, store, client, m, cfg, log)
}

func newScheduler(cfg *config.Config, store storage.Storage, client *registry.Client, b *bot.Bot, mail *mailer.SMTP, log *slog.Logger) *scheduler.Scheduler {
	var m scheduler.Mailer
	if mail != nil {
		m = mail
	}
	return scheduler.New(store, client, b, m, cfg, log)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
