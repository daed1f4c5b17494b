// Package scheduler drives the ingestion pipeline: periodic retrieval of
// plan metadata, spreadsheet filtering, two-level change detection, and
// notification fan-out.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"zakupbot/internal/bot"
	"zakupbot/internal/config"
	"zakupbot/internal/excel"
	"zakupbot/internal/model"
	"zakupbot/internal/registry"
	"zakupbot/internal/storage"
)

// PlanNotifier is the interface for delivering plan notifications to a
// recipient. Implementations must swallow per-recipient delivery failures.
type PlanNotifier interface {
	NotifyPlan(userID int64, plan model.Plan, text string)
}

// Mailer is the interface for submitting artifact emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body, attachmentPath string) error
}

// Scheduler periodically checks the registry for new plans and notifies
// subscribers about matching rows.
type Scheduler struct {
	store    storage.Storage
	client   *registry.Client
	notifier PlanNotifier
	mailer   Mailer // nil when mail delivery is disabled
	cfg      *config.Config
	log      *slog.Logger
	tick     time.Duration

	// cycleMu enforces the one-cycle-at-a-time invariant: the scheduler is
	// the sole writer of the processed-file set and the row history.
	cycleMu sync.Mutex
}

// New creates a Scheduler. mailer may be nil to disable email delivery.
func New(store storage.Storage, client *registry.Client, notifier PlanNotifier, mailer Mailer, cfg *config.Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		client:   client,
		notifier: notifier,
		mailer:   mailer,
		cfg:      cfg,
		log:      log,
		tick:     cfg.CheckInterval.Std(),
	}
}

// SetTickInterval overrides the configured check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled. A cycle
// always completes (success or partial failure) before the next sleep;
// individual plan failures never abort the cycle.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one pipeline pass over all currently listed plans. If a
// cycle is already in flight the call is skipped.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.log.Warn("cycle already running, skipping")
		return
	}
	defer s.cycleMu.Unlock()

	s.log.Debug("checking procurement plans")

	plans, err := s.client.ListPlans(ctx, s.cfg.Registry.Year)
	if err != nil {
		s.log.Error("list plans", "error", err)
		return
	}

	for _, plan := range plans {
		if ctx.Err() != nil {
			return
		}
		if plan.ExcelFileUID == "" {
			continue
		}

		seen, err := s.store.HasProcessed(ctx, plan.ExcelFileUID)
		if err != nil {
			s.log.Error("check processed", "file_uid", plan.ExcelFileUID, "error", err)
			continue
		}
		if seen {
			continue
		}

		s.processPlan(ctx, plan)
	}
}

// processPlan runs the pipeline for one unseen plan. The file identifier is
// marked processed only after all per-customer processing completed, so a
// crash mid-evaluation re-evaluates the plan instead of losing a
// notification.
func (s *Scheduler) processPlan(ctx context.Context, plan model.Plan) {
	fileUID := plan.ExcelFileUID
	s.log.Debug("processing plan", "file_uid", fileUID, "customer_bin", plan.CustomerBIN)

	raw, err := s.client.Download(ctx, fileUID)
	if err != nil {
		// Skip this plan only; no history mutation, retried next cycle.
		s.log.Error("download spreadsheet", "file_uid", fileUID, "error", err)
		return
	}

	filtered, err := excel.Filter(raw, s.cfg.TargetCodes, s.cfg.HeaderRows)
	if err != nil {
		if !errors.Is(err, excel.ErrNoMatch) {
			// Malformed spreadsheets are treated as "no match".
			s.log.Error("filter spreadsheet", "file_uid", fileUID, "error", err)
		}
		s.markProcessed(ctx, fileUID)
		return
	}
	defer func() { _ = filtered.Close() }()

	buf, err := filtered.WriteToBuffer()
	if err != nil {
		s.log.Error("encode artifact", "file_uid", fileUID, "error", err)
		s.markProcessed(ctx, fileUID)
		return
	}

	rows, err := excel.ExtractRows(buf.Bytes(), s.cfg.TargetCodes, s.cfg.HeaderRows)
	if err != nil || len(rows) == 0 {
		// Defensive: the filter produced output, so rows should exist.
		if err != nil {
			s.log.Error("extract rows", "file_uid", fileUID, "error", err)
		}
		s.markProcessed(ctx, fileUID)
		return
	}

	newRows, err := s.store.NewRows(ctx, plan.CustomerBIN, rows)
	if err != nil {
		s.log.Error("compare rows", "customer_bin", plan.CustomerBIN, "error", err)
		return
	}
	if len(newRows) == 0 {
		s.log.Debug("no new rows", "customer_bin", plan.CustomerBIN, "file_uid", fileUID)
		s.markProcessed(ctx, fileUID)
		return
	}

	// Persist dedup state before fan-out so a crash mid-delivery never
	// re-notifies for the same rows.
	if err := s.store.RecordRows(ctx, plan.CustomerBIN, rows); err != nil {
		s.log.Error("record rows", "customer_bin", plan.CustomerBIN, "error", err)
		return
	}

	text := bot.FormatNotification(plan)
	s.fanOut(ctx, plan, text, filtered)

	s.markProcessed(ctx, fileUID)
}

// fanOut delivers the notification to a snapshot of the subscriber set taken
// at dispatch start; subscription changes during the loop do not affect the
// in-flight cycle. Recipients with an on-file address additionally get the
// artifact by email under its deterministic file name.
func (s *Scheduler) fanOut(ctx context.Context, plan model.Plan, text string, artifact *excelize.File) {
	subscribers, err := s.store.ListSubscribers(ctx)
	if err != nil {
		s.log.Error("list subscribers", "error", err)
		return
	}

	sent := 0
	for _, userID := range subscribers {
		s.notifier.NotifyPlan(userID, plan, text)
		sent++

		s.emailArtifact(ctx, userID, plan, text, artifact)

		// Rate limit: ~20 messages/sec max for Telegram.
		time.Sleep(50 * time.Millisecond)
	}

	if sent > 0 {
		s.log.Info("sent notifications", "file_uid", plan.ExcelFileUID, "count", sent)
	}
}

// emailArtifact mails the already-filtered artifact to one recipient when an
// address is on file. The per-recipient copy is removed regardless of the
// delivery outcome; failures are logged and isolated.
func (s *Scheduler) emailArtifact(ctx context.Context, userID int64, plan model.Plan, text string, artifact *excelize.File) {
	if s.mailer == nil {
		return
	}

	address, err := s.store.Email(ctx, userID)
	if err != nil {
		s.log.Error("get email", "user_id", userID, "error", err)
		return
	}
	if address == "" {
		return
	}

	name := excel.SafeFileName(
		plan.CustomerName,
		plan.CustomerBIN,
		model.DurationLabel(plan.PlanDurationType),
		model.PlanTypeLabel(plan.PlanType),
	)
	path := filepath.Join(s.cfg.DownloadDir, name)
	if err := artifact.SaveAs(path); err != nil {
		s.log.Error("save artifact", "path", path, "error", err)
		return
	}
	defer func() { _ = os.Remove(path) }()

	if err := s.mailer.Send(ctx, address, bot.MailSubject, text+bot.MailFooter, path); err != nil {
		s.log.Error("send email", "user_id", userID, "address", address, "error", err)
		return
	}
	s.log.Debug("emailed artifact", "user_id", userID, "address", address)
}

func (s *Scheduler) markProcessed(ctx context.Context, fileUID string) {
	if err := s.store.MarkProcessed(ctx, fileUID); err != nil {
		s.log.Error("mark processed", "file_uid", fileUID, "error", err)
	}
}
