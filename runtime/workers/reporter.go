package workers

import (
	"chat-bot/contract"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// ReporterWorker periodically logs a snapshot of the bot's live state.
type ReporterWorker struct {
	log      *slog.Logger
	clock    clockwork.Clock
	interval time.Duration
	snapshot func() map[string]any
}

func NewReporterWorker(log *slog.Logger, clock clockwork.Clock, interval time.Duration, snapshot func() map[string]any) *ReporterWorker {
	return &ReporterWorker{log: log, clock: clock, interval: interval, snapshot: snapshot}
}

func (w *ReporterWorker) GetName() contract.WorkerName {
	return "reporter"
}

// Run logs a snapshot on every tick and a last one on cancellation.
func (w *ReporterWorker) Run(ctx context.Context) error {
	startTime := w.clock.Now()
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.report(startTime)
			w.log.Info("Reporter stopped")
			return ctx.Err()
		case <-ticker.Chan():
			w.report(startTime)
		}
	}
}

func (w *ReporterWorker) report(startTime time.Time) {
	w.log.Info("Bot status", statusAttrs(w.clock.Since(startTime), w.snapshot())...)
}

// statusAttrs lists the uptime first, then the stats by key.
func statusAttrs(uptime time.Duration, stats map[string]any) []any {
	keys := lo.Keys(stats)
	slices.Sort(keys)
	return append([]any{"uptime", uptime.Round(time.Second).String()},
		lo.Map(keys, func(key string, _ int) any { return slog.Any(key, stats[key]) })...)
}
