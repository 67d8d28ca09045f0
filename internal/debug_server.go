package internal

import (
	"chat-bot/contract"
	"chat-bot/repositories"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

const (
	defaultInspectPrefix = "room:"
	defaultInspectLimit  = 200
	shutdownTimeout      = 5 * time.Second
)

type StatsProvider func() map[string]any

// DebugServer exposes the bot's storage and live state over plain HTTP:
// /inspect?prefix=&limit= renders stored records as a table, /stats the live state as JSON.
type DebugServer struct {
	log   *slog.Logger
	db    *badger.DB
	port  int
	stats StatsProvider
}

func NewDebugServer(log *slog.Logger, db *badger.DB, port int, stats StatsProvider) *DebugServer {
	return &DebugServer{log: log, db: db, port: port, stats: stats}
}

func (s *DebugServer) GetName() contract.WorkerName {
	return "debug-server"
}

func (s *DebugServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inspect", s.inspect)
	mux.HandleFunc("/stats", s.serveStats)
	return mux
}

// Run serves until ctx is cancelled.
func (s *DebugServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("Debug inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", s.port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return ctx.Err()
}

func (s *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = defaultInspectPrefix
	}
	limit := defaultInspectLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a positive number", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := repositories.Scan(s.db, prefix, limit)
	if err != nil {
		s.log.Error("Inspect scan failed", "prefix", prefix, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	RenderRecords(w, records)
}

func (s *DebugServer) serveStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{}
	if s.stats != nil {
		stats = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Warn("Could not write stats", "error", err)
	}
}

// RenderRecords writes records as a borderless table.
func RenderRecords(w io.Writer, records []repositories.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Kind", "Room", "At", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, record := range records {
		at := "--:--:--"
		if !record.At.IsZero() {
			at = record.At.Format(time.DateTime)
		}
		table.Append([]string{record.Key, record.Kind, record.Room, at, record.Detail})
	}
	table.Render()
}
