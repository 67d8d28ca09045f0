package main

import (
	"chat-bot/internal"
	"chat-bot/repositories"
	"chat-bot/runtime"
	"chat-bot/runtime/workers"
	"chat-bot/transport"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bot terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal arrives.
// Returning instead of exiting lets the deferred database close run.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	rooms, err := config.RoomParams()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Supervision & Orchestration
	clock := clockwork.NewRealClock()
	sup := workers.NewSupervisor(log, clock, config.RestartInterval)
	connector := transport.NewWebsocketConnector(log, config.StreamURL, config.HandshakeTimeout)
	orchestrator := runtime.NewOrchestrator(log, clock, sup, connector,
		repositories.NewRoomRepository(db, log, clock),
		repositories.NewMessageRepository(db, log, config.LimitMessages),
		runtime.OrchestratorConfig{
			Session:         config.Session(),
			Connection:      config.ConnectionConfig(),
			CharReplacement: charReplacement,
			TimelineSize:    config.TimelineSize,
		})

	if config.DebugPort > 0 {
		sup.Add(internal.NewDebugServer(log, db, config.DebugPort, orchestrator.Stats))
	}
	if config.ReportInterval > 0 {
		sup.Add(workers.NewReporterWorker(log, clock, config.ReportInterval, orchestrator.Stats))
	}

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Run until a signal arrives
	if err = orchestrator.Start(ctx, rooms); err != nil {
		return exitRuntime, fmt.Errorf("orchestrator failed to start: %w", err)
	}
	log.Info("Program stopped cleanly")
	return exitOK, nil
}
