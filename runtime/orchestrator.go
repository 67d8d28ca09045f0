// Package runtime holds the shared tables of the bot (rooms, extensions) and wires
// one supervised connection handler per room. It contains no chat business logic.
package runtime

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/domain/event"
	"chat-bot/extensions/journal"
	"chat-bot/extensions/moderation"
	"chat-bot/extensions/timeline"
	"chat-bot/repositories"
	"chat-bot/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

type OrchestratorConfig struct {
	Session         domain.SessionInfo
	Connection      workers.ConnectionConfig
	CharReplacement rune
	TimelineSize    int
}

type Orchestrator struct {
	mu                sync.Mutex
	log               *slog.Logger
	clock             clockwork.Clock
	supervisor        contract.ISupervisor
	connector         contract.Connector
	registry          *Registry
	extensions        *ExtensionManager
	dispatcher        *Dispatcher
	watchdog          *workers.Watchdog
	roomRepository    repositories.IRoomRepository
	messageRepository repositories.IMessageRepository
	config            OrchestratorConfig
	timeline          *timeline.Timeline
	moderation        *moderation.Extension
	handlers          map[domain.RoomKey]*workers.ConnectionHandler
}

func NewOrchestrator(log *slog.Logger, clock clockwork.Clock, supervisor contract.ISupervisor,
	connector contract.Connector, roomRepository repositories.IRoomRepository,
	messageRepository repositories.IMessageRepository, config OrchestratorConfig) *Orchestrator {
	extensions := NewExtensionManager(log)
	return &Orchestrator{
		log:               log,
		clock:             clock,
		supervisor:        supervisor,
		connector:         connector,
		registry:          NewRegistry(),
		extensions:        extensions,
		dispatcher:        NewDispatcher(log, extensions),
		watchdog:          workers.NewWatchdog(log, clock),
		roomRepository:    roomRepository,
		messageRepository: messageRepository,
		config:            config,
		handlers:          make(map[domain.RoomKey]*workers.ConnectionHandler),
	}
}

// Start prepares the extensions and one handler per room, then runs the supervisor until ctx is done.
// Rooms saved by a previous run are joined too.
func (o *Orchestrator) Start(ctx context.Context, configured []domain.ConnectParams) error {
	// Loading files and building the automaton happen before any room connects
	if err := o.prepareExtensions(); err != nil {
		return err
	}
	rooms, err := o.mergeRooms(configured)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no room to join")
	}

	o.mu.Lock()
	for _, params := range rooms {
		handler := workers.NewConnectionHandler(o.connectionDeps(), params, o.config.Session, o.config.Connection)
		o.handlers[params.Key] = handler
		o.supervisor.Add(handler)
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator", "rooms", len(rooms))
	o.supervisor.Run(ctx)
	return nil
}

// Stop cancels every room handler; Start returns once they are closed.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

func (o *Orchestrator) prepareExtensions() error {
	data, err := moderation.LoadBundled()
	if err != nil {
		return fmt.Errorf("censored words: %w", err)
	}
	o.log.Info(fmt.Sprintf("%d censored files loaded [%s]", len(data.Languages), strings.Join(data.Languages, ",")))
	o.log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	moderator, err := moderation.NewModerator(data.Words, o.config.CharReplacement, o.log)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeline = timeline.NewTimeline(o.log, o.config.TimelineSize)
	o.moderation = moderation.NewExtension(o.log, moderator)
	o.extensions.Register(
		journal.NewJournal(o.messageRepository, o.clock, o.log),
		o.timeline,
		o.moderation,
	)
	return nil
}

// mergeRooms saves the configured rooms and adds the ones saved earlier.
// A configured room overrides the saved permanence flag.
func (o *Orchestrator) mergeRooms(configured []domain.ConnectParams) ([]domain.ConnectParams, error) {
	for _, params := range configured {
		if err := o.roomRepository.Save(params); err != nil {
			return nil, fmt.Errorf("save room %s: %w", params.Key, err)
		}
	}
	saved, err := o.roomRepository.List()
	if err != nil {
		return nil, fmt.Errorf("list saved rooms: %w", err)
	}
	return lo.UniqBy(append(configured, saved...), func(p domain.ConnectParams) domain.RoomKey {
		return p.Key
	}), nil
}

func (o *Orchestrator) connectionDeps() workers.ConnectionDeps {
	return workers.ConnectionDeps{
		Log:        o.log,
		Clock:      o.clock,
		Connector:  o.connector,
		Registry:   o.registry,
		Extensions: o.extensions,
		Builder:    event.NewBuilder(o.log),
		Dispatcher: o.dispatcher,
		Watchdog:   o.watchdog,
	}
}

// Forget stops rejoining the room on the next start.
func (o *Orchestrator) Forget(key domain.RoomKey) error {
	return o.roomRepository.Delete(key)
}

func (o *Orchestrator) GetMessages(key domain.RoomKey, cursor *string) ([]repositories.DiskMessage, *string, error) {
	return o.messageRepository.GetMessages(key, cursor)
}

func (o *Orchestrator) Recent(key domain.RoomKey) []timeline.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timeline == nil {
		return nil
	}
	return o.timeline.Recent(key)
}

func (o *Orchestrator) Flags(key domain.RoomKey) []moderation.Flag {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.moderation == nil {
		return nil
	}
	return o.moderation.Flags(key)
}

// Stats describes every handled room for the debug server.
func (o *Orchestrator) Stats() map[string]any {
	o.mu.Lock()
	handlers := lo.Values(o.handlers)
	o.mu.Unlock()

	states := make(map[string]string, len(handlers))
	for _, handler := range handlers {
		states[strings.TrimPrefix(string(handler.GetName()), "room:")] = handler.State().String()
	}
	open := lo.Map(o.registry.Rooms(), func(room *domain.Room, _ int) map[string]any {
		return map[string]any{
			"room":       room.Key.String(),
			"opened_at":  room.OpenedAt,
			"extensions": o.extensions.Enabled(room.Key),
		}
	})
	return map[string]any{
		"handlers":       states,
		"open":           open,
		"pending_timers": o.watchdog.Pending(),
	}
}
