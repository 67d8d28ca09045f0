package workers

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/domain/event"
	errs "chat-bot/errors"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State int

const (
	Connecting State = iota
	Open
	Closed
	Reconnecting
	TerminallyFailed
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Reconnecting:
		return "RECONNECTING"
	case TerminallyFailed:
		return "TERMINALLY_FAILED"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// abnormalClosure is reported when a stream ends without a close frame.
const abnormalClosure = 1006

type ConnectionConfig struct {
	HeartbeatTimeout    time.Duration
	InitialGraceTimeout time.Duration
	BackoffStep         time.Duration
	BackoffCap          time.Duration
	MaxAttempts         int
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		HeartbeatTimeout:    40 * time.Second,
		InitialGraceTimeout: 2 * time.Second,
		BackoffStep:         5 * time.Second,
		BackoffCap:          60 * time.Second,
		MaxAttempts:         1500,
	}
}

// ConnectionDeps are the collaborators shared by every room's handler.
type ConnectionDeps struct {
	Log        *slog.Logger
	Clock      clockwork.Clock
	Connector  contract.Connector
	Registry   contract.IRegistry
	Extensions contract.IExtensionManager
	Builder    *event.Builder
	Dispatcher contract.Dispatcher
	Watchdog   contract.IWatchdog
}

// ConnectionHandler owns the lifecycle of one room stream:
// Connecting -> Open -> Closed -> Reconnecting -> (Open | TerminallyFailed).
//
// Run drives everything on a single goroutine, so frames of a room are
// handled one at a time in arrival order. Only the watchdog callback runs
// elsewhere, and it does nothing but close the transport.
type ConnectionHandler struct {
	log        *slog.Logger
	clock      clockwork.Clock
	connector  contract.Connector
	registry   contract.IRegistry
	extensions contract.IExtensionManager
	builder    *event.Builder
	dispatcher contract.Dispatcher
	watchdog   contract.IWatchdog
	params     domain.ConnectParams
	config     ConnectionConfig

	mu             sync.Mutex
	state          State
	session        domain.SessionInfo
	room           *domain.Room
	conn           contract.Conn
	watchdogHandle contract.WatchdogHandle
}

func NewConnectionHandler(deps ConnectionDeps, params domain.ConnectParams,
	session domain.SessionInfo, config ConnectionConfig) *ConnectionHandler {
	return &ConnectionHandler{
		log:        deps.Log.With("room", params.Key.String()),
		clock:      deps.Clock,
		connector:  deps.Connector,
		registry:   deps.Registry,
		extensions: deps.Extensions,
		builder:    deps.Builder,
		dispatcher: deps.Dispatcher,
		watchdog:   deps.Watchdog,
		params:     params,
		config:     config,
		state:      Connecting,
		session:    session,
	}
}

func (h *ConnectionHandler) GetName() contract.WorkerName {
	return contract.WorkerName("room:" + h.params.Key.String())
}

func (h *ConnectionHandler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Room returns the room of the current connection, nil while not open.
func (h *ConnectionHandler) Room() *domain.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room
}

// Run connects, serves the stream and reconnects until the room is given up
// or ctx is cancelled. Giving up returns nil: the room must not be restarted.
func (h *ConnectionHandler) Run(ctx context.Context) error {
	for {
		conn, session, err := h.connect(ctx)
		if err != nil {
			return h.finish(ctx, err)
		}
		h.OnOpen(ctx, conn, session)
		code, reason := h.readLoop(ctx, conn)
		h.OnClose(ctx, code, reason)
	}
}

// OnOpen registers a fresh room and enables its extensions.
// The watchdog starts with the short grace timeout: the first heartbeat comes right after connect.
func (h *ConnectionHandler) OnOpen(ctx context.Context, conn contract.Conn, session domain.SessionInfo) {
	defer h.recoverCallback("open")

	room := domain.NewRoom(h.params.Key, conn, session, h.clock.Now())
	h.mu.Lock()
	h.state = Open
	h.conn = conn
	h.session = session
	h.room = room
	h.mu.Unlock()

	h.armWatchdog(conn, h.config.InitialGraceTimeout)
	h.registry.Add(room)
	h.extensions.EnableAll(ctx, room)
	h.log.Debug("Room stream open")
}

// OnData proves liveness, decodes the frame and dispatches its events in order.
// Every event of a batch is dispatched even when a previous one failed; only a
// cancelled context drops the rest of the batch.
func (h *ConnectionHandler) OnData(ctx context.Context, frame []byte) {
	defer h.recoverCallback("data")

	h.mu.Lock()
	room, conn := h.room, h.conn
	h.mu.Unlock()
	if room == nil {
		h.log.Warn("Frame received without an open room, dropping", "size", len(frame))
		return
	}
	h.armWatchdog(conn, h.config.HeartbeatTimeout)

	payload, err := decodeFrame(frame)
	if err != nil {
		h.log.Warn("Dropping undecodable frame", "size", len(frame), "error", err)
		return
	}

	events := h.builder.Build(payload, room)
	for i, evt := range events {
		if _, err := h.dispatcher.ProcessEvent(ctx, evt); err != nil {
			if ctx.Err() != nil {
				h.log.Debug("Context done, dropping rest of batch", "remaining", len(events)-i-1)
				return
			}
			h.log.Error("Event dispatch failed",
				"kind", evt.Type.String(), "event_id", evt.ID, "error", err)
		}
	}
}

// OnClose stops the watchdog, disables extensions and, unless another close already did it,
// unregisters the room. Extension hooks run even when ctx is already cancelled.
func (h *ConnectionHandler) OnClose(ctx context.Context, code int, reason string) {
	defer h.recoverCallback("close")

	h.mu.Lock()
	handle, room := h.watchdogHandle, h.room
	h.watchdogHandle = contract.WatchdogHandle{}
	h.state = Closed
	h.mu.Unlock()

	h.watchdog.Cancel(handle)
	h.log.Debug("Room stream closed", "code", code, "reason", reason)
	if room == nil {
		return
	}

	h.extensions.DisableAll(context.WithoutCancel(ctx), room)
	if h.registry.Contains(room) {
		h.registry.Remove(room)
		h.mu.Lock()
		h.room = nil
		h.conn = nil
		h.mu.Unlock()
	}
}

func (h *ConnectionHandler) readLoop(ctx context.Context, conn contract.Conn) (int, string) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return closeStatus(err)
		}
		h.OnData(ctx, frame)
	}
}

func (h *ConnectionHandler) armWatchdog(conn contract.Conn, timeout time.Duration) {
	handle := h.watchdog.Schedule(h.params.Key.String(), timeout, func() {
		_ = conn.Close()
	})
	h.mu.Lock()
	h.watchdogHandle = handle
	h.mu.Unlock()
}

func (h *ConnectionHandler) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

func (h *ConnectionHandler) finish(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		h.setState(Stopped)
		h.log.Info("Connection handler stopped")
		return ctx.Err()
	}
	h.setState(TerminallyFailed)
	h.log.Error("Room abandoned, no more reconnect attempts", "error", err)
	return nil
}

// recoverCallback keeps a lifecycle callback from taking the room goroutine down.
func (h *ConnectionHandler) recoverCallback(callback string) {
	if r := recover(); r != nil {
		h.log.Error("Lifecycle callback failed",
			"callback", callback, "error", fmt.Errorf("%w: %v", errs.ErrWorkerPanic, r))
	}
}

func decodeFrame(frame []byte) (map[string]json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidFrame, err)
	}
	if payload == nil {
		return nil, errs.ErrInvalidFrame
	}
	return payload, nil
}

func closeStatus(err error) (int, string) {
	var closeErr *contract.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Reason
	}
	return abnormalClosure, err.Error()
}
