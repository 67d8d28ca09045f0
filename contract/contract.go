//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-bot/domain"
	"chat-bot/domain/event"
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// NamedWorker lets a worker pick its own supervision name.
type NamedWorker interface {
	Worker
	GetName() WorkerName
}

// GetWorkerName returns the worker's own name when it has one,
// otherwise the type name found by reflection.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	if named, ok := w.(NamedWorker); ok {
		return string(named.GetName())
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Conn is one open room stream.
// ReadFrame blocks until a frame arrives or the stream ends; Close may be called any number of times.
type Conn interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Connector opens room streams. A failure wrapping errors.ErrConnectFailed is worth retrying,
// anything else is fatal for the room. The returned SessionInfo replaces the one passed in.
type Connector interface {
	Connect(ctx context.Context, params domain.ConnectParams, session domain.SessionInfo) (Conn, domain.SessionInfo, error)
}

// CloseError reports how a stream ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream closed (%d): %s", e.Code, e.Reason)
}

// Extension is a capability module scoped per room.
// Hooks may perform I/O and must report failures through their error.
type Extension interface {
	event.Handler
	Name() string
	Interests() []event.Type
	EnableForRoom(ctx context.Context, room *domain.Room) error
	DisableForRoom(ctx context.Context, room *domain.Room) error
}

type IExtensionManager interface {
	EnableAll(ctx context.Context, room *domain.Room)
	DisableAll(ctx context.Context, room *domain.Room)
	Subscribers(key domain.RoomKey, kind event.Type) []Extension
}

type IRegistry interface {
	Add(room *domain.Room)
	Remove(room *domain.Room) bool
	Contains(room *domain.Room) bool
	Get(key domain.RoomKey) (*domain.Room, bool)
	Rooms() []*domain.Room
}

type Dispatcher interface {
	ProcessEvent(ctx context.Context, evt event.Event) (event.Outcome, error)
}

// WatchdogHandle identifies one scheduled timeout.
type WatchdogHandle struct {
	Key string
	ID  uuid.UUID
}

func (h WatchdogHandle) IsZero() bool {
	return h.ID == uuid.Nil
}

type IWatchdog interface {
	Schedule(key string, timeout time.Duration, onTimeout func()) WatchdogHandle
	Cancel(handle WatchdogHandle)
}
