package runtime

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/domain/event"
	"chat-bot/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

type Set map[string]struct{}

// ExtensionManager enables and disables the registered extensions per room
// and answers which of them want a given event kind.
type ExtensionManager struct {
	log        *slog.Logger
	mu         sync.RWMutex
	extensions []contract.Extension               // registration order
	interests  map[string]map[event.Type]struct{} // extension name -> kinds
	enabled    map[domain.RoomKey]Set             // room -> enabled extension names
}

func NewExtensionManager(log *slog.Logger) *ExtensionManager {
	return &ExtensionManager{
		log:       log,
		interests: make(map[string]map[event.Type]struct{}),
		enabled:   make(map[domain.RoomKey]Set),
	}
}

// Register appends extensions to the global set. Registering a name twice is ignored.
func (m *ExtensionManager) Register(extensions ...contract.Extension) *ExtensionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ext := range extensions {
		name := ext.Name()
		if _, ok := m.interests[name]; ok {
			m.log.Warn("Extension already registered", "extension", name)
			continue
		}
		kinds := make(map[event.Type]struct{})
		for _, kind := range ext.Interests() {
			kinds[kind] = struct{}{}
		}
		m.interests[name] = kinds
		m.extensions = append(m.extensions, ext)
	}
	return m
}

// EnableAll runs every extension's enable hook for the room.
// Extensions already enabled there are skipped, a failing hook leaves its extension disabled
// without stopping the others.
func (m *ExtensionManager) EnableAll(ctx context.Context, room *domain.Room) {
	if room == nil {
		return
	}
	for _, ext := range m.registered() {
		name := ext.Name()
		if m.isEnabled(room.Key, name) {
			m.log.Debug("Extension already enabled", "extension", name, "room", room.Key.String())
			continue
		}
		if err := runHook(ctx, ext.EnableForRoom, room); err != nil {
			m.log.Error("Extension failed to enable", "extension", name, "room", room.Key.String(), "error", err)
			continue
		}
		m.setEnabled(room.Key, name, true)
		m.log.Debug("Extension enabled", "extension", name, "room", room.Key.String())
	}
}

// DisableAll runs the disable hook of every extension enabled for the room.
// The extension is considered disabled even when its hook fails.
func (m *ExtensionManager) DisableAll(ctx context.Context, room *domain.Room) {
	if room == nil {
		return
	}
	for _, ext := range m.registered() {
		name := ext.Name()
		if !m.isEnabled(room.Key, name) {
			continue
		}
		if err := runHook(ctx, ext.DisableForRoom, room); err != nil {
			m.log.Error("Extension failed to disable", "extension", name, "room", room.Key.String(), "error", err)
		}
		m.setEnabled(room.Key, name, false)
		m.log.Debug("Extension disabled", "extension", name, "room", room.Key.String())
	}
}

// Subscribers returns the extensions enabled for the room that want this kind, in registration order.
func (m *ExtensionManager) Subscribers(key domain.RoomKey, kind event.Type) []contract.Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled := m.enabled[key]
	return lo.Filter(m.extensions, func(ext contract.Extension, _ int) bool {
		if _, ok := enabled[ext.Name()]; !ok {
			return false
		}
		_, ok := m.interests[ext.Name()][kind]
		return ok
	})
}

// Enabled lists the extension names enabled for the room, in registration order.
func (m *ExtensionManager) Enabled(key domain.RoomKey) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled := m.enabled[key]
	return lo.FilterMap(m.extensions, func(ext contract.Extension, _ int) (string, bool) {
		_, ok := enabled[ext.Name()]
		return ext.Name(), ok
	})
}

func (m *ExtensionManager) registered() []contract.Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.extensions)
}

func (m *ExtensionManager) isEnabled(key domain.RoomKey, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.enabled[key][name]
	return ok
}

func (m *ExtensionManager) setEnabled(key domain.RoomKey, name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		if _, ok := m.enabled[key]; !ok {
			m.enabled[key] = make(Set)
		}
		m.enabled[key][name] = struct{}{}
		return
	}
	if names, ok := m.enabled[key]; ok {
		delete(names, name)
		if len(names) == 0 {
			delete(m.enabled, key)
		}
	}
}

// runHook turns a panicking hook into an error.
func runHook(ctx context.Context, hook func(context.Context, *domain.Room) error, room *domain.Room) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrExtensionPanic, r)
		}
	}()
	return hook(ctx, room)
}
