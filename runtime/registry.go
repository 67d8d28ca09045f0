package runtime

import (
	"chat-bot/domain"
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry holds the rooms currently attached, keyed by room identity.
// It only references rooms, the connection handlers own them.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]*domain.Room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomKey]*domain.Room),
	}
}

// Add registers the room, replacing whatever value a previous connection left for the same key.
func (r *Registry) Add(room *domain.Room) {
	if room == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.Key] = room
}

// Remove drops the room only when the registered value is this exact room,
// so a late close of an old connection never evicts its replacement.
func (r *Registry) Remove(room *domain.Room) bool {
	if room == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[room.Key]; !ok || current != room {
		return false
	}
	delete(r.rooms, room.Key)
	return true
}

// Contains reports whether this exact room value is registered.
func (r *Registry) Contains(room *domain.Room) bool {
	if room == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.rooms[room.Key]
	return ok && current == room
}

func (r *Registry) Get(key domain.RoomKey) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[key]
	return room, ok
}

// Rooms returns a snapshot ordered by host then id.
func (r *Registry) Rooms() []*domain.Room {
	r.mu.RLock()
	rooms := lo.Values(r.rooms)
	r.mu.RUnlock()

	slices.SortFunc(rooms, func(a, b *domain.Room) int {
		if c := cmp.Compare(a.Key.Host, b.Key.Host); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.ID, b.Key.ID)
	})
	return rooms
}
