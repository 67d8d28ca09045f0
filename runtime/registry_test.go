package runtime

import (
	"chat-bot/domain"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRoom(host string, id int) *domain.Room {
	return domain.NewRoom(domain.RoomKey{Host: host, ID: domain.RoomID(id)}, nil, domain.SessionInfo{}, time.Now())
}

func TestRegistry_Add_Contains_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	room := newRoom("chat.stackexchange.com", 1)

	// Given no room is attached
	req.False(registry.Contains(room))
	req.Empty(registry.Rooms())

	// When the room is added
	registry.Add(room)

	// Then it is found
	req.True(registry.Contains(room))
	got, ok := registry.Get(room.Key)
	req.True(ok)
	req.Same(room, got)

	// When it is removed
	req.True(registry.Remove(room))

	// Then it is gone and a second remove is a no-op
	req.False(registry.Contains(room))
	req.False(registry.Remove(room))
	req.Empty(registry.Rooms())
}

func TestRegistry_Reconnect_ReplacesRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	old := newRoom("chat.stackexchange.com", 1)
	fresh := newRoom("chat.stackexchange.com", 1)

	// Given a room rebuilt on reconnect
	registry.Add(old)
	registry.Add(fresh)

	// Then only the fresh value is registered
	req.Len(registry.Rooms(), 1)
	req.False(registry.Contains(old))
	req.True(registry.Contains(fresh))

	// And a late removal of the old value keeps the fresh one
	req.False(registry.Remove(old))
	req.True(registry.Contains(fresh))
}

func TestRegistry_Rooms_Sorted(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	registry.Add(newRoom("b.host", 1))
	registry.Add(newRoom("a.host", 9))
	registry.Add(newRoom("a.host", 2))

	rooms := registry.Rooms()

	req.Len(rooms, 3)
	req.Equal(domain.RoomKey{Host: "a.host", ID: 2}, rooms[0].Key)
	req.Equal(domain.RoomKey{Host: "a.host", ID: 9}, rooms[1].Key)
	req.Equal(domain.RoomKey{Host: "b.host", ID: 1}, rooms[2].Key)
}

func TestRegistry_NilRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	registry.Add(nil)

	req.False(registry.Contains(nil))
	req.False(registry.Remove(nil))
	req.Empty(registry.Rooms())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			room := newRoom("chat.stackexchange.com", id)
			registry.Add(room)
			_ = registry.Contains(room)
			_ = registry.Rooms()
			registry.Remove(room)
		}(i)
	}
	wg.Wait()
	require.Empty(t, registry.Rooms())
}
