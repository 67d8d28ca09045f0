package timeline

import (
	"chat-bot/domain"
	"chat-bot/domain/event"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const Name = "timeline"

// Entry is one message as currently shown in the room.
type Entry struct {
	MessageID int64
	UserName  string
	Content   string
	Stars     int
	Edits     int
	At        time.Time
}

// Timeline keeps the most recent messages of every enabled room in memory.
type Timeline struct {
	log   *slog.Logger
	size  int
	mu    sync.Mutex
	rooms map[domain.RoomKey][]Entry
}

func NewTimeline(log *slog.Logger, size int) *Timeline {
	return &Timeline{log: log, size: max(size, 1), rooms: make(map[domain.RoomKey][]Entry)}
}

func (t *Timeline) Name() string { return Name }

func (t *Timeline) Interests() []event.Type {
	return []event.Type{
		event.MessagePostedType,
		event.MessageEditedType,
		event.MessageDeletedType,
		event.MessageStarredType,
		event.MessageReplyType,
	}
}

func (t *Timeline) EnableForRoom(_ context.Context, room *domain.Room) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[room.Key]; !ok {
		t.rooms[room.Key] = make([]Entry, 0, t.size)
	}
	return nil
}

// DisableForRoom forgets the room: a reconnect starts from an empty timeline.
func (t *Timeline) DisableForRoom(_ context.Context, room *domain.Room) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, room.Key)
	return nil
}

func (t *Timeline) Handle(_ context.Context, evt event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.rooms[evt.RoomKey()]
	if !ok {
		return nil
	}

	switch payload := evt.Payload.(type) {
	case event.MessagePosted:
		entries = t.push(entries, payload.Message, evt.At)
	case event.MessageReply:
		entries = t.push(entries, payload.Message, evt.At)
	case event.MessageEdited:
		if i := indexOf(entries, payload.MessageID); i >= 0 {
			entries[i].Content = payload.Content
			entries[i].Edits = payload.Edits
		}
	case event.MessageStarred:
		if i := indexOf(entries, payload.MessageID); i >= 0 {
			entries[i].Stars = payload.Stars
		}
	case event.MessageDeleted:
		entries = slices.DeleteFunc(entries, func(e Entry) bool { return e.MessageID == payload.MessageID })
	}
	t.rooms[evt.RoomKey()] = entries
	return nil
}

// Recent returns the room's messages, oldest first.
func (t *Timeline) Recent(key domain.RoomKey) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.rooms[key])
}

func (t *Timeline) push(entries []Entry, message event.Message, at time.Time) []Entry {
	if i := indexOf(entries, message.MessageID); i >= 0 {
		t.log.Debug("Message already in timeline", "message_id", message.MessageID)
		return entries
	}
	entries = append(entries, Entry{
		MessageID: message.MessageID,
		UserName:  message.UserName,
		Content:   message.Content,
		At:        at,
	})
	if len(entries) > t.size {
		entries = slices.Delete(entries, 0, len(entries)-t.size)
	}
	return entries
}

func indexOf(entries []Entry, messageID int64) int {
	return slices.IndexFunc(entries, func(e Entry) bool { return e.MessageID == messageID })
}
