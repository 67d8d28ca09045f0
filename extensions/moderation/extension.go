package moderation

import (
	"chat-bot/domain"
	"chat-bot/domain/event"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/abadojack/whatlanggo"
)

const Name = "moderation"

// Flag records a message that contained censored words.
type Flag struct {
	MessageID int64
	UserName  string
	Censored  string
	Words     []string
	Lang      string
}

// Extension flags posted and edited messages containing censored words.
type Extension struct {
	log       *slog.Logger
	moderator *Moderator
	mu        sync.Mutex
	flags     map[domain.RoomKey][]Flag
}

func NewExtension(log *slog.Logger, moderator *Moderator) *Extension {
	return &Extension{
		log:       log,
		moderator: moderator,
		flags:     make(map[domain.RoomKey][]Flag),
	}
}

func (e *Extension) Name() string { return Name }

func (e *Extension) Interests() []event.Type {
	return []event.Type{event.MessagePostedType, event.MessageEditedType}
}

func (e *Extension) EnableForRoom(_ context.Context, room *domain.Room) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.flags[room.Key]; !ok {
		e.flags[room.Key] = []Flag{}
	}
	return nil
}

func (e *Extension) DisableForRoom(_ context.Context, room *domain.Room) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Debug("Moderation disabled", "room", room.Key.String(), "flagged", len(e.flags[room.Key]))
	delete(e.flags, room.Key)
	return nil
}

func (e *Extension) Handle(_ context.Context, evt event.Event) error {
	var message event.Message
	switch payload := evt.Payload.(type) {
	case event.MessagePosted:
		message = payload.Message
	case event.MessageEdited:
		message = payload.Message
	default:
		return nil
	}

	censored, words := e.moderator.Censor(message.Content)
	if len(words) == 0 {
		return nil
	}
	lang := whatlanggo.Detect(message.Content).Lang.Iso6391()
	e.log.Warn("Censored words detected",
		"room", evt.RoomKey().String(),
		"message_id", message.MessageID,
		"user", message.UserName,
		"words", words,
		"lang", lang)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.flags[evt.RoomKey()]; !ok {
		return nil
	}
	e.flags[evt.RoomKey()] = append(e.flags[evt.RoomKey()], Flag{
		MessageID: message.MessageID,
		UserName:  message.UserName,
		Censored:  censored,
		Words:     words,
		Lang:      lang,
	})
	return nil
}

// Flags returns the messages flagged in the room since it was enabled.
func (e *Extension) Flags(key domain.RoomKey) []Flag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.flags[key])
}
