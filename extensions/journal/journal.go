package journal

import (
	"chat-bot/domain"
	"chat-bot/domain/event"
	"chat-bot/repositories"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const Name = "journal"

// Journal writes posted and edited messages to the message repository.
type Journal struct {
	repository repositories.IMessageRepository
	clock      clockwork.Clock
	log        *slog.Logger
}

func NewJournal(repository repositories.IMessageRepository, clock clockwork.Clock, log *slog.Logger) *Journal {
	return &Journal{repository: repository, clock: clock, log: log}
}

func (j *Journal) Name() string { return Name }

func (j *Journal) Interests() []event.Type {
	return []event.Type{event.MessagePostedType, event.MessageEditedType}
}

func (j *Journal) EnableForRoom(_ context.Context, room *domain.Room) error {
	j.log.Debug("Journaling room", "room", room.Key.String())
	return nil
}

func (j *Journal) DisableForRoom(_ context.Context, room *domain.Room) error {
	j.log.Debug("Journal stopped", "room", room.Key.String())
	return nil
}

func (j *Journal) Handle(_ context.Context, evt event.Event) error {
	switch payload := evt.Payload.(type) {
	case event.MessagePosted:
		return j.store(evt, payload.Message, false)
	case event.MessageEdited:
		return j.store(evt, payload.Message, true)
	default:
		j.log.Debug(fmt.Sprintf("Not journaled event : %v", evt.Type))
		return nil
	}
}

func (j *Journal) store(evt event.Event, message event.Message, edited bool) error {
	at := evt.At
	if at.IsZero() {
		at = j.clock.Now().UTC()
	}
	err := j.repository.StoreMessage(repositories.DiskMessage{
		ID:        uuid.New(),
		Room:      evt.RoomKey(),
		MessageID: message.MessageID,
		UserID:    message.UserID,
		Author:    message.UserName,
		Content:   message.Content,
		Edited:    edited,
		At:        at,
	})
	if err != nil {
		return fmt.Errorf("journal message %d: %w", message.MessageID, err)
	}
	return nil
}
