package event

import (
	"chat-bot/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
)

// roomFrame is the per-room section of a stream frame: "r<roomID>": {"e": [...], "t": ..., "d": ...}.
// Only the entries are read, the sync markers are left undecoded.
type roomFrame struct {
	Events []json.RawMessage `json:"e"`
}

type wireEntry struct {
	EventType    int    `json:"event_type"`
	ID           int64  `json:"id"`
	RoomID       int    `json:"room_id"`
	RoomName     string `json:"room_name"`
	MessageID    int64  `json:"message_id"`
	UserID       int64  `json:"user_id"`
	UserName     string `json:"user_name"`
	Content      string `json:"content"`
	TimeStamp    int64  `json:"time_stamp"`
	ParentID     *int64 `json:"parent_id"`
	TargetUserID int64  `json:"target_user_id"`
	MessageEdits int    `json:"message_edits"`
	MessageStars int    `json:"message_stars"`
}

// Builder turns a decoded stream frame into the ordered events of one room.
// It never fails as a whole: broken entries are skipped one by one.
type Builder struct {
	log *slog.Logger
}

func NewBuilder(log *slog.Logger) *Builder {
	return &Builder{log: log}
}

// Build returns the events addressed to room, ordered by event id when every entry carries one,
// in frame order otherwise. A frame without a section for the room is a heartbeat.
func (b *Builder) Build(payload map[string]json.RawMessage, room *domain.Room) []Event {
	if room == nil {
		return nil
	}
	raw, ok := payload[sectionKey(room.Key.ID)]
	if !ok || len(raw) == 0 {
		return nil
	}

	var frame roomFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.log.Warn("Dropping malformed room section", "room", room.Key.String(), "error", err)
		return nil
	}

	events := make([]Event, 0, len(frame.Events))
	for i, entry := range frame.Events {
		if evt, ok := b.buildOne(i, entry, room); ok {
			events = append(events, evt)
		}
	}

	if lo.EveryBy(events, func(e Event) bool { return e.ID > 0 }) {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	}
	return events
}

func (b *Builder) buildOne(index int, raw json.RawMessage, room *domain.Room) (Event, bool) {
	var head struct {
		EventType *int `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.EventType == nil {
		b.log.Warn("Dropping entry without readable event kind",
			"room", room.Key.String(), "index", index, "error", err)
		return Event{}, false
	}

	kind := Type(*head.EventType)
	if !kind.Known() {
		b.log.Warn("Dropping entry of unknown kind",
			"room", room.Key.String(), "index", index, "event_type", *head.EventType)
		return Event{}, false
	}

	var entry wireEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		b.log.Debug("Skipping unparseable entry",
			"room", room.Key.String(), "index", index, "kind", kind.String(), "error", err)
		return Event{}, false
	}
	if entry.RoomID != 0 && entry.RoomID != int(room.Key.ID) {
		b.log.Debug("Skipping entry of another room",
			"room", room.Key.String(), "entry_room", entry.RoomID)
		return Event{}, false
	}

	payload, err := toPayload(kind, entry)
	if err != nil {
		b.log.Debug("Skipping incomplete entry",
			"room", room.Key.String(), "index", index, "kind", kind.String(), "error", err)
		return Event{}, false
	}

	var at time.Time
	if entry.TimeStamp > 0 {
		at = time.Unix(entry.TimeStamp, 0).UTC()
	}
	return New(entry.ID, room, at, payload), true
}

func toPayload(kind Type, entry wireEntry) (Payload, error) {
	message := Message{
		MessageID: entry.MessageID,
		UserID:    entry.UserID,
		UserName:  entry.UserName,
		Content:   entry.Content,
	}
	switch kind {
	case MessagePostedType:
		if err := requireMessageID(entry); err != nil {
			return nil, err
		}
		return MessagePosted{Message: message}, nil
	case MessageEditedType:
		if err := requireMessageID(entry); err != nil {
			return nil, err
		}
		return MessageEdited{Message: message, Edits: entry.MessageEdits}, nil
	case UserEnteredType:
		return UserEntered{UserID: entry.UserID, UserName: entry.UserName}, nil
	case UserLeftType:
		return UserLeft{UserID: entry.UserID, UserName: entry.UserName}, nil
	case RoomNameChangedType:
		return RoomNameChanged{UserID: entry.UserID, Name: entry.RoomName}, nil
	case MessageStarredType:
		if err := requireMessageID(entry); err != nil {
			return nil, err
		}
		return MessageStarred{MessageID: entry.MessageID, Content: entry.Content, Stars: entry.MessageStars}, nil
	case UserMentionedType:
		if err := requireParent(entry); err != nil {
			return nil, err
		}
		return UserMentioned{Message: message, ParentID: *entry.ParentID, TargetUserID: entry.TargetUserID}, nil
	case MessageDeletedType:
		if err := requireMessageID(entry); err != nil {
			return nil, err
		}
		return MessageDeleted{MessageID: entry.MessageID, UserID: entry.UserID, UserName: entry.UserName}, nil
	case MessageReplyType:
		if err := requireParent(entry); err != nil {
			return nil, err
		}
		return MessageReply{Message: message, ParentID: *entry.ParentID, TargetUserID: entry.TargetUserID}, nil
	}
	return nil, fmt.Errorf("no payload for kind %d", kind)
}

func requireMessageID(entry wireEntry) error {
	if entry.MessageID <= 0 {
		return fmt.Errorf("missing message_id")
	}
	return nil
}

func requireParent(entry wireEntry) error {
	if err := requireMessageID(entry); err != nil {
		return err
	}
	if entry.ParentID == nil {
		return fmt.Errorf("missing parent_id")
	}
	return nil
}

func sectionKey(id domain.RoomID) string {
	return "r" + strconv.Itoa(int(id))
}
