package event

import (
	"chat-bot/domain"
	"time"
)

// Type is the kind discriminator carried by every entry of a stream frame.
// Values follow the chat protocol numbering.
type Type int

const (
	MessagePostedType   Type = 1
	MessageEditedType   Type = 2
	UserEnteredType     Type = 3
	UserLeftType        Type = 4
	RoomNameChangedType Type = 5
	MessageStarredType  Type = 6
	UserMentionedType   Type = 8
	MessageDeletedType  Type = 10
	MessageReplyType    Type = 18
)

func (t Type) String() string {
	switch t {
	case MessagePostedType:
		return "MESSAGE_POSTED"
	case MessageEditedType:
		return "MESSAGE_EDITED"
	case UserEnteredType:
		return "USER_ENTERED"
	case UserLeftType:
		return "USER_LEFT"
	case RoomNameChangedType:
		return "ROOM_NAME_CHANGED"
	case MessageStarredType:
		return "MESSAGE_STARRED"
	case UserMentionedType:
		return "USER_MENTIONED"
	case MessageDeletedType:
		return "MESSAGE_DELETED"
	case MessageReplyType:
		return "MESSAGE_REPLY"
	}
	return "UNKNOWN"
}

// Known reports whether the builder knows how to decode this kind.
func (t Type) Known() bool {
	return t.String() != "UNKNOWN"
}

// Event is an immutable notification decoded from one stream frame.
// It lives for a single dispatch pass.
type Event struct {
	ID      int64
	Type    Type
	Room    *domain.Room
	At      time.Time
	Payload Payload
}

func (e Event) RoomKey() domain.RoomKey {
	if e.Room == nil {
		return domain.RoomKey{}
	}
	return e.Room.Key
}

// Payload is the closed set of kind-specific field sets.
type Payload interface {
	eventType() Type
}

type Message struct {
	MessageID int64
	UserID    int64
	UserName  string
	Content   string
}

type MessagePosted struct {
	Message
}

type MessageEdited struct {
	Message
	Edits int
}

type UserEntered struct {
	UserID   int64
	UserName string
}

type UserLeft struct {
	UserID   int64
	UserName string
}

type RoomNameChanged struct {
	UserID int64
	Name   string
}

type MessageStarred struct {
	MessageID int64
	Content   string
	Stars     int
}

// UserMentioned is raised when a message pings the bot.
// ParentID is the message carrying the mention.
type UserMentioned struct {
	Message
	ParentID     int64
	TargetUserID int64
}

type MessageDeleted struct {
	MessageID int64
	UserID    int64
	UserName  string
}

type MessageReply struct {
	Message
	ParentID     int64
	TargetUserID int64
}

func (MessagePosted) eventType() Type   { return MessagePostedType }
func (MessageEdited) eventType() Type   { return MessageEditedType }
func (UserEntered) eventType() Type     { return UserEnteredType }
func (UserLeft) eventType() Type        { return UserLeftType }
func (RoomNameChanged) eventType() Type { return RoomNameChangedType }
func (MessageStarred) eventType() Type  { return MessageStarredType }
func (UserMentioned) eventType() Type   { return UserMentionedType }
func (MessageDeleted) eventType() Type  { return MessageDeletedType }
func (MessageReply) eventType() Type    { return MessageReplyType }

// New builds an event whose Type always matches its payload.
func New(id int64, room *domain.Room, at time.Time, payload Payload) Event {
	return Event{
		ID:      id,
		Type:    payload.eventType(),
		Room:    room,
		At:      at,
		Payload: payload,
	}
}

// Outcome summarises one dispatch pass of an event.
type Outcome struct {
	Delivered int
	Failed    int
}
