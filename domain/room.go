package domain

import (
	"chat-bot/errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type RoomID int

// RoomKey identifies a room across reconnects: a numeric id is only unique per chat host.
type RoomKey struct {
	Host string
	ID   RoomID
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s/%d", k.Host, k.ID)
}

// SessionInfo is the credential and resume state needed to open a room stream.
// It is opaque to everything but the connector.
type SessionInfo struct {
	Fkey      string
	Cookie    string
	StreamURL string
	Origin    string
}

func (s SessionInfo) IsZero() bool {
	return s == SessionInfo{}
}

// ConnectParams describes which room to attach to.
// A permanent room is retried forever instead of being abandoned after the attempt cap.
type ConnectParams struct {
	Key       RoomKey
	Permanent bool
}

// ParseConnectParams reads "host:id" or "host:id:permanent".
func ParseConnectParams(spec string) (ConnectParams, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return ConnectParams{}, fmt.Errorf("%w: %q", errors.ErrInvalidRoomSpec, spec)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id <= 0 {
		return ConnectParams{}, fmt.Errorf("%w: %q has no valid room id", errors.ErrInvalidRoomSpec, spec)
	}
	params := ConnectParams{Key: RoomKey{Host: parts[0], ID: RoomID(id)}}
	if len(parts) == 3 {
		if parts[2] != "permanent" {
			return ConnectParams{}, fmt.Errorf("%w: unknown flag %q", errors.ErrInvalidRoomSpec, parts[2])
		}
		params.Permanent = true
	}
	return params, nil
}

// Room is one live attachment to a chat room.
// A fresh value is built on every successful open, the previous one is never reused.
type Room struct {
	Key      RoomKey
	Conn     io.Closer
	Session  SessionInfo
	OpenedAt time.Time
}

func NewRoom(key RoomKey, conn io.Closer, session SessionInfo, openedAt time.Time) *Room {
	return &Room{
		Key:      key,
		Conn:     conn,
		Session:  session,
		OpenedAt: openedAt,
	}
}
