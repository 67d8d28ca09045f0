package repositories

import (
	"chat-bot/domain"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	GetMessages(room domain.RoomKey, cursor *string) ([]DiskMessage, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// DiskMessage is one journaled chat message. Edits are stored as new entries.
type DiskMessage struct {
	ID        uuid.UUID
	Room      domain.RoomKey
	MessageID int64
	UserID    int64
	Author    string
	Content   string
	Edited    bool
	At        time.Time
}

type messageRecord struct {
	ID        uuid.UUID `cbor:"id"`
	Host      string    `cbor:"host"`
	Room      int       `cbor:"room"`
	MessageID int64     `cbor:"message_id"`
	UserID    int64     `cbor:"user_id"`
	Author    string    `cbor:"author"`
	Content   string    `cbor:"content"`
	Edited    bool      `cbor:"edited,omitempty"`
	At        int64     `cbor:"at"`
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{host}:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m MessageRepository) StoreMessage(message DiskMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	key := fmt.Sprintf("%s%019d:%s",
		messagePrefix(message.Room),
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := encMode.Marshal(fromDiskMessage(message))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages returns the messages of a room, newest first, with a prefix scan.
// When the limit stops the scan, the returned cursor resumes right after the last
// message; a nil cursor means there is nothing older.
func (m MessageRepository) GetMessages(room domain.RoomKey, cursor *string) ([]DiskMessage, *string, error) {
	var diskMessages []DiskMessage
	var next *string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := messagePrefix(room)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible timestamp, then walk back in time
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[prefixLen:]) == *cursor {
			it.Next()
		}

		var lastKey string
		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(diskMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				next = &lastKey
				break
			}
			item := it.Item()
			// Memorize cursor part of the actual key
			lastKey = string(item.Key()[prefixLen:])
			var record messageRecord
			err := item.Value(func(value []byte) error {
				return decMode.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			diskMessages = append(diskMessages, toDiskMessage(record))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return diskMessages, next, nil
}

func messagePrefix(room domain.RoomKey) string {
	return fmt.Sprintf("msg:%s:%d:", room.Host, room.ID)
}

func fromDiskMessage(message DiskMessage) messageRecord {
	return messageRecord{
		ID:        message.ID,
		Host:      message.Room.Host,
		Room:      int(message.Room.ID),
		MessageID: message.MessageID,
		UserID:    message.UserID,
		Author:    message.Author,
		Content:   message.Content,
		Edited:    message.Edited,
		At:        message.At.UnixNano(),
	}
}

func toDiskMessage(record messageRecord) DiskMessage {
	return DiskMessage{
		ID:        record.ID,
		Room:      domain.RoomKey{Host: record.Host, ID: domain.RoomID(record.Room)},
		MessageID: record.MessageID,
		UserID:    record.UserID,
		Author:    record.Author,
		Content:   record.Content,
		Edited:    record.Edited,
		At:        time.Unix(0, record.At).UTC(),
	}
}
