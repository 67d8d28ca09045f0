package repositories

import (
	"chat-bot/domain"
	errs "chat-bot/errors"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
)

const roomPrefix = "room:"

type IRoomRepository interface {
	Save(params domain.ConnectParams) error
	List() ([]domain.ConnectParams, error)
	Delete(key domain.RoomKey) error
}

// RoomRepository remembers the rooms the bot joined, so they are rejoined on restart.
type RoomRepository struct {
	db    *badger.DB
	log   *slog.Logger
	clock clockwork.Clock
}

func NewRoomRepository(db *badger.DB, log *slog.Logger, clock clockwork.Clock) *RoomRepository {
	return &RoomRepository{db: db, log: log, clock: clock}
}

type roomRecord struct {
	Host      string `cbor:"host"`
	ID        int    `cbor:"id"`
	Permanent bool   `cbor:"permanent"`
	SavedAt   int64  `cbor:"saved_at"`
}

// Save upserts the room under "room:{host}:{id}".
func (r *RoomRepository) Save(params domain.ConnectParams) error {
	bytes, err := encMode.Marshal(roomRecord{
		Host:      params.Key.Host,
		ID:        int(params.Key.ID),
		Permanent: params.Permanent,
		SavedAt:   r.clock.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(params.Key), bytes)
	})
}

// List returns the saved rooms ordered by key.
func (r *RoomRepository) List() ([]domain.ConnectParams, error) {
	var rooms []domain.ConnectParams
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record roomRecord
			err := it.Item().Value(func(value []byte) error {
				return decMode.Unmarshal(value, &record)
			})
			if err != nil {
				return fmt.Errorf("room %s: %w", it.Item().Key(), err)
			}
			rooms = append(rooms, domain.ConnectParams{
				Key:       domain.RoomKey{Host: record.Host, ID: domain.RoomID(record.ID)},
				Permanent: record.Permanent,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// Delete forgets a saved room, ErrRoomNotFound if it was never saved.
func (r *RoomRepository) Delete(key domain.RoomKey) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(roomKey(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", errs.ErrRoomNotFound, key)
			}
			return err
		}
		return txn.Delete(roomKey(key))
	})
}

func roomKey(key domain.RoomKey) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", roomPrefix, key.Host, key.ID))
}
