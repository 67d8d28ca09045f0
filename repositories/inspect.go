package repositories

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Record is a human readable view of one stored key, for inspection tools.
type Record struct {
	Key    string
	Kind   string
	Room   string
	At     time.Time
	Detail string
}

// Scan describes every record whose key starts with prefix, in key order.
// Values that cannot be decoded are reported as RAW instead of failing the scan.
func Scan(db *badger.DB, prefix string, limit int) ([]Record, error) {
	var records []Record
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(value []byte) error {
				records = append(records, describe(key, value))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

func describe(key string, value []byte) Record {
	raw := Record{Key: key, Kind: "RAW", Detail: fmt.Sprintf("Size: %d bytes", len(value))}
	switch {
	case strings.HasPrefix(key, roomPrefix):
		var record roomRecord
		if err := decMode.Unmarshal(value, &record); err != nil {
			return raw
		}
		detail := "on demand"
		if record.Permanent {
			detail = "permanent"
		}
		return Record{
			Key:    key,
			Kind:   "ROOM",
			Room:   fmt.Sprintf("%s/%d", record.Host, record.ID),
			At:     time.Unix(0, record.SavedAt).UTC(),
			Detail: detail,
		}
	case strings.HasPrefix(key, "msg:"):
		var record messageRecord
		if err := decMode.Unmarshal(value, &record); err != nil {
			return raw
		}
		kind := "MESSAGE"
		if record.Edited {
			kind = "EDIT"
		}
		return Record{
			Key:    key,
			Kind:   kind,
			Room:   fmt.Sprintf("%s/%d", record.Host, record.Room),
			At:     time.Unix(0, record.At).UTC(),
			Detail: fmt.Sprintf("#%d %s: %s", record.MessageID, record.Author, record.Content),
		}
	}
	return raw
}
