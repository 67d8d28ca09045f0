package main

import (
	"chat-bot/internal"
	"chat-bot/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
)

var kindColours = map[string]color.Color{
	"ROOM":    color.FgCyan,
	"MESSAGE": color.FgGreen,
	"EDIT":    color.FgYellow,
	"RAW":     color.FgRed,
}

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "room:", "Prefix to scan, msg: for the journal")
	limit := flag.Int("limit", 0, "Maximum number of records, 0 for all")
	noColour := flag.Bool("no-colour", false, "Disable coloured kinds")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	records, err := repositories.Scan(db, *prefix, *limit)
	if err != nil {
		log.Fatal(err)
	}
	if !*noColour {
		for i := range records {
			if c, ok := kindColours[records[i].Kind]; ok {
				records[i].Kind = c.Render(records[i].Kind)
			}
		}
	}

	internal.RenderRecords(os.Stdout, records)
	fmt.Printf("\n%d record(s) under %q\n", len(records), *prefix)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "Log truncate required") {
		return nil, err
	}

	// The bot was killed mid write: a writable open truncates the value log
	fmt.Println("Value log needs truncating, repairing before reading")
	repaired, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	if err := repaired.Close(); err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	return badger.Open(opts)
}
