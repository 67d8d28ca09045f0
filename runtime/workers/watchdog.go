package workers

import (
	"chat-bot/contract"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type watchdogEntry struct {
	id    uuid.UUID
	timer clockwork.Timer
}

// Watchdog arms one-shot liveness timers, at most one per key.
// Scheduling a key again replaces its previous timer, so a connection can
// prove it is alive just by rescheduling.
type Watchdog struct {
	log     *slog.Logger
	clock   clockwork.Clock
	mu      sync.Mutex
	entries map[string]watchdogEntry
}

func NewWatchdog(log *slog.Logger, clock clockwork.Clock) *Watchdog {
	return &Watchdog{
		log:     log,
		clock:   clock,
		entries: make(map[string]watchdogEntry),
	}
}

// Schedule cancels the live timer of key, if any, and arms a new one.
// onTimeout runs on a timer goroutine, once, and never after the handle was cancelled.
func (w *Watchdog) Schedule(key string, timeout time.Duration, onTimeout func()) contract.WatchdogHandle {
	handle := contract.WatchdogHandle{Key: key, ID: uuid.New()}

	w.mu.Lock()
	defer w.mu.Unlock()
	if previous, ok := w.entries[key]; ok {
		previous.timer.Stop()
		delete(w.entries, key)
	}
	timer := w.clock.AfterFunc(timeout, func() { w.fire(handle, timeout, onTimeout) })
	w.entries[key] = watchdogEntry{id: handle.ID, timer: timer}
	return handle
}

// Cancel stops the timer behind handle. Cancelling twice, or after the timer fired, does nothing.
func (w *Watchdog) Cancel(handle contract.WatchdogHandle) {
	if handle.IsZero() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.entries[handle.Key]
	if !ok || entry.id != handle.ID {
		return
	}
	entry.timer.Stop()
	delete(w.entries, handle.Key)
}

// Pending counts the armed timers.
func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Watchdog) fire(handle contract.WatchdogHandle, timeout time.Duration, onTimeout func()) {
	w.mu.Lock()
	entry, ok := w.entries[handle.Key]
	if !ok || entry.id != handle.ID {
		w.mu.Unlock()
		return
	}
	delete(w.entries, handle.Key)
	w.mu.Unlock()

	w.log.Warn("No traffic before deadline, forcing close", "key", handle.Key, "timeout", timeout)
	onTimeout()
}
