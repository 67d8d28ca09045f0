package runtime

import (
	"chat-bot/contract"
	"chat-bot/domain/event"
	"chat-bot/errors"
	"context"
	"fmt"
	"log/slog"
)

// Dispatcher delivers one event to every interested extension of its room.
//
// Subscribers run sequentially in registration order. A failing subscriber is
// logged and counted, the next one still gets the event.
type Dispatcher struct {
	log        *slog.Logger
	extensions contract.IExtensionManager
}

func NewDispatcher(log *slog.Logger, extensions contract.IExtensionManager) *Dispatcher {
	return &Dispatcher{log: log, extensions: extensions}
}

// ProcessEvent returns an error only when the event cannot be dispatched at all.
func (d *Dispatcher) ProcessEvent(ctx context.Context, evt event.Event) (event.Outcome, error) {
	var outcome event.Outcome
	if evt.Room == nil {
		return outcome, errors.ErrEventWithoutRoom
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	for _, subscriber := range d.extensions.Subscribers(evt.Room.Key, evt.Type) {
		if err := deliver(ctx, subscriber, evt); err != nil {
			outcome.Failed++
			d.log.Error("Subscriber failed to handle event",
				"extension", subscriber.Name(),
				"room", evt.Room.Key.String(),
				"kind", evt.Type.String(),
				"event_id", evt.ID,
				"error", err)
			continue
		}
		outcome.Delivered++
	}
	d.log.Debug("Event dispatched",
		"room", evt.Room.Key.String(),
		"kind", evt.Type.String(),
		"event_id", evt.ID,
		"delivered", outcome.Delivered,
		"failed", outcome.Failed)
	return outcome, nil
}

func deliver(ctx context.Context, subscriber contract.Extension, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrExtensionPanic, r)
		}
	}()
	return subscriber.Handle(ctx, evt)
}
