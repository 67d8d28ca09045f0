package event

import "context"

// Handler Each kind of event has his own handler.
// Implementations report failure through the returned error, never by panicking.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}
