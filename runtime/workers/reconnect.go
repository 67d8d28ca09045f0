package workers

import (
	"chat-bot/contract"
	"chat-bot/domain"
	errs "chat-bot/errors"
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryDelay is the wait after the given failed attempt: a linear step, capped.
func (c ConnectionConfig) RetryDelay(attempt int) time.Duration {
	return min(time.Duration(attempt)*c.BackoffStep, c.BackoffCap)
}

// connect tries to open the room stream until it succeeds, the failure is not
// a connect failure, or the attempt cap is reached for a non-permanent room.
func (h *ConnectionHandler) connect(ctx context.Context) (contract.Conn, domain.SessionInfo, error) {
	h.mu.Lock()
	if h.state == Closed {
		h.state = Reconnecting
	}
	h.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.SessionInfo{}, err
		}

		h.log.Debug("Connecting to room stream", "attempt", attempt, "permanent", h.params.Permanent)
		conn, session, err := h.connector.Connect(ctx, h.params, h.currentSession())
		if err == nil {
			return conn, session, nil
		}
		if ctx.Err() != nil {
			return nil, domain.SessionInfo{}, ctx.Err()
		}
		if !errors.Is(err, errs.ErrConnectFailed) {
			return nil, domain.SessionInfo{}, fmt.Errorf("%w: %w", errs.ErrFatalConnect, err)
		}
		if !h.params.Permanent && attempt >= h.config.MaxAttempts {
			return nil, domain.SessionInfo{}, fmt.Errorf("%w after %d attempts: %w", errs.ErrRetriesExhausted, attempt, err)
		}

		delay := h.config.RetryDelay(attempt)
		h.log.Warn("Could not connect, retrying", "attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, domain.SessionInfo{}, ctx.Err()
		case <-h.clock.After(delay):
		}
	}
}

func (h *ConnectionHandler) currentSession() domain.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}
