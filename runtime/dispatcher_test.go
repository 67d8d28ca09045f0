package runtime

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/domain/event"
	"chat-bot/errors"
	"chat-bot/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDispatcher_ProcessEvent_IsolatesSubscriberFailures(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	room := newRoom("chat.stackexchange.com", 17)
	evt := event.New(7, room, time.Now(), event.UserEntered{UserID: 1, UserName: "alice"})

	var calls []string
	failing := mocks.NewMockExtension(ctrl)
	failing.EXPECT().Name().Return("failing").AnyTimes()
	failing.EXPECT().Handle(gomock.Any(), evt).DoAndReturn(func(context.Context, event.Event) error {
		calls = append(calls, "failing")
		return fmt.Errorf("api quota exceeded")
	}).Times(1)

	panicking := mocks.NewMockExtension(ctrl)
	panicking.EXPECT().Name().Return("panicking").AnyTimes()
	panicking.EXPECT().Handle(gomock.Any(), evt).DoAndReturn(func(context.Context, event.Event) error {
		calls = append(calls, "panicking")
		panic("nil map")
	}).Times(1)

	healthy := mocks.NewMockExtension(ctrl)
	healthy.EXPECT().Name().Return("healthy").AnyTimes()
	healthy.EXPECT().Handle(gomock.Any(), evt).DoAndReturn(func(context.Context, event.Event) error {
		calls = append(calls, "healthy")
		return nil
	}).Times(1)

	manager := mocks.NewMockIExtensionManager(ctrl)
	manager.EXPECT().Subscribers(room.Key, event.UserEnteredType).
		Return([]contract.Extension{failing, panicking, healthy}).Times(1)

	// When the event is dispatched
	outcome, err := NewDispatcher(log, manager).ProcessEvent(context.Background(), evt)

	// Then every subscriber ran in order and failures were counted
	req.NoError(err)
	req.Equal([]string{"failing", "panicking", "healthy"}, calls)
	req.Equal(event.Outcome{Delivered: 1, Failed: 2}, outcome)
}

func TestDispatcher_ProcessEvent_NoSubscribers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	room := newRoom("chat.stackexchange.com", 17)

	outcome, err := NewDispatcher(log, NewExtensionManager(log)).
		ProcessEvent(context.Background(), event.New(1, room, time.Now(), event.UserLeft{UserID: 3}))

	req.NoError(err)
	req.Equal(event.Outcome{}, outcome)
}

func TestDispatcher_ProcessEvent_Rejects(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dispatcher := NewDispatcher(log, NewExtensionManager(log))

	// Given an event without room
	_, err := dispatcher.ProcessEvent(context.Background(), event.New(1, nil, time.Now(), event.UserLeft{}))
	req.ErrorIs(err, errors.ErrEventWithoutRoom)

	// Given a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	room := domain.NewRoom(domain.RoomKey{Host: "h", ID: 1}, nil, domain.SessionInfo{}, time.Now())
	_, err = dispatcher.ProcessEvent(ctx, event.New(1, room, time.Now(), event.UserLeft{}))
	req.ErrorIs(err, context.Canceled)
}
