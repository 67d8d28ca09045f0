package workers

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/domain/event"
	errs "chat-bot/errors"
	"chat-bot/mocks"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testParams = domain.ConnectParams{Key: domain.RoomKey{Host: "chat.stackexchange.com", ID: 17}}

const postedFrame = `{"r17": {"e": [{"event_type": 1, "id": %d, "room_id": 17, "message_id": %d, "user_id": 2, "user_name": "alice", "content": "hello"}], "t": 1, "d": 1}}`

// fakeConn serves frames pushed by the test until it is closed.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.closed:
		return nil, &contract.CloseError{Code: 1000, Reason: "closed"}
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.closes.Add(1)
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type connectionFixture struct {
	clock      *clockwork.FakeClock
	connector  *mocks.MockConnector
	registry   *mocks.MockIRegistry
	extensions *mocks.MockIExtensionManager
	dispatcher *mocks.MockDispatcher
	watchdog   *Watchdog
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clock := clockwork.NewFakeClock()
	return &connectionFixture{
		clock:      clock,
		connector:  mocks.NewMockConnector(ctrl),
		registry:   mocks.NewMockIRegistry(ctrl),
		extensions: mocks.NewMockIExtensionManager(ctrl),
		dispatcher: mocks.NewMockDispatcher(ctrl),
		watchdog:   NewWatchdog(log, clock),
	}
}

func (f *connectionFixture) handler(params domain.ConnectParams, config ConnectionConfig) *ConnectionHandler {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewConnectionHandler(ConnectionDeps{
		Log:        log,
		Clock:      f.clock,
		Connector:  f.connector,
		Registry:   f.registry,
		Extensions: f.extensions,
		Builder:    event.NewBuilder(log),
		Dispatcher: f.dispatcher,
		Watchdog:   f.watchdog,
	}, params, domain.SessionInfo{Fkey: "initial"}, config)
}

// lenientRoomLifecycle accepts any registry and extension traffic.
func (f *connectionFixture) lenientRoomLifecycle() {
	f.registry.EXPECT().Add(gomock.Any()).AnyTimes()
	f.registry.EXPECT().Contains(gomock.Any()).Return(true).AnyTimes()
	f.registry.EXPECT().Remove(gomock.Any()).Return(true).AnyTimes()
	f.extensions.EXPECT().EnableAll(gomock.Any(), gomock.Any()).AnyTimes()
	f.extensions.EXPECT().DisableAll(gomock.Any(), gomock.Any()).AnyTimes()
}

func run(ctx context.Context, handler *ConnectionHandler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- handler.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		require.FailNow(t, "connection handler did not return")
		return nil
	}
}

func connectFailed() error {
	return fmt.Errorf("%w: dial tcp: connection refused", errs.ErrConnectFailed)
}

func TestConnectionHandler_OpenRegistersAndEnablesBeforeData(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	conn := newFakeConn()
	dispatched := make(chan event.Event, 1)
	var added *domain.Room

	// Given a connector opening the stream at once
	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		Return(conn, domain.SessionInfo{Fkey: "fresh"}, nil)

	// Then the room is registered, enabled, fed, disabled and removed in that order
	gomock.InOrder(
		f.registry.EXPECT().Add(gomock.Any()).Do(func(room *domain.Room) { added = room }),
		f.extensions.EXPECT().EnableAll(gomock.Any(), gomock.Any()),
		f.dispatcher.EXPECT().ProcessEvent(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, evt event.Event) (event.Outcome, error) {
				dispatched <- evt
				return event.Outcome{Delivered: 1}, nil
			}),
		f.extensions.EXPECT().DisableAll(gomock.Any(), gomock.Any()),
		f.registry.EXPECT().Contains(gomock.Any()).Return(true),
		f.registry.EXPECT().Remove(gomock.Any()).Return(true),
	)

	handler := f.handler(testParams, DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	// When a frame arrives
	conn.frames <- []byte(fmt.Sprintf(postedFrame, 1, 10))
	evt := <-dispatched
	req.Equal(event.MessagePostedType, evt.Type)
	req.Equal("fresh", handler.Room().Session.Fkey)
	req.Equal(Open, handler.State())

	// When the handler is cancelled
	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)

	req.NotNil(added)
	req.Same(added, evt.Room)
	req.Nil(handler.Room())
	req.Equal(Stopped, handler.State())
	req.True(conn.isClosed())
	req.Equal(0, f.watchdog.Pending())
}

func TestConnectionHandler_DispatchesWholeBatchDespiteFailure(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	f.lenientRoomLifecycle()
	conn := newFakeConn()
	dispatched := make(chan int64, 3)

	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).Return(conn, domain.SessionInfo{}, nil)

	// Given a dispatcher failing on the second event
	f.dispatcher.EXPECT().ProcessEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt event.Event) (event.Outcome, error) {
			dispatched <- evt.ID
			if evt.ID == 2 {
				return event.Outcome{Failed: 1}, errors.New("handler failed")
			}
			return event.Outcome{Delivered: 1}, nil
		}).Times(3)

	handler := f.handler(testParams, DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	// When one frame carries three events out of order
	conn.frames <- []byte(`{"r17": {"e": [
		{"event_type": 3, "id": 3, "room_id": 17, "user_id": 5, "user_name": "bob"},
		{"event_type": 1, "id": 1, "room_id": 17, "message_id": 10, "content": "first"},
		{"event_type": 2, "id": 2, "room_id": 17, "message_id": 10, "content": "edited", "message_edits": 1}
	], "t": 3, "d": 3}}`)

	// Then all three are dispatched in id order
	ids := []int64{<-dispatched, <-dispatched, <-dispatched}
	req.Equal([]int64{1, 2, 3}, ids)

	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
}

func TestConnectionHandler_BadFrameDoesNotBlockNextOne(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	f.lenientRoomLifecycle()
	conn := newFakeConn()
	dispatched := make(chan int64, 2)

	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).Return(conn, domain.SessionInfo{}, nil)
	f.dispatcher.EXPECT().ProcessEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt event.Event) (event.Outcome, error) {
			dispatched <- evt.ID
			return event.Outcome{Delivered: 1}, nil
		}).Times(1)

	handler := f.handler(testParams, DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	// Given undecodable frames
	conn.frames <- []byte(`{"r17": `)
	conn.frames <- []byte(`null`)
	// When a valid frame follows
	conn.frames <- []byte(fmt.Sprintf(postedFrame, 7, 70))

	// Then it is still dispatched
	req.Equal(int64(7), <-dispatched)
	req.Equal(Open, handler.State())

	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
}

func TestConnectionHandler_RecoversFromPanickingDispatch(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	f.lenientRoomLifecycle()
	conn := newFakeConn()
	dispatched := make(chan int64, 2)

	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).Return(conn, domain.SessionInfo{}, nil)
	f.dispatcher.EXPECT().ProcessEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt event.Event) (event.Outcome, error) {
			dispatched <- evt.ID
			if evt.ID == 1 {
				panic("boom")
			}
			return event.Outcome{Delivered: 1}, nil
		}).Times(2)

	handler := f.handler(testParams, DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	conn.frames <- []byte(fmt.Sprintf(postedFrame, 1, 10))
	conn.frames <- []byte(fmt.Sprintf(postedFrame, 2, 20))

	req.Equal([]int64{1, 2}, []int64{<-dispatched, <-dispatched})
	req.Equal(Open, handler.State())

	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
}

func TestConnectionHandler_WatchdogForcesSingleReconnect(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	f.lenientRoomLifecycle()
	first, second := newFakeConn(), newFakeConn()
	var connects atomic.Int32
	var secondSession domain.SessionInfo

	// Given a stream that goes silent after connect
	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.ConnectParams, session domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
			if connects.Add(1) == 1 {
				return first, domain.SessionInfo{Fkey: "fresh"}, nil
			}
			secondSession = session
			return second, session, nil
		}).Times(2)

	config := DefaultConnectionConfig()
	config.InitialGraceTimeout = time.Second
	handler := f.handler(testParams, config)
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	// When the grace timeout elapses without traffic
	req.NoError(f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Second)

	// Then the stream is closed and reopened exactly once
	req.Eventually(func() bool {
		room := handler.Room()
		return room != nil && room.Conn == second
	}, 2*time.Second, 5*time.Millisecond)
	req.Never(func() bool { return connects.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	req.Equal(int32(1), first.closes.Load())
	req.False(second.isClosed())
	req.Equal(1, f.watchdog.Pending())

	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
	req.Equal("fresh", secondSession.Fkey)
}

func TestConnectionHandler_BackoffGrowsLinearly(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	var mu sync.Mutex
	var attempts []time.Time

	// Given a connector that never succeeds
	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		DoAndReturn(func(context.Context, domain.ConnectParams, domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
			mu.Lock()
			attempts = append(attempts, f.clock.Now())
			mu.Unlock()
			return nil, domain.SessionInfo{}, connectFailed()
		}).Times(5)

	config := DefaultConnectionConfig()
	config.MaxAttempts = 5
	handler := f.handler(testParams, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, handler)

	// When every retry delay elapses
	for attempt := 1; attempt < config.MaxAttempts; attempt++ {
		req.NoError(f.clock.BlockUntilContext(ctx, 1))
		f.clock.Advance(config.RetryDelay(attempt))
	}

	// Then the room is abandoned without error
	req.NoError(waitRun(t, done))
	req.Equal(TerminallyFailed, handler.State())

	// Then retries were spaced by 5s, 10s, 15s, 20s
	mu.Lock()
	defer mu.Unlock()
	req.Len(attempts, 5)
	for i, want := range []time.Duration{5, 10, 15, 20} {
		req.Equal(want*time.Second, attempts[i+1].Sub(attempts[i]))
	}
}

func TestConnectionHandler_GivesUpAfterMaxAttempts(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	var connects atomic.Int32

	// Given a connector that never succeeds, and no registry expectation at all
	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		DoAndReturn(func(context.Context, domain.ConnectParams, domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
			connects.Add(1)
			return nil, domain.SessionInfo{}, connectFailed()
		}).AnyTimes()

	config := DefaultConnectionConfig()
	config.MaxAttempts = 3
	handler := f.handler(testParams, config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, handler)

	for attempt := 1; attempt < config.MaxAttempts; attempt++ {
		req.NoError(f.clock.BlockUntilContext(ctx, 1))
		f.clock.Advance(config.BackoffCap)
	}

	// Then exactly MaxAttempts connects were made and nothing was registered
	req.NoError(waitRun(t, done))
	req.Equal(int32(3), connects.Load())
	req.Equal(TerminallyFailed, handler.State())
	req.Nil(handler.Room())
}

func TestConnectionHandler_FatalErrorAbortsAtOnce(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)

	// Given a session the server refuses
	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		Return(nil, domain.SessionInfo{}, errs.ErrInvalidSession).Times(1)

	handler := f.handler(testParams, DefaultConnectionConfig())
	done := run(context.Background(), handler)

	// Then no retry is scheduled
	req.NoError(waitRun(t, done))
	req.Equal(TerminallyFailed, handler.State())
}

func TestConnectionHandler_PermanentRoomRetriesPastCap(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	f.lenientRoomLifecycle()
	conn := newFakeConn()
	var connects atomic.Int32

	// Given a connector failing five times before succeeding
	f.connector.EXPECT().Connect(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.ConnectParams, domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
			if connects.Add(1) <= 5 {
				return nil, domain.SessionInfo{}, connectFailed()
			}
			return conn, domain.SessionInfo{}, nil
		}).Times(6)

	params := testParams
	params.Permanent = true
	config := DefaultConnectionConfig()
	config.MaxAttempts = 2
	handler := f.handler(params, config)
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	for attempt := 1; attempt <= 5; attempt++ {
		req.NoError(f.clock.BlockUntilContext(ctx, 1))
		f.clock.Advance(config.RetryDelay(attempt))
	}

	// Then the permanent room ends up open
	req.Eventually(func() bool { return handler.State() == Open }, 2*time.Second, 5*time.Millisecond)
	req.Equal(int32(6), connects.Load())

	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
	req.Equal(Stopped, handler.State())
}

func TestConnectionHandler_CancelDuringBackoff(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)

	f.connector.EXPECT().Connect(gomock.Any(), testParams, gomock.Any()).
		Return(nil, domain.SessionInfo{}, connectFailed()).Times(1)

	handler := f.handler(testParams, DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, handler)

	// Given the handler waiting before its second attempt
	req.NoError(f.clock.BlockUntilContext(ctx, 1))

	// When the context is cancelled, it stops without another attempt
	cancel()
	req.ErrorIs(waitRun(t, done), context.Canceled)
	req.Equal(Stopped, handler.State())
}

func TestConnectionHandler_OnDataWithoutRoomIsDropped(t *testing.T) {
	req := require.New(t)
	f := newConnectionFixture(t)
	handler := f.handler(testParams, DefaultConnectionConfig())

	// No dispatcher expectation: any dispatch fails the test
	handler.OnData(context.Background(), []byte(fmt.Sprintf(postedFrame, 1, 10)))
	handler.OnClose(context.Background(), 1000, "bye")

	req.Equal(Closed, handler.State())
	req.Equal(0, f.watchdog.Pending())
}

func TestConnectionConfig_RetryDelay(t *testing.T) {
	req := require.New(t)
	config := DefaultConnectionConfig()

	req.Equal(5*time.Second, config.RetryDelay(1))
	req.Equal(10*time.Second, config.RetryDelay(2))
	req.Equal(55*time.Second, config.RetryDelay(11))
	req.Equal(60*time.Second, config.RetryDelay(12))
	req.Equal(60*time.Second, config.RetryDelay(1500))
}

func TestCloseStatus(t *testing.T) {
	req := require.New(t)

	code, reason := closeStatus(&contract.CloseError{Code: 4001, Reason: "kicked"})
	req.Equal(4001, code)
	req.Equal("kicked", reason)

	code, _ = closeStatus(fmt.Errorf("read: %w", &contract.CloseError{Code: 1001, Reason: "going away"}))
	req.Equal(1001, code)

	code, reason = closeStatus(errors.New("read tcp: connection reset"))
	req.Equal(abnormalClosure, code)
	req.Equal("read tcp: connection reset", reason)
}
