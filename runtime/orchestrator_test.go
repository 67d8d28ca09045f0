package runtime

import (
	"chat-bot/contract"
	"chat-bot/domain"
	"chat-bot/mocks"
	"chat-bot/repositories"
	"chat-bot/runtime/workers"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	lounge  = domain.RoomKey{Host: "chat.stackexchange.com", ID: 17}
	tavern  = domain.RoomKey{Host: "chat.meta.stackexchange.com", ID: 89}
	sandbox = domain.RoomKey{Host: "chat.stackexchange.com", ID: 1}
)

func newOrchestrator(t *testing.T, supervisor contract.ISupervisor) (*Orchestrator, *repositories.RoomRepository) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	rooms := repositories.NewRoomRepository(db, log, clockwork.NewFakeClock())
	orchestrator := NewOrchestrator(log, clockwork.NewFakeClock(), supervisor, mocks.NewMockConnector(ctrl),
		rooms, repositories.NewMessageRepository(db, log, nil), OrchestratorConfig{
			Session:         domain.SessionInfo{Fkey: "f"},
			Connection:      workers.DefaultConnectionConfig(),
			CharReplacement: '*',
			TimelineSize:    10,
		})
	return orchestrator, rooms
}

func TestOrchestrator_Start_JoinsConfiguredAndSavedRooms(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	supervisor := mocks.NewMockISupervisor(ctrl)
	orchestrator, rooms := newOrchestrator(t, supervisor)

	// Given a room saved by a previous run, and a configured room also saved as permanent
	req.NoError(rooms.Save(domain.ConnectParams{Key: tavern}))
	req.NoError(rooms.Save(domain.ConnectParams{Key: lounge, Permanent: true}))

	// Then one handler per room is supervised
	var names []string
	supervisor.EXPECT().Add(gomock.Any()).DoAndReturn(func(worker ...contract.Worker) contract.ISupervisor {
		names = append(names, contract.GetWorkerName(worker[0]))
		return supervisor
	}).Times(3)
	supervisor.EXPECT().Run(gomock.Any())

	// When starting with two configured rooms
	err := orchestrator.Start(context.Background(), []domain.ConnectParams{{Key: lounge}, {Key: sandbox}})
	req.NoError(err)

	req.ElementsMatch([]string{
		"room:chat.stackexchange.com/17",
		"room:chat.stackexchange.com/1",
		"room:chat.meta.stackexchange.com/89",
	}, names)

	// Then configured rooms are remembered with their configured flag
	saved, err := rooms.List()
	req.NoError(err)
	req.Contains(saved, domain.ConnectParams{Key: lounge})
	req.Contains(saved, domain.ConnectParams{Key: sandbox})
	req.Len(saved, 3)

	// Then the bundled extensions are registered
	stats := orchestrator.Stats()
	req.Len(stats["handlers"], 3)
	req.Equal("CONNECTING", stats["handlers"].(map[string]string)["chat.stackexchange.com/17"])
	req.Empty(orchestrator.Recent(lounge))
}

func TestOrchestrator_Start_WithoutRooms(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	orchestrator, _ := newOrchestrator(t, mocks.NewMockISupervisor(ctrl))

	req.Error(orchestrator.Start(context.Background(), nil))
}

func TestOrchestrator_Forget(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	orchestrator, rooms := newOrchestrator(t, mocks.NewMockISupervisor(ctrl))

	req.NoError(rooms.Save(domain.ConnectParams{Key: lounge}))
	req.NoError(orchestrator.Forget(lounge))

	saved, err := rooms.List()
	req.NoError(err)
	req.Empty(saved)
}

func TestOrchestrator_StopCancelsRunningHandlers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	supervisor := workers.NewSupervisor(log, clockwork.NewRealClock(), workers.DefaultRestartDelay)
	orchestrator, _ := newOrchestrator(t, supervisor)
	connector := orchestrator.connector.(*mocks.MockConnector)

	// Given a connector blocking until the handler is cancelled
	connected := make(chan struct{}, 1)
	connector.EXPECT().Connect(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.ConnectParams, _ domain.SessionInfo) (contract.Conn, domain.SessionInfo, error) {
			connected <- struct{}{}
			<-ctx.Done()
			return nil, domain.SessionInfo{}, ctx.Err()
		})

	done := make(chan error, 1)
	go func() { done <- orchestrator.Start(context.Background(), []domain.ConnectParams{{Key: lounge}}) }()
	<-connected

	// When stopping
	orchestrator.Stop()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("orchestrator did not stop")
	}
}
