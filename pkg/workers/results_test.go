package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	mocks "github.com/cbodonnell/herosync/mocks/github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBattleResultFromEvent(t *testing.T) {
	event := types.BattleCompletedEvent{
		BattleID: "b1",
		Winner:   "A",
		Battle: types.Battle{
			ID: "b1", Player1: "A", Player2: "B", Hero1ID: 1, Hero2ID: 2, StartTime: 5,
			Moves: []types.Move{{PlayerID: "A", Action: "attack"}, {PlayerID: "B", Action: "attack"}},
		},
	}
	got := BattleResultFromEvent(event, time.UnixMilli(99))
	assert.Equal(t, &models.BattleResult{
		BattleID: "b1", Player1: "A", Player2: "B", Hero1ID: 1, Hero2ID: 2,
		Winner: "A", Moves: 2, StartTime: 5, CompletedAt: 99,
	}, got)
}

func TestResultsWorker_SavesCompletedBattles(t *testing.T) {
	s, bus := newTestStore(t, nil)
	repo := repositories.NewInMemoryResultRepository()
	w := NewResultsWorker(NewResultsWorkerOptions{Repository: repo, Bus: bus, RetryInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	s.AddPlayer(types.Player{Address: "A", HeroID: 1})
	s.AddPlayer(types.Player{Address: "B", HeroID: 2})
	require.NoError(t, s.CreateBattle(types.Battle{ID: "b1", Player1: "A", Player2: "B", Hero1ID: 1, Hero2ID: 2}))
	s.AddBattleMove("b1", types.Move{PlayerID: "A", Action: "attack"})
	s.CompleteBattle("b1", "A")
	// a second completion is a no-op and must not produce a second record
	s.CompleteBattle("b1", "B")

	assert.Eventually(t, func() bool {
		result, err := repo.GetResult(context.Background(), "b1")
		return err == nil && result.Winner == "A" && result.Moves == 1
	}, time.Second, 5*time.Millisecond)

	results, err := repo.ListResults(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestResultsWorker_RetriesFailedSaves(t *testing.T) {
	s, bus := newTestStore(t, nil)
	repo := mocks.NewResultRepository(t)
	saved := make(chan struct{})

	isB1 := mock.MatchedBy(func(r *models.BattleResult) bool { return r.BattleID == "b1" })
	repo.On("SaveResult", mock.Anything, isB1).Return(errors.New("database is down")).Once()
	repo.On("SaveResult", mock.Anything, isB1).Return(nil).Once().Run(func(args mock.Arguments) {
		close(saved)
	})

	w := NewResultsWorker(NewResultsWorkerOptions{Repository: repo, Bus: bus, RetryInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	s.AddPlayer(types.Player{Address: "A"})
	s.AddPlayer(types.Player{Address: "B"})
	require.NoError(t, s.CreateBattle(types.Battle{ID: "b1", Player1: "A", Player2: "B"}))
	s.CompleteBattle("b1", "")

	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("result was not retried")
	}
	cancel()
	<-done
	assert.Equal(t, 0, w.Pending())
}

func TestResultsWorker_FlushesOnShutdown(t *testing.T) {
	s, bus := newTestStore(t, nil)
	repo := repositories.NewInMemoryResultRepository()
	w := NewResultsWorker(NewResultsWorkerOptions{Repository: repo, Bus: bus})

	s.AddPlayer(types.Player{Address: "A"})
	s.AddPlayer(types.Player{Address: "B"})
	require.NoError(t, s.CreateBattle(types.Battle{ID: "b1", Player1: "A", Player2: "B"}))
	s.CompleteBattle("b1", "B")
	assert.Equal(t, 1, w.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	result, err := repo.GetResult(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "B", result.Winner)
	assert.Equal(t, 0, bus.HandlerCount(types.EventBattleCompleted))
}
