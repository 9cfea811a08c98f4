package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
)

var ErrNotConnected = errors.New("transport is not connected")

// Transport is the client side of a sync channel. Callers choose one
// implementation at startup and only ever talk to this interface.
//
// Mutations report transport failures only. Domain rejections are returned
// by PollTransport and published as error events by PushTransport.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	AddPlayer(ctx context.Context, address string, heroID int) error
	RemovePlayer(ctx context.Context, address string) error
	UpdatePlayer(ctx context.Context, address string, patch types.PlayerPatch) error
	CreateBattle(ctx context.Context, player1, player2 string, hero1ID, hero2ID int) error
	MakeMove(ctx context.Context, battleID, playerID, action, target string) error
	CompleteBattle(ctx context.Context, battleID, winner string) error
	// FindMatch asks the server for an opponent. The answer is published as
	// a match event with a messages.MatchPayload.
	FindMatch(ctx context.Context, address string) error
	// OnEvent subscribes to a state event. An empty name subscribes to all events.
	OnEvent(name string, handler events.Handler) events.Subscription
	// State returns a copy of the locally mirrored game state.
	State() *types.GameState
}

func subscribe(bus *events.Bus, name string, handler events.Handler) events.Subscription {
	if name == "" {
		return bus.SubscribeAll(handler)
	}
	return bus.Subscribe(name, handler)
}

// mirror is the client's copy of the server state.
type mirror struct {
	lock      sync.RWMutex
	players   map[string]types.Player
	battles   map[string]types.Battle
	timestamp int64
}

func newMirror() *mirror {
	return &mirror{
		players: make(map[string]types.Player),
		battles: make(map[string]types.Battle),
	}
}

// replace swaps in a full snapshot and returns the previous one. Snapshots
// older than the current one are ignored and ok is false.
func (m *mirror) replace(gs *types.GameState) (prev *types.GameState, ok bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if gs.Timestamp < m.timestamp {
		return nil, false
	}
	prev = m.snapshotLocked()
	m.players = make(map[string]types.Player, len(gs.Players))
	for _, player := range gs.Players {
		m.players[player.Address] = player
	}
	m.battles = make(map[string]types.Battle, len(gs.Battles))
	for _, battle := range gs.Battles {
		m.battles[battle.ID] = *battle.Copy()
	}
	m.timestamp = gs.Timestamp
	return prev, true
}

// apply folds a pushed event into the mirror.
func (m *mirror) apply(e events.Event) {
	m.lock.Lock()
	defer m.lock.Unlock()
	switch payload := e.Payload.(type) {
	case types.PlayerEvent:
		if e.Name == types.EventPlayerLeft {
			delete(m.players, payload.Address)
			return
		}
		m.players[payload.Address] = payload.Player
	case types.BattleEvent:
		m.battles[payload.BattleID] = *payload.Battle.Copy()
	case types.BattleMoveEvent:
		m.battles[payload.BattleID] = *payload.Battle.Copy()
	case types.BattleCompletedEvent:
		m.battles[payload.BattleID] = *payload.Battle.Copy()
	}
}

func (m *mirror) snapshot() *types.GameState {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.snapshotLocked()
}

func (m *mirror) snapshotLocked() *types.GameState {
	gs := types.NewGameState()
	gs.Timestamp = m.timestamp
	for _, player := range m.players {
		gs.Players = append(gs.Players, player)
	}
	for _, battle := range m.battles {
		gs.Battles = append(gs.Battles, *battle.Copy())
	}
	gs.Sort()
	return gs
}

// sleep waits for d or until ctx is done. It returns false if ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
