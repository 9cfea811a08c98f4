package network

import (
	"sort"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
)

// Diff synthesizes the events that turn prev into next. A nil prev is
// treated as an empty state.
//
// Player events come first, ordered by address, followed by battle events
// ordered by battle id. Changes that happen between two snapshots are
// coalesced: a player that moved twice yields one player-updated, and a
// purged battle yields nothing.
func Diff(prev, next *types.GameState) []events.Event {
	if prev == nil {
		prev = types.NewGameState()
	}
	if next == nil {
		next = types.NewGameState()
	}
	out := make([]events.Event, 0)
	out = append(out, diffPlayers(prev.PlayerMap(), next.PlayerMap())...)
	out = append(out, diffBattles(prev.BattleMap(), next.BattleMap())...)
	return out
}

func diffPlayers(prev, next map[string]*types.Player) []events.Event {
	out := make([]events.Event, 0)
	for _, address := range unionKeys(prev, next) {
		before, existed := prev[address]
		after, exists := next[address]
		switch {
		case !existed:
			out = append(out, playerEvent(types.EventPlayerJoined, after))
		case !exists:
			out = append(out, playerEvent(types.EventPlayerLeft, before))
		case before.Equal(after):
		case after.Status == types.PlayerStatusOffline && before.Status != types.PlayerStatusOffline:
			out = append(out, playerEvent(types.EventPlayerInactive, after))
		default:
			out = append(out, playerEvent(types.EventPlayerUpdated, after))
		}
	}
	return out
}

func diffBattles(prev, next map[string]*types.Battle) []events.Event {
	out := make([]events.Event, 0)
	for _, id := range unionKeys(prev, next) {
		after, exists := next[id]
		if !exists {
			continue
		}
		before, existed := prev[id]
		if !existed {
			out = append(out, events.Event{
				Name:    types.EventBattleCreated,
				Payload: types.BattleEvent{BattleID: id, Battle: *after.Copy()},
			})
			before = &types.Battle{ID: id}
		}

		moved := len(after.Moves) > len(before.Moves)
		if moved {
			for _, move := range after.Moves[len(before.Moves):] {
				out = append(out, events.Event{
					Name:    types.EventBattleMove,
					Payload: types.BattleMoveEvent{BattleID: id, Move: move, Battle: *after.Copy()},
				})
			}
		}
		completed := after.Status == types.BattleStatusCompleted && before.Status != types.BattleStatusCompleted
		if existed && (moved || (before.Status != after.Status && !completed)) {
			out = append(out, events.Event{
				Name:    types.EventBattleUpdated,
				Payload: types.BattleEvent{BattleID: id, Battle: *after.Copy()},
			})
		}
		if completed {
			out = append(out, events.Event{
				Name:    types.EventBattleCompleted,
				Payload: types.BattleCompletedEvent{BattleID: id, Winner: after.Winner, Battle: *after.Copy()},
			})
		}
	}
	return out
}

func playerEvent(name string, player *types.Player) events.Event {
	return events.Event{
		Name:    name,
		Payload: types.PlayerEvent{Address: player.Address, Player: *player},
	}
}

func unionKeys[T any](a, b map[string]T) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
