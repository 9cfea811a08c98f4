package types

import "sort"

// GameState is a point-in-time snapshot of all players and battles.
type GameState struct {
	Players []Player `json:"players"`
	Battles []Battle `json:"battles"`
	// Timestamp is the unix millisecond time at which the snapshot was taken
	Timestamp int64 `json:"timestamp"`
}

func NewGameState() *GameState {
	return &GameState{
		Players: []Player{},
		Battles: []Battle{},
	}
}

// Copy returns a deep copy of the game state
func (g *GameState) Copy() *GameState {
	c := &GameState{
		Players:   make([]Player, len(g.Players)),
		Battles:   make([]Battle, 0, len(g.Battles)),
		Timestamp: g.Timestamp,
	}
	copy(c.Players, g.Players)
	for i := range g.Battles {
		c.Battles = append(c.Battles, *g.Battles[i].Copy())
	}
	return c
}

// PlayerMap indexes the snapshot's players by address.
func (g *GameState) PlayerMap() map[string]*Player {
	m := make(map[string]*Player, len(g.Players))
	for i := range g.Players {
		m[g.Players[i].Address] = &g.Players[i]
	}
	return m
}

// BattleMap indexes the snapshot's battles by id.
func (g *GameState) BattleMap() map[string]*Battle {
	m := make(map[string]*Battle, len(g.Battles))
	for i := range g.Battles {
		m[g.Battles[i].ID] = &g.Battles[i]
	}
	return m
}

// Sort orders players by address and battles by start time then id.
func (g *GameState) Sort() {
	sort.Slice(g.Players, func(i, j int) bool {
		return g.Players[i].Address < g.Players[j].Address
	})
	sort.Slice(g.Battles, func(i, j int) bool {
		if g.Battles[i].StartTime != g.Battles[j].StartTime {
			return g.Battles[i].StartTime < g.Battles[j].StartTime
		}
		return g.Battles[i].ID < g.Battles[j].ID
	})
}
