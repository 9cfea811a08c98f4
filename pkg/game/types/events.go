package types

// Event names published by the store and pushed to clients.
const (
	EventPlayerJoined    = "player-joined"
	EventPlayerUpdated   = "player-updated"
	EventPlayerLeft      = "player-left"
	EventPlayerInactive  = "player-inactive"
	EventBattleCreated   = "battle-created"
	EventBattleUpdated   = "battle-updated"
	EventBattleMove      = "battle-move"
	EventBattleCompleted = "battle-completed"
)

// EventNames lists every state event in a stable order.
var EventNames = []string{
	EventPlayerJoined,
	EventPlayerUpdated,
	EventPlayerLeft,
	EventPlayerInactive,
	EventBattleCreated,
	EventBattleUpdated,
	EventBattleMove,
	EventBattleCompleted,
}

// PlayerEvent is the payload of every player-* event.
type PlayerEvent struct {
	Address string `json:"address"`
	Player  Player `json:"player"`
}

// BattleEvent is the payload of battle-created and battle-updated.
type BattleEvent struct {
	BattleID string `json:"battleId"`
	Battle   Battle `json:"battle"`
}

// BattleMoveEvent is the payload of battle-move.
type BattleMoveEvent struct {
	BattleID string `json:"battleId"`
	Move     Move   `json:"move"`
	Battle   Battle `json:"battle"`
}

// BattleCompletedEvent is the payload of battle-completed. It is the only
// handoff to reward and ledger collaborators.
type BattleCompletedEvent struct {
	BattleID string `json:"battleId"`
	Winner   string `json:"winner"`
	Battle   Battle `json:"battle"`
}
