package messages

import (
	"encoding/json"

	"github.com/cbodonnell/herosync/pkg/game/types"
)

type JoinPayload struct {
	Address string `json:"address"`
	HeroID  int    `json:"heroId"`
}

type LeavePayload struct {
	Address string `json:"address"`
}

type UpdatePayload struct {
	Address string            `json:"address"`
	Updates types.PlayerPatch `json:"updates"`
}

// CreateBattlePayload challenges player2. Zero hero ids are taken from the
// players' current records.
type CreateBattlePayload struct {
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
	Hero1ID int    `json:"hero1Id,omitempty"`
	Hero2ID int    `json:"hero2Id,omitempty"`
}

type ActivateBattlePayload struct {
	BattleID string `json:"battleId"`
}

type BattleMovePayload struct {
	BattleID string `json:"battleId"`
	PlayerID string `json:"playerId"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
}

type CompleteBattlePayload struct {
	BattleID string `json:"battleId"`
	Winner   string `json:"winner"`
}

type FindMatchPayload struct {
	Address string `json:"address"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	// Action is the frame type that caused the error, if any
	Action string `json:"action,omitempty"`
}

// MatchPayload answers find-match. Player is nil when nobody is available.
type MatchPayload struct {
	Address string        `json:"address"`
	Player  *types.Player `json:"player"`
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// SyncResponse is the envelope of every /sync response.
type SyncResponse struct {
	Success bool             `json:"success"`
	Data    *types.GameState `json:"data,omitempty"`
	Battle  *types.Battle    `json:"battle,omitempty"`
	Match   *types.Player    `json:"match,omitempty"`
	Error   string           `json:"error,omitempty"`
}
