package models

// BattleResult is the ledger record of a completed battle.
type BattleResult struct {
	BattleID string `json:"battle_id"`
	Player1  string `json:"player1"`
	Player2  string `json:"player2"`
	Hero1ID  int    `json:"hero1_id"`
	Hero2ID  int    `json:"hero2_id"`
	// Winner is a participant address or "draw"
	Winner      string `json:"winner"`
	Moves       int    `json:"moves"`
	StartTime   int64  `json:"start_time"`
	CompletedAt int64  `json:"completed_at"`
}
