package types

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

const (
	BattleStatusWaiting   BattleStatus = "waiting"
	BattleStatusActive    BattleStatus = "active"
	BattleStatusCompleted BattleStatus = "completed"
)

// WinnerDraw is the winner recorded for a battle that ended without one.
const WinnerDraw = "draw"

// Move is a single action submitted during a battle.
type Move struct {
	PlayerID  string `json:"playerId"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Battle is a pairwise, turn-based contest between two players.
type Battle struct {
	ID          string       `json:"id"`
	Player1     string       `json:"player1"`
	Player2     string       `json:"player2"`
	Hero1ID     int          `json:"hero1Id"`
	Hero2ID     int          `json:"hero2Id"`
	Status      BattleStatus `json:"status"`
	CurrentTurn string       `json:"currentTurn"`
	Moves       []Move       `json:"moves"`
	StartTime   int64        `json:"startTime"`
	Winner      string       `json:"winner,omitempty"`
}

// Copy returns a deep copy of the battle
func (b *Battle) Copy() *Battle {
	c := *b
	c.Moves = make([]Move, len(b.Moves))
	copy(c.Moves, b.Moves)
	return &c
}

// IsOpen returns true while the battle is waiting or active.
func (b *Battle) IsOpen() bool {
	return b.Status == BattleStatusWaiting || b.Status == BattleStatusActive
}

// HasParticipant returns true if address is one of the two players.
func (b *Battle) HasParticipant(address string) bool {
	return address != "" && (b.Player1 == address || b.Player2 == address)
}

// Opponent returns the other participant, or the empty string if address
// is not in the battle.
func (b *Battle) Opponent(address string) string {
	switch address {
	case b.Player1:
		return b.Player2
	case b.Player2:
		return b.Player1
	default:
		return ""
	}
}

// BattlePatch is a partial update to a battle. Moves are only ever appended
// through the store's move operation, so they are not patchable.
type BattlePatch struct {
	Status      *BattleStatus `json:"status,omitempty"`
	CurrentTurn *string       `json:"currentTurn,omitempty"`
	Winner      *string       `json:"winner,omitempty"`
}

// Apply merges the patch into battle. A CurrentTurn that is not one of the
// participants is ignored.
func (p BattlePatch) Apply(battle *Battle) {
	if p.Status != nil {
		battle.Status = *p.Status
	}
	if p.CurrentTurn != nil && battle.HasParticipant(*p.CurrentTurn) {
		battle.CurrentTurn = *p.CurrentTurn
	}
	if p.Winner != nil {
		battle.Winner = *p.Winner
	}
}
