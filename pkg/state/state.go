package state

import (
	"errors"
	"time"

	"github.com/cbodonnell/herosync/pkg/game/types"
)

var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrPlayerUnavailable = errors.New("player is not available for battle")
	ErrSamePlayer        = errors.New("a player cannot battle itself")
	ErrBattleExists      = errors.New("battle already exists")
	ErrInvalidBattle     = errors.New("battle is missing an id or a participant")
)

// Store is the authoritative game state.
// Implementations must be thread-safe and must only hand out copies.
type Store interface {
	AddPlayer(player types.Player)
	UpdatePlayer(address string, patch types.PlayerPatch)
	RemovePlayer(address string)

	CreateBattle(battle types.Battle) error
	UpdateBattle(battleID string, patch types.BattlePatch)
	AddBattleMove(battleID string, move types.Move) bool
	CompleteBattle(battleID string, winner string) bool

	GetPlayer(address string) (types.Player, bool)
	GetOnlinePlayers() []types.Player
	GetBattle(battleID string) (types.Battle, bool)
	GetActiveBattles() []types.Battle
	GetBattleForPlayer(address string) (types.Battle, bool)
	FindMatch(address string) (types.Player, bool)
	Snapshot() *types.GameState
	Stats() Stats

	// SweepInactive marks players that have not been updated within threshold
	// as offline and returns their addresses.
	SweepInactive(threshold time.Duration) []string
}

// Stats counts players and battles by status.
type Stats struct {
	Players          int `json:"players"`
	Online           int `json:"online"`
	Idle             int `json:"idle"`
	Battling         int `json:"battling"`
	Offline          int `json:"offline"`
	Battles          int `json:"battles"`
	OpenBattles      int `json:"openBattles"`
	CompletedBattles int `json:"completedBattles"`
}
