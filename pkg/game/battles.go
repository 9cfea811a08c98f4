package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/google/uuid"
)

// Resolver decides when a battle is over. It is consulted after every
// accepted move and must not mutate the store.
type Resolver interface {
	Resolve(battle types.Battle) (winner string, done bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(battle types.Battle) (string, bool)

func (f ResolverFunc) Resolve(battle types.Battle) (string, bool) {
	return f(battle)
}

// BattleManager drives battles through waiting, active and completed on top
// of a Store. It never resolves combat itself.
type BattleManager struct {
	store       state.Store
	resolver    Resolver
	startActive bool
	now         func() time.Time
}

// NewBattleManagerOptions contains options for creating a new BattleManager.
type NewBattleManagerOptions struct {
	Store state.Store
	// Resolver is optional. Without one battles only end on Complete or Forfeit.
	Resolver Resolver
	// StartActive creates battles in the active state
	StartActive bool
	Now         func() time.Time
}

func NewBattleManager(opts NewBattleManagerOptions) *BattleManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BattleManager{
		store:       opts.Store,
		resolver:    opts.Resolver,
		startActive: opts.StartActive,
		now:         opts.Now,
	}
}

// NewBattleID returns an id of the form battle_<unix ms>_<8 hex chars>.
func NewBattleID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("battle_%d_%s", t.UnixMilli(), suffix)
}

// Challenge creates a battle between two idle, online players. Zero hero ids
// are taken from the players' current records.
func (bm *BattleManager) Challenge(player1, player2 string, hero1ID, hero2ID int) (types.Battle, error) {
	p1, ok := bm.store.GetPlayer(player1)
	if !ok {
		return types.Battle{}, state.ErrPlayerNotFound
	}
	p2, ok := bm.store.GetPlayer(player2)
	if !ok {
		return types.Battle{}, state.ErrPlayerNotFound
	}
	if hero1ID == 0 {
		hero1ID = p1.HeroID
	}
	if hero2ID == 0 {
		hero2ID = p2.HeroID
	}

	now := bm.now()
	battle := types.Battle{
		ID:          NewBattleID(now),
		Player1:     player1,
		Player2:     player2,
		Hero1ID:     hero1ID,
		Hero2ID:     hero2ID,
		Status:      types.BattleStatusWaiting,
		CurrentTurn: player1,
		Moves:       []types.Move{},
		StartTime:   now.UnixMilli(),
	}
	if bm.startActive {
		battle.Status = types.BattleStatusActive
	}
	if err := bm.store.CreateBattle(battle); err != nil {
		return types.Battle{}, err
	}
	log.Debug("Battle %s created between %s and %s", battle.ID, player1, player2)

	if created, ok := bm.store.GetBattle(battle.ID); ok {
		return created, nil
	}
	return battle, nil
}

// Activate moves a waiting battle to active.
func (bm *BattleManager) Activate(battleID string) bool {
	battle, ok := bm.store.GetBattle(battleID)
	if !ok || battle.Status != types.BattleStatusWaiting {
		return false
	}
	active := types.BattleStatusActive
	bm.store.UpdateBattle(battleID, types.BattlePatch{Status: &active})
	return true
}

// SubmitMove appends a move to an open battle and returns the battle as it
// stands afterwards. If the resolver reports the battle is over, it is
// completed before returning.
func (bm *BattleManager) SubmitMove(battleID, playerID, action, target string) (types.Battle, bool) {
	move := types.Move{
		PlayerID:  playerID,
		Action:    action,
		Target:    target,
		Timestamp: bm.now().UnixMilli(),
	}
	if !bm.store.AddBattleMove(battleID, move) {
		return types.Battle{}, false
	}
	battle, ok := bm.store.GetBattle(battleID)
	if !ok {
		return types.Battle{}, false
	}
	if bm.resolver == nil {
		return battle, true
	}
	if winner, done := bm.resolver.Resolve(battle); done {
		bm.Complete(battleID, winner)
		if completed, ok := bm.store.GetBattle(battleID); ok {
			battle = completed
		}
	}
	return battle, true
}

// Complete ends an open battle. An empty or unknown winner is a draw.
func (bm *BattleManager) Complete(battleID, winner string) bool {
	if !bm.store.CompleteBattle(battleID, winner) {
		return false
	}
	log.Debug("Battle %s completed, winner %s", battleID, winner)
	return true
}

// Forfeit completes an open battle in favor of loser's opponent.
func (bm *BattleManager) Forfeit(battleID, loser string) bool {
	battle, ok := bm.store.GetBattle(battleID)
	if !ok || !battle.IsOpen() || !battle.HasParticipant(loser) {
		return false
	}
	return bm.Complete(battleID, battle.Opponent(loser))
}

// ForfeitOnLeave forfeits the open battle of every player that leaves.
// The returned subscription stops it.
func (bm *BattleManager) ForfeitOnLeave(bus *events.Bus) events.Subscription {
	return bus.Subscribe(types.EventPlayerLeft, func(e events.Event) {
		payload, ok := e.Payload.(types.PlayerEvent)
		if !ok {
			return
		}
		battle, ok := bm.store.GetBattleForPlayer(payload.Address)
		if !ok {
			return
		}
		if bm.Forfeit(battle.ID, payload.Address) {
			log.Info("Player %s left battle %s and forfeited", payload.Address, battle.ID)
		}
	})
}
