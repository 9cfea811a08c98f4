package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/cbodonnell/herosync/pkg/state"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNotYourTurn    = errors.New("it is not this player's turn")
)

// Result carries what an action produced beyond the state change itself.
type Result struct {
	// Address is the player the action was made for, if any
	Address string
	// Battle is set by create-battle, activate-battle and accepted battle
	// moves
	Battle *types.Battle
	// Match is set by find-match when a candidate was found
	Match *types.Player
}

// Dispatcher maps wire actions onto the store and the battle manager so that
// every transport mutates state the same way.
type Dispatcher struct {
	store        state.Store
	battles      *BattleManager
	enforceTurns bool
}

// NewDispatcherOptions contains options for creating a new Dispatcher.
type NewDispatcherOptions struct {
	Store   state.Store
	Battles *BattleManager
	// EnforceTurns rejects moves from players who are not participants or
	// whose turn it is not.
	EnforceTurns bool
}

func NewDispatcher(opts NewDispatcherOptions) *Dispatcher {
	if opts.Battles == nil {
		opts.Battles = NewBattleManager(NewBattleManagerOptions{Store: opts.Store})
	}
	return &Dispatcher{
		store:        opts.Store,
		battles:      opts.Battles,
		enforceTurns: opts.EnforceTurns,
	}
}

// Dispatch applies action. Unknown actions return ErrUnknownAction and
// undecodable or incomplete payloads return ErrInvalidPayload. Domain
// rejections are returned as the store's sentinel errors.
func (d *Dispatcher) Dispatch(action string, payload json.RawMessage) (*Result, error) {
	switch action {
	case messages.ActionJoin:
		p := messages.JoinPayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Address == "" {
			return nil, missing("address")
		}
		d.store.AddPlayer(types.Player{Address: p.Address, HeroID: p.HeroID})
		return &Result{Address: p.Address}, nil

	case messages.ActionLeave:
		p := messages.LeavePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Address == "" {
			return nil, missing("address")
		}
		d.store.RemovePlayer(p.Address)
		return &Result{Address: p.Address}, nil

	case messages.ActionUpdate:
		p := messages.UpdatePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Address == "" {
			return nil, missing("address")
		}
		if p.Updates.Status != nil && !p.Updates.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, *p.Updates.Status)
		}
		if p.Updates.Status != nil && *p.Updates.Status == types.PlayerStatusOffline {
			return nil, fmt.Errorf("%w: status offline is set by the presence sweep", ErrInvalidPayload)
		}
		d.store.UpdatePlayer(p.Address, p.Updates)
		return &Result{Address: p.Address}, nil

	case messages.ActionCreateBattle:
		p := messages.CreateBattlePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Player1 == "" || p.Player2 == "" {
			return nil, missing("player1 and player2")
		}
		battle, err := d.battles.Challenge(p.Player1, p.Player2, p.Hero1ID, p.Hero2ID)
		if err != nil {
			return nil, err
		}
		return &Result{Battle: &battle}, nil

	case messages.ActionActivateBattle:
		p := messages.ActivateBattlePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.BattleID == "" {
			return nil, missing("battleId")
		}
		if !d.battles.Activate(p.BattleID) {
			return &Result{}, nil
		}
		battle, ok := d.store.GetBattle(p.BattleID)
		if !ok {
			return &Result{}, nil
		}
		return &Result{Battle: &battle}, nil

	case messages.ActionBattleMove:
		p := messages.BattleMovePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.BattleID == "" || p.PlayerID == "" || p.Action == "" {
			return nil, missing("battleId, playerId and action")
		}
		if d.enforceTurns {
			if battle, ok := d.store.GetBattle(p.BattleID); ok && battle.IsOpen() && battle.CurrentTurn != p.PlayerID {
				return nil, ErrNotYourTurn
			}
		}
		battle, ok := d.battles.SubmitMove(p.BattleID, p.PlayerID, p.Action, p.Target)
		if !ok {
			return &Result{}, nil
		}
		return &Result{Battle: &battle}, nil

	case messages.ActionCompleteBattle:
		p := messages.CompleteBattlePayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.BattleID == "" {
			return nil, missing("battleId")
		}
		d.battles.Complete(p.BattleID, p.Winner)
		return &Result{}, nil

	case messages.ActionFindMatch:
		p := messages.FindMatchPayload{}
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Address == "" {
			return nil, missing("address")
		}
		match, ok := d.store.FindMatch(p.Address)
		if !ok {
			return &Result{Address: p.Address}, nil
		}
		return &Result{Address: p.Address, Match: &match}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// IsClientError returns true if err was caused by a malformed request rather
// than by the current game state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownAction) || errors.Is(err, ErrInvalidPayload)
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func missing(fields string) error {
	return fmt.Errorf("%w: %s required", ErrInvalidPayload, fields)
}
