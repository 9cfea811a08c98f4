package messages

import "encoding/json"

const (
	// MessageBufferSize represents the maximum size of a message
	MessageBufferSize = 64 * 1024
)

// Server frame types. State events are forwarded using their event name.
const (
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeGameState = "game-state"
	MessageTypeMatch     = "match"
	MessageTypeError     = "error"
)

// Client frame types. Every action is also accepted by POST /sync.
const (
	MessageTypeGetGameState = "get-game-state"

	ActionJoin           = "join"
	ActionLeave          = "leave"
	ActionUpdate         = "update"
	ActionCreateBattle   = "create-battle"
	ActionActivateBattle = "activate-battle"
	ActionBattleMove     = "battle-move"
	ActionCompleteBattle = "complete-battle"
	ActionFindMatch      = "find-match"
)

// Actions lists every action the dispatcher understands.
var Actions = []string{
	ActionJoin,
	ActionLeave,
	ActionUpdate,
	ActionCreateBattle,
	ActionActivateBattle,
	ActionBattleMove,
	ActionCompleteBattle,
	ActionFindMatch,
}

// IsAction returns true if t names a mutating or matchmaking action.
func IsAction(t string) bool {
	for _, action := range Actions {
		if action == t {
			return true
		}
	}
	return false
}

// Message is a single websocket frame
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
