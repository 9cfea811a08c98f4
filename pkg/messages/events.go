package messages

import (
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/herosync/pkg/game/types"
)

// IsEvent returns true if msgType is the name of a state event.
func IsEvent(msgType string) bool {
	for _, name := range types.EventNames {
		if name == msgType {
			return true
		}
	}
	return false
}

// DecodeEventPayload decodes the data of a pushed state event into the
// payload type the store published it with.
func DecodeEventPayload(name string, data json.RawMessage) (interface{}, error) {
	switch name {
	case types.EventPlayerJoined, types.EventPlayerUpdated, types.EventPlayerLeft, types.EventPlayerInactive:
		payload := types.PlayerEvent{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", name, err)
		}
		return payload, nil
	case types.EventBattleCreated, types.EventBattleUpdated:
		payload := types.BattleEvent{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", name, err)
		}
		return payload, nil
	case types.EventBattleMove:
		payload := types.BattleMoveEvent{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", name, err)
		}
		return payload, nil
	case types.EventBattleCompleted:
		payload := types.BattleCompletedEvent{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", name, err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown event: %s", name)
	}
}
