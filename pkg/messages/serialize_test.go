package messages

import (
	"testing"

	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		data    interface{}
		wantErr bool
	}{
		{
			name:    "game state",
			msgType: MessageTypeGameState,
			data: &types.GameState{
				Players:   []types.Player{{Address: "A", HeroID: 1, Status: types.PlayerStatusIdle}},
				Battles:   []types.Battle{},
				Timestamp: 1,
			},
		},
		{
			name:    "frame without data",
			msgType: MessageTypeGetGameState,
		},
		{
			name:    "missing type",
			msgType: "",
			data:    JoinPayload{Address: "A"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMessage(tt.msgType, tt.data)
			require.NoError(t, err)
			b, err := SerializeMessage(m)
			require.NoError(t, err)

			got, err := DeserializeMessage(b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.msgType, got.Type)
			assert.Equal(t, m.Data, got.Data)
		})
	}
}

func TestMessage_DecodeData(t *testing.T) {
	got, err := DeserializeMessage([]byte(`{"type":"update","data":{"address":"A","updates":{"position":{"x":1,"y":2}}}}`))
	require.NoError(t, err)

	payload := UpdatePayload{}
	require.NoError(t, got.DecodeData(&payload))
	assert.Equal(t, "A", payload.Address)
	assert.Equal(t, &types.Position{X: 1, Y: 2}, payload.Updates.Position)
	assert.Nil(t, payload.Updates.Status)

	empty := &Message{Type: ActionLeave}
	assert.Error(t, empty.DecodeData(&LeavePayload{}))

	_, err = DeserializeMessage([]byte("not json"))
	assert.Error(t, err)
}

func TestIsAction(t *testing.T) {
	assert.True(t, IsAction(ActionBattleMove))
	assert.True(t, IsAction(ActionFindMatch))
	assert.False(t, IsAction(MessageTypeGetGameState))
	assert.False(t, IsAction("player-joined"))
}

func TestDecodeEventPayload(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  interface{}
		want  interface{}
	}{
		{
			name:  "player",
			event: types.EventPlayerInactive,
			data:  types.PlayerEvent{Address: "A", Player: types.Player{Address: "A", Status: types.PlayerStatusOffline}},
			want:  types.PlayerEvent{Address: "A", Player: types.Player{Address: "A", Status: types.PlayerStatusOffline}},
		},
		{
			name:  "battle move",
			event: types.EventBattleMove,
			data: types.BattleMoveEvent{
				BattleID: "b",
				Move:     types.Move{PlayerID: "A", Action: "attack"},
				Battle:   types.Battle{ID: "b", Moves: []types.Move{{PlayerID: "A", Action: "attack"}}},
			},
			want: types.BattleMoveEvent{
				BattleID: "b",
				Move:     types.Move{PlayerID: "A", Action: "attack"},
				Battle:   types.Battle{ID: "b", Moves: []types.Move{{PlayerID: "A", Action: "attack"}}},
			},
		},
		{
			name:  "battle completed",
			event: types.EventBattleCompleted,
			data:  types.BattleCompletedEvent{BattleID: "b", Winner: types.WinnerDraw},
			want:  types.BattleCompletedEvent{BattleID: "b", Winner: types.WinnerDraw},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMessage(tt.event, tt.data)
			require.NoError(t, err)
			got, err := DecodeEventPayload(m.Type, m.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodeEventPayload(MessageTypePong, nil)
	assert.Error(t, err)
	assert.True(t, IsEvent(types.EventBattleCreated))
	assert.False(t, IsEvent(MessageTypeGameState))
}
