package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/repositories/models"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, opts NewAPIServerOptions) (*state.InMemoryStore, *httptest.Server) {
	bus := events.NewBus(log.New(&bytes.Buffer{}, "", 0, log.LogLevelError))
	store := state.NewInMemoryStore(state.NewInMemoryStoreOptions{Bus: bus, GracePeriod: time.Hour})
	opts.Store = store
	server := httptest.NewServer(NewRouter(opts))
	t.Cleanup(func() {
		server.Close()
		store.Close()
	})
	return store, server
}

func postSync(t *testing.T, url, action string, payload interface{}) (int, *messages.SyncResponse) {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(messages.SyncRequest{Action: action, Payload: raw})
	require.NoError(t, err)

	resp, err := http.Post(url+"/sync", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := &messages.SyncResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode, out
}

func TestGetSync(t *testing.T) {
	store, server := newTestAPI(t, NewAPIServerOptions{})
	store.AddPlayer(types.Player{Address: "A", HeroID: 1})

	resp, err := http.Get(server.URL + "/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	out := &messages.SyncResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	assert.True(t, out.Success)
	require.NotNil(t, out.Data)
	require.Len(t, out.Data.Players, 1)
	assert.Equal(t, "A", out.Data.Players[0].Address)
	assert.Empty(t, out.Data.Battles)
}

func TestGetSync_Gzip(t *testing.T) {
	store, server := newTestAPI(t, NewAPIServerOptions{})
	for i := 0; i < 50; i++ {
		store.AddPlayer(types.Player{Address: fmt.Sprintf("player-with-a-long-address-%02d", i), HeroID: 1})
	}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/sync", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestPostSync_Lifecycle(t *testing.T) {
	store, server := newTestAPI(t, NewAPIServerOptions{})

	status, out := postSync(t, server.URL, messages.ActionJoin, messages.JoinPayload{Address: "A", HeroID: 1})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)
	postSync(t, server.URL, messages.ActionJoin, messages.JoinPayload{Address: "B", HeroID: 2})

	status, out = postSync(t, server.URL, messages.ActionFindMatch, messages.FindMatchPayload{Address: "A"})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, out.Match)
	assert.Equal(t, "B", out.Match.Address)

	status, out = postSync(t, server.URL, messages.ActionCreateBattle, messages.CreateBattlePayload{Player1: "A", Player2: "B"})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, out.Battle)
	battleID := out.Battle.ID
	assert.Equal(t, 1, out.Battle.Hero1ID)
	assert.Equal(t, 2, out.Battle.Hero2ID)
	require.Len(t, out.Data.Battles, 1)

	status, out = postSync(t, server.URL, messages.ActionBattleMove, messages.BattleMovePayload{BattleID: battleID, PlayerID: "A", Action: "attack"})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, out.Battle)
	assert.Len(t, out.Battle.Moves, 1)
	assert.Equal(t, "B", out.Battle.CurrentTurn)

	status, _ = postSync(t, server.URL, messages.ActionCompleteBattle, messages.CompleteBattlePayload{BattleID: battleID, Winner: "A"})
	require.Equal(t, http.StatusOK, status)

	battle, ok := store.GetBattle(battleID)
	require.True(t, ok)
	assert.Equal(t, types.BattleStatusCompleted, battle.Status)
	assert.Equal(t, "A", battle.Winner)
	a, _ := store.GetPlayer("A")
	assert.Equal(t, types.PlayerStatusIdle, a.Status)
}

func TestPostSync_Errors(t *testing.T) {
	store, server := newTestAPI(t, NewAPIServerOptions{})
	store.AddPlayer(types.Player{Address: "A"})

	tests := []struct {
		name    string
		action  string
		payload interface{}
		status  int
	}{
		{
			name:    "unknown action",
			action:  "explode",
			payload: map[string]string{},
			status:  http.StatusBadRequest,
		},
		{
			name:    "missing address",
			action:  messages.ActionJoin,
			payload: messages.JoinPayload{},
			status:  http.StatusBadRequest,
		},
		{
			name:    "battle against self",
			action:  messages.ActionCreateBattle,
			payload: messages.CreateBattlePayload{Player1: "A", Player2: "A"},
			status:  http.StatusConflict,
		},
		{
			name:    "battle against missing player",
			action:  messages.ActionCreateBattle,
			payload: messages.CreateBattlePayload{Player1: "A", Player2: "Z"},
			status:  http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postSync(t, server.URL, tt.action, tt.payload)
			assert.Equal(t, tt.status, status)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
			assert.Nil(t, out.Data)
		})
	}

	resp, err := http.Post(server.URL+"/sync", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostSync_EnforcedTurns(t *testing.T) {
	bus := events.NewBus(log.New(&bytes.Buffer{}, "", 0, log.LogLevelError))
	store := state.NewInMemoryStore(state.NewInMemoryStoreOptions{Bus: bus, GracePeriod: time.Hour})
	t.Cleanup(store.Close)
	dispatcher := game.NewDispatcher(game.NewDispatcherOptions{Store: store, EnforceTurns: true})
	server := httptest.NewServer(NewRouter(NewAPIServerOptions{Store: store, Dispatcher: dispatcher}))
	t.Cleanup(server.Close)

	store.AddPlayer(types.Player{Address: "A"})
	store.AddPlayer(types.Player{Address: "B"})
	_, out := postSync(t, server.URL, messages.ActionCreateBattle, messages.CreateBattlePayload{Player1: "A", Player2: "B"})
	require.NotNil(t, out.Battle)

	status, out := postSync(t, server.URL, messages.ActionBattleMove, messages.BattleMovePayload{BattleID: out.Battle.ID, PlayerID: "B", Action: "attack"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, out.Error, "turn")
}

func TestSyncOptions(t *testing.T) {
	_, server := newTestAPI(t, NewAPIServerOptions{})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/sync", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestHealth(t *testing.T) {
	store, server := newTestAPI(t, NewAPIServerOptions{})
	store.AddPlayer(types.Player{Address: "A"})
	store.AddPlayer(types.Player{Address: "B"})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	out := struct {
		Status string      `json:"status"`
		Stats  state.Stats `json:"stats"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 2, out.Stats.Players)
	assert.Equal(t, 2, out.Stats.Idle)
}

func TestListResults(t *testing.T) {
	repo := repositories.NewInMemoryResultRepository()
	require.NoError(t, repo.SaveResult(context.Background(), &models.BattleResult{BattleID: "b1", Player1: "A", Player2: "B", Winner: "A"}))
	_, server := newTestAPI(t, NewAPIServerOptions{Results: repo})

	resp, err := http.Get(server.URL + "/results?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := []*models.BattleResult{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].BattleID)

	resp, err = http.Get(server.URL + "/results?limit=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListResults_NotConfigured(t *testing.T) {
	_, server := newTestAPI(t, NewAPIServerOptions{})

	resp, err := http.Get(server.URL + "/results")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
