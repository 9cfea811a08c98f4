package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbodonnell/herosync/pkg/api"
	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	pushserver "github.com/cbodonnell/herosync/pkg/network"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCluster serves one store over both channels.
type testCluster struct {
	store   *state.InMemoryStore
	battles *game.BattleManager
	push    *pushserver.PushServer
	pushURL string
	apiURL  string
	offset  atomic.Int64
}

func newTestCluster(t *testing.T) *testCluster {
	c := &testCluster{}
	base := time.Now()
	bus := events.NewBus(log.New(&bytes.Buffer{}, "", 0, log.LogLevelError))
	c.store = state.NewInMemoryStore(state.NewInMemoryStoreOptions{
		Bus:         bus,
		GracePeriod: time.Hour,
		Now: func() time.Time {
			return base.Add(time.Duration(c.offset.Load()))
		},
	})
	c.battles = game.NewBattleManager(game.NewBattleManagerOptions{Store: c.store})
	dispatcher := game.NewDispatcher(game.NewDispatcherOptions{Store: c.store, Battles: c.battles})

	c.push = pushserver.NewPushServer(pushserver.NewPushServerOptions{Bus: bus, Store: c.store, Dispatcher: dispatcher})
	pushSrv := httptest.NewServer(c.push.Handler())
	apiSrv := httptest.NewServer(api.NewRouter(api.NewAPIServerOptions{Store: c.store, Dispatcher: dispatcher}))
	c.pushURL = "ws" + strings.TrimPrefix(pushSrv.URL, "http") + "/ws"
	c.apiURL = apiSrv.URL

	t.Cleanup(func() {
		c.push.Stop(context.Background())
		pushSrv.Close()
		apiSrv.Close()
		c.store.Close()
	})
	return c
}

func (c *testCluster) advance(d time.Duration) {
	c.offset.Add(int64(d))
}

type recorder struct {
	lock   sync.Mutex
	events []events.Event
}

func record(tr Transport) *recorder {
	r := &recorder{}
	tr.OnEvent("", func(e events.Event) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

// keys returns name:entity for every recorded event except the skipped names.
func (r *recorder) keys(skip ...string) map[string]int {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make(map[string]int)
outer:
	for _, e := range r.events {
		for _, name := range skip {
			if e.Name == name {
				continue outer
			}
		}
		out[e.Name+":"+eventKey(e)]++
	}
	return out
}

func (r *recorder) count(name, key string) int {
	return r.keys()[name+":"+key]
}

func (r *recorder) last(name string) (events.Event, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

func eventKey(e events.Event) string {
	switch p := e.Payload.(type) {
	case types.PlayerEvent:
		return p.Address
	case types.BattleEvent:
		return p.BattleID
	case types.BattleMoveEvent:
		return fmt.Sprintf("%s/%s/%s", p.BattleID, p.Move.PlayerID, p.Move.Action)
	case types.BattleCompletedEvent:
		return fmt.Sprintf("%s/%s", p.BattleID, p.Winner)
	case messages.MatchPayload:
		return p.Address
	case messages.ErrorPayload:
		return p.Action
	default:
		return ""
	}
}

func hasPlayer(gs *types.GameState, address string) bool {
	_, ok := gs.PlayerMap()[address]
	return ok
}

func TestPollTransport_ConnectAndMutate(t *testing.T) {
	c := newTestCluster(t)
	c.store.AddPlayer(types.Player{Address: "A", HeroID: 1})

	poll := NewPollTransport(NewPollTransportOptions{URL: c.apiURL, Interval: time.Hour})
	rec := record(poll)
	ctx := context.Background()
	require.NoError(t, poll.Connect(ctx))
	t.Cleanup(func() { poll.Disconnect() })
	assert.Equal(t, 1, rec.count(types.EventPlayerJoined, "A"))

	require.NoError(t, poll.AddPlayer(ctx, "B", 2))
	assert.Equal(t, 1, rec.count(types.EventPlayerJoined, "B"))
	assert.Len(t, poll.State().Players, 2)

	require.NoError(t, poll.FindMatch(ctx, "B"))
	e, ok := rec.last(messages.MessageTypeMatch)
	require.True(t, ok)
	match := e.Payload.(messages.MatchPayload)
	require.NotNil(t, match.Player)
	assert.Equal(t, "A", match.Player.Address)

	require.NoError(t, poll.CreateBattle(ctx, "A", "B", 0, 0))
	battles := poll.State().Battles
	require.Len(t, battles, 1)
	assert.Equal(t, 1, rec.count(types.EventBattleCreated, battles[0].ID))
	assert.Equal(t, 1, rec.count(types.EventPlayerUpdated, "A"))

	require.NoError(t, poll.MakeMove(ctx, battles[0].ID, "A", "attack", "B"))
	assert.Equal(t, 1, rec.count(types.EventBattleMove, battles[0].ID+"/A/attack"))

	require.NoError(t, poll.CompleteBattle(ctx, battles[0].ID, "B"))
	assert.Equal(t, 1, rec.count(types.EventBattleCompleted, battles[0].ID+"/B"))

	err := poll.CreateBattle(ctx, "A", "A", 0, 0)
	reqErr := &RequestError{}
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)

	require.NoError(t, poll.RemovePlayer(ctx, "B"))
	assert.Equal(t, 1, rec.count(types.EventPlayerLeft, "B"))
}

func TestPollTransport_HandlersMayCallBackDuringConnect(t *testing.T) {
	c := newTestCluster(t)
	c.store.AddPlayer(types.Player{Address: "A", HeroID: 1})

	poll := NewPollTransport(NewPollTransportOptions{URL: c.apiURL, Interval: time.Hour})
	var calls atomic.Int32
	poll.OnEvent(types.EventPlayerJoined, func(e events.Event) {
		calls.Add(1)
		assert.NoError(t, poll.Disconnect())
		assert.NoError(t, poll.UpdatePlayer(context.Background(), "A", types.PositionPatch(2, 3)))
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- poll.Connect(context.Background())
	}()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
	}
	t.Cleanup(func() { poll.Disconnect() })

	assert.Equal(t, int32(1), calls.Load())
	player, ok := c.store.GetPlayer("A")
	require.True(t, ok)
	assert.Equal(t, types.Position{X: 2, Y: 3}, player.Position)
	assert.Error(t, poll.Connect(context.Background()), "still connected")
}

func TestPollTransport_ConnectFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	poll := NewPollTransport(NewPollTransportOptions{URL: url})
	assert.Error(t, poll.Connect(context.Background()))
	assert.NoError(t, poll.Disconnect())
}

func TestPollTransport_PicksUpRemoteChanges(t *testing.T) {
	c := newTestCluster(t)
	poll := NewPollTransport(NewPollTransportOptions{URL: c.apiURL, Interval: 10 * time.Millisecond})
	rec := record(poll)
	require.NoError(t, poll.Connect(context.Background()))
	t.Cleanup(func() { poll.Disconnect() })

	c.store.AddPlayer(types.Player{Address: "remote"})
	assert.Eventually(t, func() bool {
		return rec.count(types.EventPlayerJoined, "remote") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollTransport_BacksOffAndStops(t *testing.T) {
	c := newTestCluster(t)
	router := api.NewRouter(api.NewAPIServerOptions{Store: c.store})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 || n == 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success":false,"error":"unavailable"}`))
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	poll := NewPollTransport(NewPollTransportOptions{
		URL:        server.URL,
		Interval:   5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	})
	rec := record(poll)
	require.NoError(t, poll.Connect(context.Background()))

	c.store.AddPlayer(types.Player{Address: "A"})
	assert.Eventually(t, func() bool {
		return calls.Load() >= 6 && rec.count(types.EventPlayerJoined, "A") == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, poll.Disconnect())
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestPushTransport_ConnectAndEvents(t *testing.T) {
	c := newTestCluster(t)
	c.store.AddPlayer(types.Player{Address: "A", HeroID: 1})

	push := NewPushTransport(NewPushTransportOptions{URL: c.pushURL})
	rec := record(push)
	ctx := context.Background()
	require.NoError(t, push.Connect(ctx))
	t.Cleanup(func() { push.Disconnect() })

	assert.True(t, hasPlayer(push.State(), "A"))
	assert.Equal(t, 1, rec.count(types.EventPlayerJoined, "A"))

	require.NoError(t, push.AddPlayer(ctx, "B", 2))
	assert.Eventually(t, func() bool {
		return rec.count(types.EventPlayerJoined, "B") == 1 && hasPlayer(push.State(), "B")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, push.FindMatch(ctx, "B"))
	assert.Eventually(t, func() bool {
		return rec.count(messages.MessageTypeMatch, "B") == 1
	}, 2*time.Second, 10*time.Millisecond)
	e, _ := rec.last(messages.MessageTypeMatch)
	match := e.Payload.(messages.MatchPayload)
	require.NotNil(t, match.Player)
	assert.Equal(t, "A", match.Player.Address)

	require.NoError(t, push.CreateBattle(ctx, "B", "B", 0, 0))
	assert.Eventually(t, func() bool {
		return rec.count(messages.MessageTypeError, messages.ActionCreateBattle) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPushTransport_ConnectFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	server.Close()

	push := NewPushTransport(NewPushTransportOptions{URL: url})
	assert.Error(t, push.Connect(context.Background()))
	assert.ErrorIs(t, push.AddPlayer(context.Background(), "A", 1), ErrNotConnected)
	assert.NoError(t, push.Disconnect())
}

func TestPushTransport_Reconnects(t *testing.T) {
	c := newTestCluster(t)
	push := NewPushTransport(NewPushTransportOptions{
		URL:               c.pushURL,
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectMaxDelay: 50 * time.Millisecond,
	})
	rec := record(push)
	require.NoError(t, push.Connect(context.Background()))

	c.push.Connections().CloseAll()
	c.store.AddPlayer(types.Player{Address: "missed"})

	assert.Eventually(t, func() bool {
		return rec.count(types.EventPlayerJoined, "missed") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, hasPlayer(push.State(), "missed"))

	require.NoError(t, push.Disconnect())
	assert.ErrorIs(t, push.AddPlayer(context.Background(), "A", 1), ErrNotConnected)
	assert.NoError(t, push.Disconnect())
}

func TestPushTransport_RepliesToPing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	replies := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg := &messages.Message{}
		if err := conn.ReadJSON(msg); err != nil || msg.Type != messages.MessageTypeGetGameState {
			return
		}
		conn.WriteJSON(&messages.Message{Type: messages.MessageTypeGameState, Data: []byte(`{"players":[],"battles":[],"timestamp":1}`)})
		conn.WriteJSON(&messages.Message{Type: messages.MessageTypePing})
		if err := conn.ReadJSON(msg); err == nil {
			replies <- msg.Type
		}
		conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	push := NewPushTransport(NewPushTransportOptions{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	require.NoError(t, push.Connect(context.Background()))
	t.Cleanup(func() { push.Disconnect() })

	select {
	case reply := <-replies:
		assert.Equal(t, messages.MessageTypePong, reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to ping")
	}
}

// Applying the same mutations to the store must produce the same events on
// both transports. battle-updated is only synthesized by diffing.
func TestTransports_ProduceSameEvents(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	push := NewPushTransport(NewPushTransportOptions{URL: c.pushURL})
	pushed := record(push)
	require.NoError(t, push.Connect(ctx))
	t.Cleanup(func() { push.Disconnect() })

	poll := NewPollTransport(NewPollTransportOptions{URL: c.apiURL, Interval: time.Hour})
	polled := record(poll)
	require.NoError(t, poll.Connect(ctx))
	t.Cleanup(func() { poll.Disconnect() })

	step := func(mutate func()) {
		mutate()
		require.NoError(t, poll.Poll(ctx))
	}

	var battleID string
	step(func() { c.store.AddPlayer(types.Player{Address: "A", HeroID: 1}) })
	step(func() { c.store.AddPlayer(types.Player{Address: "B", HeroID: 2}) })
	step(func() { c.store.UpdatePlayer("A", types.PlayerPatch{Position: &types.Position{X: 3, Y: 4}}) })
	step(func() {
		battle, err := c.battles.Challenge("A", "B", 0, 0)
		require.NoError(t, err)
		battleID = battle.ID
	})
	step(func() { c.battles.SubmitMove(battleID, "A", "attack", "B") })
	step(func() { c.battles.SubmitMove(battleID, "B", "defend", "") })
	step(func() { c.battles.Complete(battleID, "A") })
	step(func() { c.store.RemovePlayer("B") })
	step(func() { c.store.AddPlayer(types.Player{Address: "C", HeroID: 3}) })
	step(func() {
		c.advance(2 * constants.InactiveThreshold)
		c.store.SweepInactive(constants.InactiveThreshold)
	})

	want := polled.keys(types.EventBattleUpdated)
	assert.Equal(t, 1, want[types.EventBattleCompleted+":"+battleID+"/A"])
	assert.Equal(t, 1, want[types.EventPlayerInactive+":C"])
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, pushed.keys(types.EventBattleUpdated))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, pushed.keys(types.EventBattleUpdated))
	assert.Equal(t, poll.State().Players, push.State().Players)
}
