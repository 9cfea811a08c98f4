package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// PushTransport keeps a websocket open to the push server and republishes
// every pushed event on a local bus.
type PushTransport struct {
	url               string
	reconnectDelay    time.Duration
	reconnectMaxDelay time.Duration
	bus               *events.Bus
	mirror            *mirror

	lock   sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

type NewPushTransportOptions struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws
	URL               string
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

func NewPushTransport(opts NewPushTransportOptions) *PushTransport {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = constants.ReconnectDelay
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = constants.ReconnectMaxDelay
	}
	return &PushTransport{
		url:               opts.URL,
		reconnectDelay:    opts.ReconnectDelay,
		reconnectMaxDelay: opts.ReconnectMaxDelay,
		bus:               events.NewBus(nil),
		mirror:            newMirror(),
	}
}

// Connect dials the server and returns once the initial game state has been
// mirrored. After that the connection is served in the background and
// re-established with exponential backoff until Disconnect is called.
func (t *PushTransport) Connect(ctx context.Context) error {
	t.lock.Lock()
	if t.cancel != nil {
		t.lock.Unlock()
		return fmt.Errorf("already connected")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.lock.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.lock.Lock()
		if t.done == done {
			t.cancel = nil
		}
		t.lock.Unlock()
		cancel()
		close(done)
		return err
	}
	go t.run(runCtx, conn, done)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (t *PushTransport) Disconnect() error {
	t.lock.Lock()
	if t.cancel == nil {
		t.lock.Unlock()
		return nil
	}
	t.cancel()
	t.cancel = nil
	if t.conn != nil {
		t.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		t.conn = nil
	}
	done := t.done
	t.lock.Unlock()

	<-done
	return nil
}

// dial opens a connection, requests the game state and handles frames until
// it arrives.
func (t *PushTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %v", t.url, err)
	}
	conn.SetReadLimit(messages.MessageBufferSize)
	if !t.setConn(conn) {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil, ErrNotConnected
	}

	if err := wsjson.Write(ctx, conn, &messages.Message{Type: messages.MessageTypeGetGameState}); err != nil {
		t.setConn(nil)
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("failed to request game state: %v", err)
	}
	for {
		msg := &messages.Message{}
		if err := wsjson.Read(ctx, conn, msg); err != nil {
			t.setConn(nil)
			conn.Close(websocket.StatusInternalError, "")
			return nil, fmt.Errorf("failed to read game state: %v", err)
		}
		t.handleFrame(ctx, conn, msg)
		if msg.Type == messages.MessageTypeGameState {
			return conn, nil
		}
	}
}

func (t *PushTransport) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := t.readLoop(ctx, conn)
		t.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		log.Warn("Push connection lost: %v", err)

		delay := t.reconnectDelay
		for {
			if !sleep(ctx, delay) {
				return
			}
			conn, err = t.dial(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			delay = nextBackoff(delay, t.reconnectMaxDelay)
			log.Warn("Failed to reconnect, retrying in %s: %v", delay, err)
		}
		log.Info("Reconnected to %s", t.url)
	}
}

// setConn swaps the active connection. It returns false if the transport
// was disconnected in the meantime.
func (t *PushTransport) setConn(conn *websocket.Conn) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancel == nil {
		return false
	}
	t.conn = conn
	return true
}

func (t *PushTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msg := &messages.Message{}
		if err := wsjson.Read(ctx, conn, msg); err != nil {
			return err
		}
		t.handleFrame(ctx, conn, msg)
	}
}

func (t *PushTransport) handleFrame(ctx context.Context, conn *websocket.Conn, msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeConnected:
		payload := messages.ConnectedPayload{}
		if err := msg.DecodeData(&payload); err == nil {
			log.Debug("Connected as %s", payload.ConnectionID)
		}
	case messages.MessageTypePing:
		if err := wsjson.Write(ctx, conn, &messages.Message{Type: messages.MessageTypePong}); err != nil {
			log.Warn("Failed to send pong: %v", err)
		}
	case messages.MessageTypePong:
	case messages.MessageTypeGameState:
		gs := types.NewGameState()
		if err := msg.DecodeData(gs); err != nil {
			log.Error("Failed to decode game state: %v", err)
			return
		}
		// Events missed while disconnected are recovered by diffing.
		prev, ok := t.mirror.replace(gs)
		if !ok {
			return
		}
		for _, e := range Diff(prev, gs) {
			t.bus.Publish(e.Name, e.Payload)
		}
	case messages.MessageTypeMatch:
		payload := messages.MatchPayload{}
		if err := msg.DecodeData(&payload); err != nil {
			log.Error("Failed to decode match: %v", err)
			return
		}
		t.bus.Publish(messages.MessageTypeMatch, payload)
	case messages.MessageTypeError:
		payload := messages.ErrorPayload{}
		if err := msg.DecodeData(&payload); err != nil {
			log.Error("Failed to decode error frame: %v", err)
			return
		}
		log.Warn("Server rejected %s: %s", payload.Action, payload.Message)
		t.bus.Publish(messages.MessageTypeError, payload)
	default:
		if !messages.IsEvent(msg.Type) {
			log.Debug("Ignoring %s frame", msg.Type)
			return
		}
		payload, err := messages.DecodeEventPayload(msg.Type, msg.Data)
		if err != nil {
			log.Error("Failed to decode event: %v", err)
			return
		}
		e := events.Event{Name: msg.Type, Payload: payload}
		t.mirror.apply(e)
		t.bus.Publish(e.Name, e.Payload)
	}
}

func (t *PushTransport) send(ctx context.Context, action string, payload interface{}) error {
	t.lock.Lock()
	conn := t.conn
	t.lock.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	msg, err := messages.NewMessage(action, payload)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("failed to send %s: %v", action, err)
	}
	return nil
}

func (t *PushTransport) AddPlayer(ctx context.Context, address string, heroID int) error {
	return t.send(ctx, messages.ActionJoin, messages.JoinPayload{Address: address, HeroID: heroID})
}

func (t *PushTransport) RemovePlayer(ctx context.Context, address string) error {
	return t.send(ctx, messages.ActionLeave, messages.LeavePayload{Address: address})
}

func (t *PushTransport) UpdatePlayer(ctx context.Context, address string, patch types.PlayerPatch) error {
	return t.send(ctx, messages.ActionUpdate, messages.UpdatePayload{Address: address, Updates: patch})
}

func (t *PushTransport) CreateBattle(ctx context.Context, player1, player2 string, hero1ID, hero2ID int) error {
	return t.send(ctx, messages.ActionCreateBattle, messages.CreateBattlePayload{
		Player1: player1,
		Player2: player2,
		Hero1ID: hero1ID,
		Hero2ID: hero2ID,
	})
}

func (t *PushTransport) MakeMove(ctx context.Context, battleID, playerID, action, target string) error {
	return t.send(ctx, messages.ActionBattleMove, messages.BattleMovePayload{
		BattleID: battleID,
		PlayerID: playerID,
		Action:   action,
		Target:   target,
	})
}

func (t *PushTransport) CompleteBattle(ctx context.Context, battleID, winner string) error {
	return t.send(ctx, messages.ActionCompleteBattle, messages.CompleteBattlePayload{BattleID: battleID, Winner: winner})
}

func (t *PushTransport) FindMatch(ctx context.Context, address string) error {
	return t.send(ctx, messages.ActionFindMatch, messages.FindMatchPayload{Address: address})
}

func (t *PushTransport) OnEvent(name string, handler events.Handler) events.Subscription {
	return subscribe(t.bus, name, handler)
}

func (t *PushTransport) State() *types.GameState {
	return t.mirror.snapshot()
}
