package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/klauspost/compress/gzhttp"
)

// RequestError is returned when the server answers a sync request with
// success false.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("sync request failed with status %d: %s", e.StatusCode, e.Message)
}

// PollTransport fetches the full game state on an interval and diffs each
// snapshot against the previous one to produce the events a push client
// would have received. Changes that happen within one interval are
// coalesced.
type PollTransport struct {
	url        string
	client     *http.Client
	interval   time.Duration
	maxBackoff time.Duration
	bus        *events.Bus
	mirror     *mirror

	// applyLock orders snapshot replacement with event queueing
	applyLock sync.Mutex
	pending   []events.Event
	flushing  bool

	lock   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type NewPollTransportOptions struct {
	// URL is the base URL of the API server, e.g. http://localhost:8081
	URL        string
	Interval   time.Duration
	MaxBackoff time.Duration
	// Client defaults to a client that accepts gzip responses
	Client *http.Client
}

func NewPollTransport(opts NewPollTransportOptions) *PollTransport {
	if opts.Interval <= 0 {
		opts.Interval = constants.PollInterval
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = constants.PollMaxBackoff
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		}
	}
	return &PollTransport{
		url:        strings.TrimSuffix(opts.URL, "/") + "/sync",
		client:     opts.Client,
		interval:   opts.Interval,
		maxBackoff: opts.MaxBackoff,
		bus:        events.NewBus(nil),
		mirror:     newMirror(),
	}
}

// Connect performs the first fetch and then polls in the background until
// Disconnect is called. The first fetch publishes without holding the
// transport lock, so handlers may call back into the transport.
func (t *PollTransport) Connect(ctx context.Context) error {
	if t.connected() {
		return fmt.Errorf("already connected")
	}
	if err := t.Poll(ctx); err != nil {
		return fmt.Errorf("failed to fetch initial state: %v", err)
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("already connected")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, t.done)
	return nil
}

func (t *PollTransport) connected() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cancel != nil
}

// Disconnect stops polling and waits for the poll loop to exit.
func (t *PollTransport) Disconnect() error {
	t.lock.Lock()
	if t.cancel == nil {
		t.lock.Unlock()
		return nil
	}
	t.cancel()
	t.cancel = nil
	done := t.done
	t.lock.Unlock()

	<-done
	return nil
}

func (t *PollTransport) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := t.interval
	for {
		if !sleep(ctx, delay) {
			return
		}
		if err := t.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = nextBackoff(delay, t.maxBackoff)
			log.Warn("Failed to poll game state, retrying in %s: %v", delay, err)
			continue
		}
		delay = t.interval
	}
}

// Poll fetches the game state once and publishes the resulting events.
func (t *PollTransport) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	resp, err := t.do(req)
	if err != nil {
		return err
	}
	t.apply(resp.Data)
	return nil
}

func (t *PollTransport) post(ctx context.Context, action string, payload interface{}) (*messages.SyncResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %v", action, err)
	}
	body, err := json.Marshal(&messages.SyncRequest{Action: action, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	t.apply(resp.Data)
	return resp, nil
}

func (t *PollTransport) do(req *http.Request) (*messages.SyncResponse, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	out := &messages.SyncResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode sync response (status %d): %v", resp.StatusCode, err)
	}
	if !out.Success {
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	if out.Data == nil {
		return nil, fmt.Errorf("sync response has no data")
	}
	return out, nil
}

// apply mirrors a snapshot and publishes the diff. Stale snapshots are
// dropped. Handlers may call back into the transport.
func (t *PollTransport) apply(gs *types.GameState) {
	t.applyLock.Lock()
	if prev, ok := t.mirror.replace(gs); ok {
		t.pending = append(t.pending, Diff(prev, gs)...)
	}
	if t.flushing {
		t.applyLock.Unlock()
		return
	}
	t.flushing = true
	for len(t.pending) > 0 {
		e := t.pending[0]
		t.pending = t.pending[1:]
		t.applyLock.Unlock()
		t.bus.Publish(e.Name, e.Payload)
		t.applyLock.Lock()
	}
	t.pending = nil
	t.flushing = false
	t.applyLock.Unlock()
}

func (t *PollTransport) AddPlayer(ctx context.Context, address string, heroID int) error {
	_, err := t.post(ctx, messages.ActionJoin, messages.JoinPayload{Address: address, HeroID: heroID})
	return err
}

func (t *PollTransport) RemovePlayer(ctx context.Context, address string) error {
	_, err := t.post(ctx, messages.ActionLeave, messages.LeavePayload{Address: address})
	return err
}

func (t *PollTransport) UpdatePlayer(ctx context.Context, address string, patch types.PlayerPatch) error {
	_, err := t.post(ctx, messages.ActionUpdate, messages.UpdatePayload{Address: address, Updates: patch})
	return err
}

func (t *PollTransport) CreateBattle(ctx context.Context, player1, player2 string, hero1ID, hero2ID int) error {
	_, err := t.post(ctx, messages.ActionCreateBattle, messages.CreateBattlePayload{
		Player1: player1,
		Player2: player2,
		Hero1ID: hero1ID,
		Hero2ID: hero2ID,
	})
	return err
}

func (t *PollTransport) MakeMove(ctx context.Context, battleID, playerID, action, target string) error {
	_, err := t.post(ctx, messages.ActionBattleMove, messages.BattleMovePayload{
		BattleID: battleID,
		PlayerID: playerID,
		Action:   action,
		Target:   target,
	})
	return err
}

func (t *PollTransport) CompleteBattle(ctx context.Context, battleID, winner string) error {
	_, err := t.post(ctx, messages.ActionCompleteBattle, messages.CompleteBattlePayload{BattleID: battleID, Winner: winner})
	return err
}

func (t *PollTransport) FindMatch(ctx context.Context, address string) error {
	resp, err := t.post(ctx, messages.ActionFindMatch, messages.FindMatchPayload{Address: address})
	if err != nil {
		return err
	}
	t.bus.Publish(messages.MessageTypeMatch, messages.MatchPayload{Address: address, Player: resp.Match})
	return nil
}

func (t *PollTransport) OnEvent(name string, handler events.Handler) events.Subscription {
	return subscribe(t.bus, name, handler)
}

func (t *PollTransport) State() *types.GameState {
	return t.mirror.snapshot()
}
