package workers

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock) (*state.InMemoryStore, *events.Bus) {
	bus := events.NewBus(log.New(&bytes.Buffer{}, "", 0, log.LogLevelError))
	opts := state.NewInMemoryStoreOptions{Bus: bus, GracePeriod: time.Hour}
	if clock != nil {
		opts.Now = clock.Now
	}
	s := state.NewInMemoryStore(opts)
	t.Cleanup(s.Close)
	return s, bus
}

func TestPresenceWorker_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s, bus := newTestStore(t, clock)
	inactive := 0
	bus.Subscribe(types.EventPlayerInactive, func(e events.Event) { inactive++ })

	s.AddPlayer(types.Player{Address: "stale"})
	clock.Advance(40 * time.Second)
	s.AddPlayer(types.Player{Address: "fresh"})
	clock.Advance(25 * time.Second)

	w := NewPresenceWorker(NewPresenceWorkerOptions{Store: s})
	assert.Equal(t, []string{"stale"}, w.Sweep())
	assert.Empty(t, w.Sweep())
	assert.Equal(t, 1, inactive)

	player, ok := s.GetPlayer("stale")
	require.True(t, ok)
	assert.Equal(t, types.PlayerStatusOffline, player.Status)
	online := s.GetOnlinePlayers()
	require.Len(t, online, 1)
	assert.Equal(t, "fresh", online[0].Address)
}

func TestPresenceWorker_Start(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s, _ := newTestStore(t, clock)
	s.AddPlayer(types.Player{Address: "A"})
	clock.Advance(2 * time.Minute)

	w := NewPresenceWorker(NewPresenceWorkerOptions{
		Store:             s,
		Interval:          5 * time.Millisecond,
		TelemetryInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		player, _ := s.GetPlayer("A")
		return player.Status == types.PlayerStatusOffline
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("presence worker did not stop")
	}
}

func TestNewPresenceWorkerDefaults(t *testing.T) {
	w := NewPresenceWorker(NewPresenceWorkerOptions{})
	assert.Equal(t, 5*time.Second, w.interval)
	assert.Equal(t, 60*time.Second, w.inactiveThreshold)
	assert.Equal(t, 30*time.Second, w.telemetryInterval)
}
