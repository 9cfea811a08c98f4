package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cbodonnell/herosync/pkg/client/network"
	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/cbodonnell/herosync/pkg/version"
	"github.com/google/uuid"
)

func main() {
	transport := flag.String("transport", "push", "transport to use (push or poll)")
	pushURL := flag.String("push-url", "ws://localhost:8080/ws", "push server websocket URL")
	apiURL := flag.String("api-url", "http://localhost:8081", "API server base URL")
	bots := flag.Int("bots", 2, "number of bots to run")
	tick := flag.Duration("tick", time.Second, "how often each bot acts")
	pollInterval := flag.Duration("poll-interval", 0, "poll interval (poll transport only)")
	movesPerBattle := flag.Int("moves", 6, "moves after which a bot ends its battle")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Starting %d %s bots, version %s", *bots, *transport, version.Get())

	newTransport := func() network.Transport {
		if *transport == "poll" {
			return network.NewPollTransport(network.NewPollTransportOptions{URL: *apiURL, Interval: *pollInterval})
		}
		return network.NewPushTransport(network.NewPushTransportOptions{URL: *pushURL})
	}
	if *transport != "push" && *transport != "poll" {
		panic(fmt.Sprintf("Unknown transport %s", *transport))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *bots; i++ {
		b := &bot{
			address:        "bot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			heroID:         rand.Intn(10) + 1,
			transport:      newTransport(),
			logger:         logger.Named(fmt.Sprintf("bot-%d", i)),
			movesPerBattle: *movesPerBattle,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.run(ctx, *tick)
		}()
	}

	wg.Wait()
	log.Info("All bots stopped")
}

type bot struct {
	address        string
	heroID         int
	transport      network.Transport
	logger         *log.Logger
	movesPerBattle int
	position       types.Position
}

func (b *bot) run(ctx context.Context, tick time.Duration) {
	for {
		if err := b.transport.Connect(ctx); err != nil {
			b.logger.Warn("Failed to connect, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				continue
			}
		}
		break
	}
	defer b.transport.Disconnect()

	sub := b.transport.OnEvent("", b.logEvent)
	defer sub.Unsubscribe()
	matchSub := b.transport.OnEvent(messages.MessageTypeMatch, func(e events.Event) {
		b.handleMatch(ctx, e)
	})
	defer matchSub.Unsubscribe()

	if err := b.transport.AddPlayer(ctx, b.address, b.heroID); err != nil {
		b.logger.Error("Failed to join: %v", err)
		return
	}
	b.logger.Info("Joined as %s with hero %d", b.address, b.heroID)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := b.transport.RemovePlayer(leaveCtx, b.address); err != nil {
				b.logger.Warn("Failed to leave: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := b.act(ctx); err != nil {
				b.logger.Warn("Failed to act: %v", err)
			}
		}
	}
}

// act takes the bot's turn in its battle, or wanders and looks for a match.
func (b *bot) act(ctx context.Context) error {
	gs := b.transport.State()
	for _, battle := range gs.Battles {
		if !battle.IsOpen() || !battle.HasParticipant(b.address) {
			continue
		}
		if len(battle.Moves) >= b.movesPerBattle && battle.Player1 == b.address {
			winner := battle.Player1
			if rand.Intn(2) == 0 {
				winner = battle.Player2
			}
			return b.transport.CompleteBattle(ctx, battle.ID, winner)
		}
		if battle.CurrentTurn != b.address {
			return nil
		}
		return b.transport.MakeMove(ctx, battle.ID, b.address, "attack", battle.Opponent(b.address))
	}

	b.position.X += rand.Float64()*2 - 1
	b.position.Y += rand.Float64()*2 - 1
	position := b.position
	if err := b.transport.UpdatePlayer(ctx, b.address, types.PlayerPatch{Position: &position}); err != nil {
		return err
	}
	if rand.Intn(4) == 0 {
		return b.transport.FindMatch(ctx, b.address)
	}
	return nil
}

func (b *bot) handleMatch(ctx context.Context, e events.Event) {
	match, ok := e.Payload.(messages.MatchPayload)
	if !ok || match.Address != b.address || match.Player == nil {
		return
	}
	b.logger.Info("Challenging %s", match.Player.Address)
	if err := b.transport.CreateBattle(ctx, b.address, match.Player.Address, b.heroID, match.Player.HeroID); err != nil {
		b.logger.Warn("Failed to challenge %s: %v", match.Player.Address, err)
	}
}

func (b *bot) logEvent(e events.Event) {
	switch p := e.Payload.(type) {
	case types.PlayerEvent:
		b.logger.Debug("%s: %s (%s)", e.Name, p.Address, p.Player.Status)
	case types.BattleEvent:
		b.logger.Debug("%s: %s", e.Name, p.BattleID)
	case types.BattleMoveEvent:
		b.logger.Debug("%s: %s %s by %s", e.Name, p.BattleID, p.Move.Action, p.Move.PlayerID)
	case types.BattleCompletedEvent:
		if p.Battle.HasParticipant(b.address) {
			b.logger.Info("Battle %s over, winner %s", p.BattleID, p.Winner)
		}
	default:
		b.logger.Trace("%s: %v", e.Name, e.Payload)
	}
}
