package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/herosync/pkg/api"
	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/network"
	"github.com/cbodonnell/herosync/pkg/relay"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/cbodonnell/herosync/pkg/version"
	"github.com/cbodonnell/herosync/pkg/workers"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "herosync server: %v\n", err)
		os.Exit(1)
	}
}

// run wires the server together and blocks until ctx is done or a server
// fails. Every resource opened here is closed before it returns.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	pushPort := flags.Int("push-port", 8080, "websocket port to listen on")
	apiPort := flags.Int("api-port", 8081, "HTTP sync port to listen on")
	logLevel := flags.String("log-level", "info", "Log level")
	sweepInterval := flags.Duration("sweep-interval", constants.PresenceSweepInterval, "how often to sweep for inactive players")
	inactiveThreshold := flags.Duration("inactive-threshold", constants.InactiveThreshold, "how long a player may be silent before going offline")
	onlineWindow := flags.Duration("online-window", constants.OnlineWindow, "how recently a player must have been updated to count as online")
	gracePeriod := flags.Duration("grace-period", constants.BattleGracePeriod, "how long completed battles stay queryable")
	enforceTurns := flags.Bool("enforce-turns", true, "reject moves made out of turn")
	startActive := flags.Bool("start-active", false, "create battles in the active state")
	forfeitOnLeave := flags.Bool("forfeit-on-leave", true, "forfeit the open battle of a player that leaves")
	maxMoves := flags.Int("max-moves", 0, "end battles as a draw after this many moves (0 disables)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting herosync server version %s", version.Get())

	bus := events.NewBus(logger.Named("events"))
	store := state.NewInMemoryStore(state.NewInMemoryStoreOptions{
		Bus:          bus,
		OnlineWindow: *onlineWindow,
		GracePeriod:  *gracePeriod,
	})
	defer store.Close()

	var resolver game.Resolver
	if *maxMoves > 0 {
		limit := *maxMoves
		resolver = game.ResolverFunc(func(battle types.Battle) (string, bool) {
			return types.WinnerDraw, len(battle.Moves) >= limit
		})
	}
	battles := game.NewBattleManager(game.NewBattleManagerOptions{
		Store:       store,
		Resolver:    resolver,
		StartActive: *startActive,
	})
	if *forfeitOnLeave {
		defer battles.ForfeitOnLeave(bus).Unsubscribe()
	}
	dispatcher := game.NewDispatcher(game.NewDispatcherOptions{
		Store:        store,
		Battles:      battles,
		EnforceTurns: *enforceTurns,
	})

	resultsURL := os.Getenv("HEROSYNC_RESULTS_URL")
	repository, err := repositories.NewResultRepositoryFromURL(ctx, resultsURL)
	if err != nil {
		return fmt.Errorf("failed to create results repository: %v", err)
	}
	defer repository.Close(context.Background())

	if natsURL := os.Getenv("HEROSYNC_NATS_URL"); natsURL != "" {
		natsRelay, err := relay.NewNATSRelay(relay.NewNATSRelayOptions{
			Bus:     bus,
			Subject: os.Getenv("HEROSYNC_NATS_SUBJECT"),
			URL:     natsURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create NATS relay: %v", err)
		}
		defer func() {
			if err := natsRelay.Close(); err != nil {
				log.Error("Failed to close NATS relay: %v", err)
			}
		}()
	}

	presenceWorker := workers.NewPresenceWorker(workers.NewPresenceWorkerOptions{
		Store:             store,
		Interval:          *sweepInterval,
		InactiveThreshold: *inactiveThreshold,
	})
	resultsWorker := workers.NewResultsWorker(workers.NewResultsWorkerOptions{
		Repository: repository,
		Bus:        bus,
	})

	pushServerOpts := network.NewPushServerOptions{
		Port:       *pushPort,
		Bus:        bus,
		Store:      store,
		Dispatcher: dispatcher,
	}
	apiServerOpts := api.NewAPIServerOptions{
		Port:       *apiPort,
		Store:      store,
		Dispatcher: dispatcher,
		Results:    repository,
	}
	tlsCertFile := os.Getenv("HEROSYNC_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("HEROSYNC_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		pushServerOpts.TLS = &network.TLSConfig{CertFile: tlsCertFile, KeyFile: tlsKeyFile}
		apiServerOpts.TLS = &api.TLSConfig{CertFile: tlsCertFile, KeyFile: tlsKeyFile}
	}
	pushServer := network.NewPushServer(pushServerOpts)
	apiServer := api.NewAPIServer(apiServerOpts)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		presenceWorker.Start(ctx)
		return nil
	})
	g.Go(func() error {
		resultsWorker.Start(ctx)
		return nil
	})
	g.Go(pushServer.Start)
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pushServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop push server: %v", err)
		}
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error: %v", err)
		return err
	}
	log.Info("Server stopped")
	return nil
}
