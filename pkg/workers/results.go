package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/queue"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/repositories/models"
)

const (
	DefaultResultsBufferSize    = 256
	DefaultResultsRetryInterval = 5 * time.Second
	resultsFlushTimeout         = 5 * time.Second
)

// ResultsWorker records every completed battle in a ResultRepository.
// Results that fail to save are retried on every retry tick.
type ResultsWorker struct {
	repository    repositories.ResultRepository
	resultsChan   chan *models.BattleResult
	retryQueue    queue.Queue[*models.BattleResult]
	retryInterval time.Duration
	now           func() time.Time
	subscription  events.Subscription
}

type NewResultsWorkerOptions struct {
	Repository repositories.ResultRepository
	// Bus is subscribed to battle-completed immediately
	Bus           *events.Bus
	BufferSize    int
	RetryInterval time.Duration
	Now           func() time.Time
}

func NewResultsWorker(opts NewResultsWorkerOptions) *ResultsWorker {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultResultsBufferSize
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultResultsRetryInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &ResultsWorker{
		repository:    opts.Repository,
		resultsChan:   make(chan *models.BattleResult, opts.BufferSize),
		retryQueue:    queue.NewInMemoryQueue[*models.BattleResult](queue.QueueBufferSize),
		retryInterval: opts.RetryInterval,
		now:           opts.Now,
	}
	w.subscription = opts.Bus.Subscribe(types.EventBattleCompleted, w.handleBattleCompleted)
	return w
}

// BattleResultFromEvent builds the ledger record for a battle-completed event.
func BattleResultFromEvent(event types.BattleCompletedEvent, completedAt time.Time) *models.BattleResult {
	return &models.BattleResult{
		BattleID:    event.BattleID,
		Player1:     event.Battle.Player1,
		Player2:     event.Battle.Player2,
		Hero1ID:     event.Battle.Hero1ID,
		Hero2ID:     event.Battle.Hero2ID,
		Winner:      event.Winner,
		Moves:       len(event.Battle.Moves),
		StartTime:   event.Battle.StartTime,
		CompletedAt: completedAt.UnixMilli(),
	}
}

// handleBattleCompleted runs on the publishing goroutine and never blocks it.
func (w *ResultsWorker) handleBattleCompleted(e events.Event) {
	event, ok := e.Payload.(types.BattleCompletedEvent)
	if !ok {
		log.Error("Unexpected payload for %s: %T", e.Name, e.Payload)
		return
	}
	result := BattleResultFromEvent(event, w.now())
	select {
	case w.resultsChan <- result:
	default:
		w.retry(result)
	}
}

// Start saves results until ctx is cancelled, then makes one last attempt
// to save whatever is still pending.
func (w *ResultsWorker) Start(ctx context.Context) {
	defer w.subscription.Unsubscribe()

	ticker := time.NewTicker(w.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case result := <-w.resultsChan:
			w.saveResult(ctx, result)
		case <-ticker.C:
			for _, result := range w.retryQueue.ReadAllMessages() {
				w.saveResult(ctx, result)
			}
		}
	}
}

// Pending returns the number of results waiting to be saved.
func (w *ResultsWorker) Pending() int {
	return len(w.resultsChan) + w.retryQueue.Size()
}

func (w *ResultsWorker) saveResult(ctx context.Context, result *models.BattleResult) bool {
	if err := w.repository.SaveResult(ctx, result); err != nil {
		log.Error("Failed to save result for battle %s: %v", result.BattleID, err)
		w.retry(result)
		return false
	}
	log.Debug("Saved result for battle %s", result.BattleID)
	return true
}

func (w *ResultsWorker) retry(result *models.BattleResult) {
	if err := w.retryQueue.Enqueue(result); err != nil {
		log.Error("Dropping result for battle %s: %v", result.BattleID, err)
	}
}

func (w *ResultsWorker) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), resultsFlushTimeout)
	defer cancel()

	pending := w.retryQueue.ReadAllMessages()
	for len(w.resultsChan) > 0 {
		pending = append(pending, <-w.resultsChan)
	}
	for _, result := range pending {
		if err := w.repository.SaveResult(ctx, result); err != nil {
			log.Error("Failed to save result for battle %s on shutdown: %v", result.BattleID, err)
		}
	}
}
