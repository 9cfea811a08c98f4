package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/cbodonnell/herosync/pkg/repositories/models"
)

type InMemoryResultRepository struct {
	lock    sync.RWMutex
	results map[string]models.BattleResult
}

func NewInMemoryResultRepository() *InMemoryResultRepository {
	return &InMemoryResultRepository{
		results: make(map[string]models.BattleResult),
	}
}

func (r *InMemoryResultRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryResultRepository) SaveResult(ctx context.Context, result *models.BattleResult) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.results[result.BattleID]; ok {
		return nil
	}
	r.results[result.BattleID] = *result
	return nil
}

func (r *InMemoryResultRepository) GetResult(ctx context.Context, battleID string) (*models.BattleResult, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result, ok := r.results[battleID]
	if !ok {
		return nil, &ErrNotFound{BattleID: battleID}
	}
	return &result, nil
}

func (r *InMemoryResultRepository) ListResults(ctx context.Context, limit int) ([]*models.BattleResult, error) {
	r.lock.RLock()
	results := make([]*models.BattleResult, 0, len(r.results))
	for _, result := range r.results {
		result := result
		results = append(results, &result)
	}
	r.lock.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompletedAt != results[j].CompletedAt {
			return results[i].CompletedAt > results[j].CompletedAt
		}
		return results[i].BattleID < results[j].BattleID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
