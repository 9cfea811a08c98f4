package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/cbodonnell/herosync/pkg/repositories/models"
)

// ResultRepository is an append-only log of completed battles.
// Saving a battle id that already exists is a no-op.
type ResultRepository interface {
	Close(ctx context.Context) error
	SaveResult(ctx context.Context, result *models.BattleResult) error
	GetResult(ctx context.Context, battleID string) (*models.BattleResult, error)
	// ListResults returns the most recently completed results first.
	// A limit <= 0 returns every result.
	ListResults(ctx context.Context, limit int) ([]*models.BattleResult, error)
}

// NewResultRepositoryFromURL picks a backend from the url scheme:
// memory://, sqlite://<path> or postgres(ql)://<dsn>. An empty url is memory.
func NewResultRepositoryFromURL(ctx context.Context, url string) (ResultRepository, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewInMemoryResultRepository(), nil
	case strings.HasPrefix(url, "sqlite://"):
		repo, err := NewSQLiteResultRepository(ctx, strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite repository: %v", err)
		}
		return repo, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		repo, err := NewPostgresResultRepository(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres repository: %v", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported results url: %s", url)
	}
}
