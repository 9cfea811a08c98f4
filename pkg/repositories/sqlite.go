package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cbodonnell/herosync/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteResultRepository struct {
	db *sql.DB
}

func NewSQLiteResultRepository(ctx context.Context, path string) (*SQLiteResultRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	migrations, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &SQLiteResultRepository{
		db: db,
	}, nil
}

func (r *SQLiteResultRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteResultRepository) SaveResult(ctx context.Context, result *models.BattleResult) error {
	q := `
	INSERT OR IGNORE INTO battle_results (battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q,
		result.BattleID, result.Player1, result.Player2, result.Hero1ID, result.Hero2ID,
		result.Winner, result.Moves, result.StartTime, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert battle result: %v", err)
	}
	return nil
}

func (r *SQLiteResultRepository) GetResult(ctx context.Context, battleID string) (*models.BattleResult, error) {
	q := `
	SELECT battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at
	FROM battle_results WHERE battle_id = ?;
	`
	result := &models.BattleResult{}
	err := r.db.QueryRowContext(ctx, q, battleID).Scan(
		&result.BattleID, &result.Player1, &result.Player2, &result.Hero1ID, &result.Hero2ID,
		&result.Winner, &result.Moves, &result.StartTime, &result.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{BattleID: battleID}
		}
		return nil, fmt.Errorf("failed to scan battle result: %v", err)
	}
	return result, nil
}

func (r *SQLiteResultRepository) ListResults(ctx context.Context, limit int) ([]*models.BattleResult, error) {
	q := `
	SELECT battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at
	FROM battle_results ORDER BY completed_at DESC, battle_id ASC LIMIT ?;
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query battle results: %v", err)
	}
	defer rows.Close()

	results := make([]*models.BattleResult, 0)
	for rows.Next() {
		result := &models.BattleResult{}
		if err := rows.Scan(
			&result.BattleID, &result.Player1, &result.Player2, &result.Hero1ID, &result.Hero2ID,
			&result.Winner, &result.Moves, &result.StartTime, &result.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan battle result: %v", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate battle results: %v", err)
	}
	return results, nil
}
