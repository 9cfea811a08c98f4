package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/repositories/models"
	"github.com/jackc/pgx/v5"
)

type PostgresResultRepository struct {
	conn *pgx.Conn
}

// NewPostgresResultRepository connects to connStr and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresResultRepository(ctx context.Context, connStr string) (*PostgresResultRepository, error) {
	conn, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	migrations, err := readMigrations("postgres")
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	for i, migration := range migrations {
		if _, err := conn.Exec(ctx, migration); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &PostgresResultRepository{
		conn: conn,
	}, nil
}

func connectDb(ctx context.Context, connStr string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	return conn, nil
}

func (r *PostgresResultRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresResultRepository) SaveResult(ctx context.Context, result *models.BattleResult) error {
	q := `
	INSERT INTO battle_results (battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (battle_id) DO NOTHING;
	`
	_, err := r.conn.Exec(ctx, q,
		result.BattleID, result.Player1, result.Player2, result.Hero1ID, result.Hero2ID,
		result.Winner, result.Moves, result.StartTime, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert battle result: %v", err)
	}
	return nil
}

func (r *PostgresResultRepository) GetResult(ctx context.Context, battleID string) (*models.BattleResult, error) {
	q := `
	SELECT battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at
	FROM battle_results WHERE battle_id = $1;
	`
	result := &models.BattleResult{}
	err := r.conn.QueryRow(ctx, q, battleID).Scan(
		&result.BattleID, &result.Player1, &result.Player2, &result.Hero1ID, &result.Hero2ID,
		&result.Winner, &result.Moves, &result.StartTime, &result.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{BattleID: battleID}
		}
		return nil, fmt.Errorf("failed to scan battle result: %v", err)
	}
	return result, nil
}

func (r *PostgresResultRepository) ListResults(ctx context.Context, limit int) ([]*models.BattleResult, error) {
	q := `
	SELECT battle_id, player1, player2, hero1_id, hero2_id, winner, moves, start_time, completed_at
	FROM battle_results ORDER BY completed_at DESC, battle_id ASC
	`
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query battle results: %v", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.BattleResult, error) {
		result := &models.BattleResult{}
		err := row.Scan(
			&result.BattleID, &result.Player1, &result.Player2, &result.Hero1ID, &result.Hero2ID,
			&result.Winner, &result.Moves, &result.StartTime, &result.CompletedAt,
		)
		return result, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan battle results: %v", err)
	}
	return results, nil
}
