package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID int64) (*Settings, error) {
	query := `
		SELECT user_id, model_name, brain, last_update
		FROM user_settings
		WHERE user_id = $1
	`
	var st Settings
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&st.UserID, &st.ModelName, &st.Brain, &st.LastUpdate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) Insert(ctx context.Context, st *Settings) error {
	query := `
		INSERT INTO user_settings (user_id, model_name, brain, last_update)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.Exec(ctx, query, st.UserID, st.ModelName, st.Brain, st.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to insert user settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateModel(ctx context.Context, userID int64, modelName string, lastUpdate time.Time) error {
	return s.updateField(ctx, userID, "model_name", modelName, lastUpdate)
}

func (s *PostgresStore) UpdateBrain(ctx context.Context, userID int64, brain string, lastUpdate time.Time) error {
	return s.updateField(ctx, userID, "brain", brain, lastUpdate)
}

func (s *PostgresStore) updateField(ctx context.Context, userID int64, column, value string, lastUpdate time.Time) error {
	query := fmt.Sprintf(`UPDATE user_settings SET %s = $2, last_update = $3 WHERE user_id = $1`, column)
	tag, err := s.db.Exec(ctx, query, userID, value, lastUpdate)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
