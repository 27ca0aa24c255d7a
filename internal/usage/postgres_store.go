package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists the ledger and history in the bot's hosted
// Postgres (Supabase) database. The date-keyed category maps live in
// JSONB columns, one column per category.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID int64, userName string) error {
	query := `
		INSERT INTO users (user_id, user_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, userID, userName); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCosts(ctx context.Context, userID int64) (*CostRecord, error) {
	query := `
		SELECT user_id, day, month, all_time, last_update
		FROM current_costs
		WHERE user_id = $1
	`
	var rec CostRecord
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID, &rec.Day, &rec.Month, &rec.AllTime, &rec.LastUpdate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cost record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) InsertCosts(ctx context.Context, rec *CostRecord) error {
	query := `
		INSERT INTO current_costs (user_id, day, month, all_time, last_update)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query, rec.UserID, rec.Day, rec.Month, rec.AllTime, rec.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to insert cost record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCosts(ctx context.Context, rec *CostRecord) error {
	query := `
		UPDATE current_costs
		SET day = $2, month = $3, all_time = $4, last_update = $5
		WHERE user_id = $1
	`
	tag, err := s.db.Exec(ctx, query, rec.UserID, rec.Day, rec.Month, rec.AllTime, rec.LastUpdate)
	if err != nil {
		return fmt.Errorf("failed to update cost record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, userID int64) (*History, error) {
	query := `
		SELECT user_id,
			COALESCE(chat_tokens, '{}'::jsonb),
			COALESCE(transcription_seconds, '{}'::jsonb),
			COALESCE(number_images, '{}'::jsonb),
			COALESCE(tts_characters, '{}'::jsonb),
			COALESCE(vision_tokens, '{}'::jsonb)
		FROM usage_history
		WHERE user_id = $1
	`
	var h History
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&h.UserID, &h.ChatTokens, &h.TranscriptionSeconds,
		&h.NumberImages, &h.TTSCharacters, &h.VisionTokens,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage history: %w", err)
	}
	return &h, nil
}

func (s *PostgresStore) InsertHistory(ctx context.Context, h *History) error {
	query := `
		INSERT INTO usage_history (user_id, chat_tokens, transcription_seconds, number_images, tts_characters, vision_tokens)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		h.UserID, h.ChatTokens, h.TranscriptionSeconds,
		h.NumberImages, h.TTSCharacters, h.VisionTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage history: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChatTokens(ctx context.Context, userID int64, tokens map[string]int64) error {
	return s.updateColumn(ctx, userID, "chat_tokens", tokens)
}

func (s *PostgresStore) UpdateTranscriptionSeconds(ctx context.Context, userID int64, seconds map[string]float64) error {
	return s.updateColumn(ctx, userID, "transcription_seconds", seconds)
}

func (s *PostgresStore) UpdateImageCounts(ctx context.Context, userID int64, counts map[string][]int64) error {
	return s.updateColumn(ctx, userID, "number_images", counts)
}

func (s *PostgresStore) UpdateTTSCharacters(ctx context.Context, userID int64, characters map[string]map[string]int64) error {
	return s.updateColumn(ctx, userID, "tts_characters", characters)
}

func (s *PostgresStore) UpdateVisionTokens(ctx context.Context, userID int64, tokens map[string]int64) error {
	return s.updateColumn(ctx, userID, "vision_tokens", tokens)
}

// updateColumn rewrites a single category column for a user. column is
// always one of the fixed names above, never caller input.
func (s *PostgresStore) updateColumn(ctx context.Context, userID int64, column string, value any) error {
	query := fmt.Sprintf(`UPDATE usage_history SET %s = $2 WHERE user_id = $1`, column)
	tag, err := s.db.Exec(ctx, query, userID, value)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
