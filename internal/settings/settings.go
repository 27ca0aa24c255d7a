// Package settings stores each user's chosen model and chat persona
// ("brain"). It shares the persistence boundary with the usage ledger
// but carries no cost data of its own.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("user settings not found")

// Compiled-in defaults filled on first write when the caller only sets
// one of the two fields.
const (
	DefaultModel = "gpt-3.5-turbo-0125"
	DefaultBrain = "assistant"
)

type Settings struct {
	UserID     int64     `json:"user_id"`
	ModelName  string    `json:"model_name"`
	Brain      string    `json:"brain"`
	LastUpdate time.Time `json:"last_update"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (s *Settings) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (s *Settings) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// Store is the persistence gateway for user settings: at most one row
// per user, point lookups only.
type Store interface {
	Get(ctx context.Context, userID int64) (*Settings, error)
	Insert(ctx context.Context, s *Settings) error
	UpdateModel(ctx context.Context, userID int64, modelName string, lastUpdate time.Time) error
	UpdateBrain(ctx context.Context, userID int64, brain string, lastUpdate time.Time) error
}

// Service implements the upsert semantics: a first write creates the
// row with the default for the untouched field, a later write changes
// only its own field and refreshes last_update.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock replaces the service clock; tests use this.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) SetModel(ctx context.Context, userID int64, modelName string) error {
	ts := s.now()
	_, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.store.Insert(ctx, &Settings{
			UserID:     userID,
			ModelName:  modelName,
			Brain:      DefaultBrain,
			LastUpdate: ts,
		})
	}
	if err != nil {
		return err
	}
	return s.store.UpdateModel(ctx, userID, modelName, ts)
}

func (s *Service) SetBrain(ctx context.Context, userID int64, brain string) error {
	ts := s.now()
	_, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.store.Insert(ctx, &Settings{
			UserID:     userID,
			ModelName:  DefaultModel,
			Brain:      brain,
			LastUpdate: ts,
		})
	}
	if err != nil {
		return err
	}
	return s.store.UpdateBrain(ctx, userID, brain, ts)
}

// Get returns the stored settings or ErrNotFound. No defaults are
// invented on read; callers decide what a missing row means.
func (s *Service) Get(ctx context.Context, userID int64) (*Settings, error) {
	return s.store.Get(ctx, userID)
}
