// Package usage implements the per-user cost ledger and usage history
// for the bot: running day/month/all-time spend plus date-keyed
// counters for every chargeable category (chat tokens, images,
// transcription, TTS, vision).
package usage

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("usage record not found")
	ErrNegativeQuantity = errors.New("quantity must be non-negative")
	ErrNegativeAmount   = errors.New("amount must be non-negative")
)

// DateLayout is the calendar-date form every history key and
// CostRecord.LastUpdate is stored in. Month aggregation works by
// string-prefix match on these keys, so the zero-padded ISO form is a
// correctness requirement, not a display choice.
const DateLayout = "2006-01-02"

// CostRecord is a user's running spend. Day holds only events dated on
// LastUpdate, Month only events sharing LastUpdate's year-month, and
// AllTime never decreases.
type CostRecord struct {
	UserID     int64   `json:"user_id"`
	Day        float64 `json:"day"`
	Month      float64 `json:"month"`
	AllTime    float64 `json:"all_time"`
	LastUpdate string  `json:"last_update"` // YYYY-MM-DD
}

// History is a user's per-category usage, keyed by calendar date. A
// date appears only if at least one event happened that day; values are
// only ever incremented.
type History struct {
	UserID int64 `json:"user_id"`

	// ChatTokens maps date -> tokens consumed.
	ChatTokens map[string]int64 `json:"chat_tokens"`

	// TranscriptionSeconds maps date -> seconds of audio transcribed.
	TranscriptionSeconds map[string]float64 `json:"transcription_seconds"`

	// NumberImages maps date -> image counts indexed by size class
	// (256x256, 512x512, 1024x1024).
	NumberImages map[string][]int64 `json:"number_images"`

	// TTSCharacters maps model name -> date -> characters synthesized.
	TTSCharacters map[string]map[string]int64 `json:"tts_characters"`

	// VisionTokens maps date -> vision tokens consumed.
	VisionTokens map[string]int64 `json:"vision_tokens"`
}

// NewHistory returns an empty history for a user with all category maps
// allocated.
func NewHistory(userID int64) *History {
	return &History{
		UserID:               userID,
		ChatTokens:           make(map[string]int64),
		TranscriptionSeconds: make(map[string]float64),
		NumberImages:         make(map[string][]int64),
		TTSCharacters:        make(map[string]map[string]int64),
		VisionTokens:         make(map[string]int64),
	}
}

// Costs is the ledger read model returned to reporting callers.
type Costs struct {
	Today   float64 `json:"cost_today"`
	Month   float64 `json:"cost_month"`
	AllTime float64 `json:"cost_all_time"`
}

// Store is the persistence gateway. Every operation is a point lookup,
// insert, or field update keyed by user id; the subsystem never scans
// across users. Implementations must return ErrNotFound for missing
// rows and propagate backend failures unchanged, never zeroed data.
type Store interface {
	EnsureUser(ctx context.Context, userID int64, userName string) error

	GetCosts(ctx context.Context, userID int64) (*CostRecord, error)
	InsertCosts(ctx context.Context, rec *CostRecord) error
	UpdateCosts(ctx context.Context, rec *CostRecord) error

	GetHistory(ctx context.Context, userID int64) (*History, error)
	InsertHistory(ctx context.Context, h *History) error
	UpdateChatTokens(ctx context.Context, userID int64, tokens map[string]int64) error
	UpdateTranscriptionSeconds(ctx context.Context, userID int64, seconds map[string]float64) error
	UpdateImageCounts(ctx context.Context, userID int64, counts map[string][]int64) error
	UpdateTTSCharacters(ctx context.Context, userID int64, characters map[string]map[string]int64) error
	UpdateVisionTokens(ctx context.Context, userID int64, tokens map[string]int64) error
}
