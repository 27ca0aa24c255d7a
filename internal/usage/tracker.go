package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danghm/botledger/internal/pricing"
)

// Tracker is the entry point the bot's handlers charge usage through.
// Every write is priced, folded into the cost ledger with day/month
// rollover, and appended to the per-category history, all under a
// per-user lock. Reads go straight to the store.
type Tracker struct {
	store  Store
	prices *pricing.Table
	locks  *lockTable
	now    func() time.Time
}

func NewTracker(store Store, prices *pricing.Table) *Tracker {
	return &Tracker{
		store:  store,
		prices: prices,
		locks:  newLockTable(),
		now:    time.Now,
	}
}

// WithClock replaces the tracker's clock. Tests use this to pin "today".
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) today() string {
	return t.now().Format(DateLayout)
}

func (t *Tracker) monthPrefix() string {
	return t.now().Format("2006-01")
}

// EnsureUser creates the user row if it does not exist yet. Users are
// created lazily on their first event and never deleted here.
func (t *Tracker) EnsureUser(ctx context.Context, userID int64, userName string) error {
	return t.store.EnsureUser(ctx, userID, userName)
}

// AddCost folds an already-priced amount into the user's ledger,
// performing the day/month rollover if the stored record is stale. A
// zero amount still refreshes last_update and still rolls the period
// counters over.
func (t *Tracker) AddCost(ctx context.Context, userID int64, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	unlock := t.locks.Lock(userID)
	defer unlock()
	return t.addCost(ctx, userID, amount)
}

// addCost is AddCost without locking; callers must hold the user's lock.
func (t *Tracker) addCost(ctx context.Context, userID int64, amount float64) error {
	today := t.today()

	rec, err := t.store.GetCosts(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return t.store.InsertCosts(ctx, &CostRecord{
			UserID:     userID,
			Day:        amount,
			Month:      amount,
			AllTime:    amount,
			LastUpdate: today,
		})
	}
	if err != nil {
		return err
	}

	rec.AllTime += amount
	switch {
	case rec.LastUpdate == today:
		rec.Day += amount
		rec.Month += amount
	case sameMonth(rec.LastUpdate, today):
		// First event of a new day: the day counter starts over, the
		// month counter keeps accumulating.
		rec.Day = amount
		rec.Month += amount
	default:
		rec.Day = amount
		rec.Month = amount
	}
	rec.LastUpdate = today

	return t.store.UpdateCosts(ctx, rec)
}

// CurrentCost reports the user's spend for today, this month, and all
// time. A record whose last_update is stale reports zero for the
// elapsed periods even though the stored counters have not been rolled
// over yet; the next AddCost catches them up.
func (t *Tracker) CurrentCost(ctx context.Context, userID int64) (*Costs, error) {
	rec, err := t.store.GetCosts(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Costs{}, nil
	}
	if err != nil {
		return nil, err
	}

	today := t.today()
	costs := &Costs{AllTime: rec.AllTime}
	if rec.LastUpdate == today {
		costs.Today = rec.Day
	}
	if sameMonth(rec.LastUpdate, today) {
		costs.Month = rec.Month
	}
	return costs, nil
}

// AddChatTokens charges a chat completion and records its token count.
func (t *Tracker) AddChatTokens(ctx context.Context, userID int64, tokens int64) error {
	if tokens < 0 {
		return ErrNegativeQuantity
	}
	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := t.addCost(ctx, userID, t.prices.ChatTokens(tokens)); err != nil {
		return err
	}

	today := t.today()
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		h = NewHistory(userID)
		h.ChatTokens[today] = tokens
		return t.store.InsertHistory(ctx, h)
	}
	if err != nil {
		return err
	}
	if h.ChatTokens == nil {
		h.ChatTokens = make(map[string]int64)
	}
	h.ChatTokens[today] += tokens
	return t.store.UpdateChatTokens(ctx, userID, h.ChatTokens)
}

// ChatTokenUsage returns tokens consumed today and this month.
func (t *Tracker) ChatTokenUsage(ctx context.Context, userID int64) (day, month int64, err error) {
	h, err := t.history(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return h.ChatTokens[t.today()], sumMonthInt(h.ChatTokens, t.monthPrefix()), nil
}

// AddImage charges one generated image of the given exact size string.
// An unrecognized size is rejected before anything is written.
func (t *Tracker) AddImage(ctx context.Context, userID int64, size string) error {
	idx, err := pricing.ImageSizeIndex(size)
	if err != nil {
		return err
	}
	cost, err := t.prices.Image(size)
	if err != nil {
		return err
	}

	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := t.addCost(ctx, userID, cost); err != nil {
		return err
	}

	today := t.today()
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		h = NewHistory(userID)
		counts := make([]int64, len(pricing.ImageSizes))
		counts[idx] = 1
		h.NumberImages[today] = counts
		return t.store.InsertHistory(ctx, h)
	}
	if err != nil {
		return err
	}
	if h.NumberImages == nil {
		h.NumberImages = make(map[string][]int64)
	}
	counts := h.NumberImages[today]
	if len(counts) < len(pricing.ImageSizes) {
		padded := make([]int64, len(pricing.ImageSizes))
		copy(padded, counts)
		counts = padded
	}
	counts[idx]++
	h.NumberImages[today] = counts
	return t.store.UpdateImageCounts(ctx, userID, h.NumberImages)
}

// ImageCount returns images generated today and this month, summed
// across all size classes.
func (t *Tracker) ImageCount(ctx context.Context, userID int64) (day, month int64, err error) {
	h, err := t.history(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	prefix := t.monthPrefix()
	today := t.today()
	for date, counts := range h.NumberImages {
		var total int64
		for _, n := range counts {
			total += n
		}
		if date == today {
			day = total
		}
		if len(date) >= len(prefix) && date[:len(prefix)] == prefix {
			month += total
		}
	}
	return day, month, nil
}

// AddVisionTokens charges an image-analysis request.
func (t *Tracker) AddVisionTokens(ctx context.Context, userID int64, tokens int64) error {
	if tokens < 0 {
		return ErrNegativeQuantity
	}
	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := t.addCost(ctx, userID, t.prices.VisionTokens(tokens)); err != nil {
		return err
	}

	today := t.today()
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		h = NewHistory(userID)
		h.VisionTokens[today] = tokens
		return t.store.InsertHistory(ctx, h)
	}
	if err != nil {
		return err
	}
	if h.VisionTokens == nil {
		h.VisionTokens = make(map[string]int64)
	}
	h.VisionTokens[today] += tokens
	return t.store.UpdateVisionTokens(ctx, userID, h.VisionTokens)
}

// VisionTokenUsage returns vision tokens consumed today and this month.
func (t *Tracker) VisionTokenUsage(ctx context.Context, userID int64) (day, month int64, err error) {
	h, err := t.history(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return h.VisionTokens[t.today()], sumMonthInt(h.VisionTokens, t.monthPrefix()), nil
}

// AddTTSCharacters charges a speech synthesis request for a specific
// TTS model. A model missing from the price table is rejected.
func (t *Tracker) AddTTSCharacters(ctx context.Context, userID int64, model string, characters int64) error {
	if characters < 0 {
		return ErrNegativeQuantity
	}
	cost, err := t.prices.TTSCharacters(model, characters)
	if err != nil {
		return err
	}

	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := t.addCost(ctx, userID, cost); err != nil {
		return err
	}

	today := t.today()
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		h = NewHistory(userID)
		h.TTSCharacters[model] = map[string]int64{today: characters}
		return t.store.InsertHistory(ctx, h)
	}
	if err != nil {
		return err
	}
	if h.TTSCharacters == nil {
		h.TTSCharacters = make(map[string]map[string]int64)
	}
	if h.TTSCharacters[model] == nil {
		h.TTSCharacters[model] = make(map[string]int64)
	}
	h.TTSCharacters[model][today] += characters
	return t.store.UpdateTTSCharacters(ctx, userID, h.TTSCharacters)
}

// TTSUsage returns characters synthesized today and this month. With
// model == "" the totals span every model; otherwise only the named
// model is counted.
func (t *Tracker) TTSUsage(ctx context.Context, userID int64, model string) (day, month int64, err error) {
	h, err := t.history(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	today := t.today()
	prefix := t.monthPrefix()
	for name, dates := range h.TTSCharacters {
		if model != "" && name != model {
			continue
		}
		day += dates[today]
		month += sumMonthInt(dates, prefix)
	}
	return day, month, nil
}

// AddTranscriptionSeconds charges an audio transcription request.
func (t *Tracker) AddTranscriptionSeconds(ctx context.Context, userID int64, seconds float64) error {
	if seconds < 0 {
		return ErrNegativeQuantity
	}
	unlock := t.locks.Lock(userID)
	defer unlock()

	if err := t.addCost(ctx, userID, t.prices.Transcription(seconds)); err != nil {
		return err
	}

	today := t.today()
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		h = NewHistory(userID)
		h.TranscriptionSeconds[today] = seconds
		return t.store.InsertHistory(ctx, h)
	}
	if err != nil {
		return err
	}
	if h.TranscriptionSeconds == nil {
		h.TranscriptionSeconds = make(map[string]float64)
	}
	h.TranscriptionSeconds[today] += seconds
	return t.store.UpdateTranscriptionSeconds(ctx, userID, h.TranscriptionSeconds)
}

// Duration is transcribed audio time broken into whole minutes plus
// leftover seconds, ready for display.
type Duration struct {
	Minutes int64   `json:"minutes"`
	Seconds float64 `json:"seconds"`
}

// TranscriptionDuration returns the transcribed time for today and for
// this month. The minutes/seconds split is applied to each total
// independently, not to a combined value.
func (t *Tracker) TranscriptionDuration(ctx context.Context, userID int64) (day, month Duration, err error) {
	h, err := t.history(ctx, userID)
	if err != nil {
		return Duration{}, Duration{}, err
	}
	daySeconds := h.TranscriptionSeconds[t.today()]
	monthSeconds := sumMonthFloat(h.TranscriptionSeconds, t.monthPrefix())
	return splitMinutes(daySeconds), splitMinutes(monthSeconds), nil
}

// AllTimeFromHistory recomputes the user's all-time cost from the raw
// usage history instead of the ledger. It exists for audit and
// backfill; it never mutates the ledger.
func (t *Tracker) AllTimeFromHistory(ctx context.Context, userID int64) (float64, error) {
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var totalTokens int64
	for _, n := range h.ChatTokens {
		totalTokens += n
	}
	total := t.prices.ChatTokens(totalTokens)

	imageCounts := make([]int64, len(pricing.ImageSizes))
	for _, counts := range h.NumberImages {
		for i, n := range counts {
			if i < len(imageCounts) {
				imageCounts[i] += n
			}
		}
	}
	imageCost, err := t.prices.Images(imageCounts)
	if err != nil {
		return 0, err
	}
	total += imageCost

	var totalSeconds float64
	for _, s := range h.TranscriptionSeconds {
		totalSeconds += s
	}
	total += t.prices.Transcription(totalSeconds)

	var totalVision int64
	for _, n := range h.VisionTokens {
		totalVision += n
	}
	total += t.prices.VisionTokens(totalVision)

	for model, dates := range h.TTSCharacters {
		var chars int64
		for _, n := range dates {
			chars += n
		}
		cost, err := t.prices.TTSCharacters(model, chars)
		if err != nil {
			return 0, fmt.Errorf("history references unpriced tts model: %w", err)
		}
		total += cost
	}

	return total, nil
}

// history loads a user's history, mapping a missing row to an empty one
// so that read paths report zero usage instead of failing.
func (t *Tracker) history(ctx context.Context, userID int64) (*History, error) {
	h, err := t.store.GetHistory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return NewHistory(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func sameMonth(a, b string) bool {
	const n = len("2006-01")
	return len(a) >= n && len(b) >= n && a[:n] == b[:n]
}

func sumMonthInt(m map[string]int64, prefix string) int64 {
	var total int64
	for date, v := range m {
		if len(date) >= len(prefix) && date[:len(prefix)] == prefix {
			total += v
		}
	}
	return total
}

func sumMonthFloat(m map[string]float64, prefix string) float64 {
	var total float64
	for date, v := range m {
		if len(date) >= len(prefix) && date[:len(prefix)] == prefix {
			total += v
		}
	}
	return total
}

func splitMinutes(seconds float64) Duration {
	minutes := math.Floor(seconds / 60)
	remaining := math.Round((seconds-minutes*60)*100) / 100
	return Duration{Minutes: int64(minutes), Seconds: remaining}
}
