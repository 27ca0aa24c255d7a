package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danghm/botledger/config"
	"github.com/danghm/botledger/internal/pricing"
)

// fakeStore is an in-memory Store for exercising the tracker without a
// database.
type fakeStore struct {
	users     map[int64]string
	costs     map[int64]*CostRecord
	histories map[int64]*History
	failWith  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[int64]string),
		costs:     make(map[int64]*CostRecord),
		histories: make(map[int64]*History),
	}
}

func (f *fakeStore) EnsureUser(ctx context.Context, userID int64, userName string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = userName
	}
	return nil
}

func (f *fakeStore) GetCosts(ctx context.Context, userID int64) (*CostRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	rec, ok := f.costs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) InsertCosts(ctx context.Context, rec *CostRecord) error {
	if f.failWith != nil {
		return f.failWith
	}
	cp := *rec
	f.costs[rec.UserID] = &cp
	return nil
}

func (f *fakeStore) UpdateCosts(ctx context.Context, rec *CostRecord) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.costs[rec.UserID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	f.costs[rec.UserID] = &cp
	return nil
}

func (f *fakeStore) GetHistory(ctx context.Context, userID int64) (*History, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	h, ok := f.histories[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, h *History) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.histories[h.UserID] = h
	return nil
}

func (f *fakeStore) UpdateChatTokens(ctx context.Context, userID int64, tokens map[string]int64) error {
	return f.updateHistory(userID, func(h *History) { h.ChatTokens = tokens })
}

func (f *fakeStore) UpdateTranscriptionSeconds(ctx context.Context, userID int64, seconds map[string]float64) error {
	return f.updateHistory(userID, func(h *History) { h.TranscriptionSeconds = seconds })
}

func (f *fakeStore) UpdateImageCounts(ctx context.Context, userID int64, counts map[string][]int64) error {
	return f.updateHistory(userID, func(h *History) { h.NumberImages = counts })
}

func (f *fakeStore) UpdateTTSCharacters(ctx context.Context, userID int64, characters map[string]map[string]int64) error {
	return f.updateHistory(userID, func(h *History) { h.TTSCharacters = characters })
}

func (f *fakeStore) UpdateVisionTokens(ctx context.Context, userID int64, tokens map[string]int64) error {
	return f.updateHistory(userID, func(h *History) { h.VisionTokens = tokens })
}

func (f *fakeStore) updateHistory(userID int64, apply func(*History)) error {
	if f.failWith != nil {
		return f.failWith
	}
	h, ok := f.histories[userID]
	if !ok {
		return ErrNotFound
	}
	apply(h)
	return nil
}

func testPrices() *pricing.Table {
	return pricing.NewTable(&config.Config{
		TokenPrice:         0.002,
		ImagePrices:        []float64{0.016, 0.018, 0.02},
		TranscriptionPrice: 0.006,
		VisionTokenPrice:   0.01,
		TTSModels:          []string{"tts-1", "tts-1-hd"},
		TTSPrices:          []float64{0.015, 0.030},
	})
}

func fixedClock(date string) func() time.Time {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func newTestTracker(store Store, today string) *Tracker {
	return NewTracker(store, testPrices()).WithClock(fixedClock(today))
}

func TestCurrentCost_NoRecord(t *testing.T) {
	tr := newTestTracker(newFakeStore(), "2024-03-15")

	costs, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	if costs.Today != 0 || costs.Month != 0 || costs.AllTime != 0 {
		t.Errorf("Expected all-zero costs, got %+v", costs)
	}
}

func TestAddCost_FirstEvent(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")

	if err := tr.AddCost(context.Background(), 1, 5.0); err != nil {
		t.Fatalf("AddCost failed: %v", err)
	}

	costs, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	if costs.Today != 5.0 || costs.Month != 5.0 || costs.AllTime != 5.0 {
		t.Errorf("Expected {5, 5, 5}, got %+v", costs)
	}
	if store.costs[1].LastUpdate != "2024-03-15" {
		t.Errorf("Expected last_update 2024-03-15, got %s", store.costs[1].LastUpdate)
	}
}

func TestAddCost_SameDay(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-03-15"}
	tr := newTestTracker(store, "2024-03-15")

	if err := tr.AddCost(context.Background(), 1, 2.0); err != nil {
		t.Fatalf("AddCost failed: %v", err)
	}

	rec := store.costs[1]
	if rec.Day != 5.0 || rec.Month != 52.0 || rec.AllTime != 122.0 {
		t.Errorf("Expected day=5 month=52 all_time=122, got %+v", rec)
	}
}

func TestAddCost_NewDaySameMonth(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-03-14"}
	tr := newTestTracker(store, "2024-03-15")

	if err := tr.AddCost(context.Background(), 1, 2.0); err != nil {
		t.Fatalf("AddCost failed: %v", err)
	}

	rec := store.costs[1]
	if rec.Day != 2.0 || rec.Month != 52.0 || rec.AllTime != 122.0 {
		t.Errorf("Expected day=2 month=52 all_time=122, got %+v", rec)
	}
	if rec.LastUpdate != "2024-03-15" {
		t.Errorf("Expected last_update 2024-03-15, got %s", rec.LastUpdate)
	}
}

func TestAddCost_NewMonth(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-02-29"}
	tr := newTestTracker(store, "2024-03-01")

	if err := tr.AddCost(context.Background(), 1, 2.0); err != nil {
		t.Fatalf("AddCost failed: %v", err)
	}

	rec := store.costs[1]
	if rec.Day != 2.0 || rec.Month != 2.0 || rec.AllTime != 122.0 {
		t.Errorf("Expected day=2 month=2 all_time=122, got %+v", rec)
	}
}

func TestAddCost_ZeroAmountStillRollsOver(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-03-14"}
	tr := newTestTracker(store, "2024-03-15")

	if err := tr.AddCost(context.Background(), 1, 0); err != nil {
		t.Fatalf("AddCost failed: %v", err)
	}

	rec := store.costs[1]
	if rec.Day != 0 || rec.Month != 50.0 || rec.AllTime != 120.0 {
		t.Errorf("Expected day=0 month=50 all_time=120, got %+v", rec)
	}
	if rec.LastUpdate != "2024-03-15" {
		t.Errorf("Expected last_update refreshed to 2024-03-15, got %s", rec.LastUpdate)
	}
}

func TestAddCost_NegativeAmount(t *testing.T) {
	tr := newTestTracker(newFakeStore(), "2024-03-15")
	if err := tr.AddCost(context.Background(), 1, -1.0); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("Expected ErrNegativeAmount, got %v", err)
	}
}

func TestCurrentCost_StaleDayReadsZero(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-03-14"}
	tr := newTestTracker(store, "2024-03-15")

	costs, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	if costs.Today != 0 || costs.Month != 50.0 || costs.AllTime != 120.0 {
		t.Errorf("Expected {0, 50, 120}, got %+v", costs)
	}
}

func TestCurrentCost_StaleMonthReadsZero(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-02-29"}
	tr := newTestTracker(store, "2024-03-15")

	costs, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	if costs.Today != 0 || costs.Month != 0 || costs.AllTime != 120.0 {
		t.Errorf("Expected {0, 0, 120}, got %+v", costs)
	}
}

func TestCurrentCost_ReadIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.costs[1] = &CostRecord{UserID: 1, Day: 3.0, Month: 50.0, AllTime: 120.0, LastUpdate: "2024-03-14"}
	tr := newTestTracker(store, "2024-03-15")

	first, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	second, err := tr.CurrentCost(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentCost failed: %v", err)
	}
	if *first != *second {
		t.Errorf("Expected identical reads, got %+v then %+v", first, second)
	}
	if store.costs[1].Day != 3.0 {
		t.Errorf("Read must not mutate the stored record, got %+v", store.costs[1])
	}
}

func TestAddChatTokens_CreatesHistoryAndLedger(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")

	if err := tr.AddChatTokens(context.Background(), 1, 1500); err != nil {
		t.Fatalf("AddChatTokens failed: %v", err)
	}

	if got := store.histories[1].ChatTokens["2024-03-15"]; got != 1500 {
		t.Errorf("Expected 1500 tokens recorded, got %d", got)
	}
	// 1500 * 0.002 / 1000 = 0.003
	if got := store.costs[1].AllTime; got != 0.003 {
		t.Errorf("Expected all_time cost 0.003, got %v", got)
	}
}

func TestChatTokenUsage_MonthPrefixIsExact(t *testing.T) {
	store := newFakeStore()
	h := NewHistory(1)
	h.ChatTokens["2024-01-31"] = 10
	h.ChatTokens["2024-02-01"] = 20
	store.histories[1] = h
	tr := newTestTracker(store, "2024-02-15")

	day, month, err := tr.ChatTokenUsage(context.Background(), 1)
	if err != nil {
		t.Fatalf("ChatTokenUsage failed: %v", err)
	}
	if day != 0 {
		t.Errorf("Expected 0 tokens today, got %d", day)
	}
	if month != 20 {
		t.Errorf("Expected January usage excluded, got month=%d", month)
	}
}

func TestAddImage_SizeVector(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")
	ctx := context.Background()

	for _, size := range []string{"1024x1024", "1024x1024", "256x256"} {
		if err := tr.AddImage(ctx, 1, size); err != nil {
			t.Fatalf("AddImage(%s) failed: %v", size, err)
		}
	}

	counts := store.histories[1].NumberImages["2024-03-15"]
	want := []int64{1, 0, 2}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Expected counts %v, got %v", want, counts)
			break
		}
	}

	day, month, err := tr.ImageCount(ctx, 1)
	if err != nil {
		t.Fatalf("ImageCount failed: %v", err)
	}
	if day != 3 || month != 3 {
		t.Errorf("Expected day=3 month=3, got day=%d month=%d", day, month)
	}
}

func TestAddImage_UnknownSize(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")

	err := tr.AddImage(context.Background(), 1, "640x480")
	if !errors.Is(err, pricing.ErrUnknownImageSize) {
		t.Fatalf("Expected ErrUnknownImageSize, got %v", err)
	}
	if len(store.costs) != 0 || len(store.histories) != 0 {
		t.Errorf("Nothing must be written for a rejected size")
	}
}

func TestTTSUsage_AcrossModels(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")
	ctx := context.Background()

	if err := tr.AddTTSCharacters(ctx, 1, "tts-1", 400); err != nil {
		t.Fatalf("AddTTSCharacters failed: %v", err)
	}
	if err := tr.AddTTSCharacters(ctx, 1, "tts-1-hd", 600); err != nil {
		t.Fatalf("AddTTSCharacters failed: %v", err)
	}

	day, month, err := tr.TTSUsage(ctx, 1, "")
	if err != nil {
		t.Fatalf("TTSUsage failed: %v", err)
	}
	if day != 1000 || month != 1000 {
		t.Errorf("Expected 1000 characters across models, got day=%d month=%d", day, month)
	}

	day, _, err = tr.TTSUsage(ctx, 1, "tts-1-hd")
	if err != nil {
		t.Fatalf("TTSUsage failed: %v", err)
	}
	if day != 600 {
		t.Errorf("Expected 600 characters for tts-1-hd, got %d", day)
	}
}

func TestAddTTSCharacters_UnknownModel(t *testing.T) {
	tr := newTestTracker(newFakeStore(), "2024-03-15")
	err := tr.AddTTSCharacters(context.Background(), 1, "tts-9", 100)
	if !errors.Is(err, pricing.ErrUnknownTTSModel) {
		t.Errorf("Expected ErrUnknownTTSModel, got %v", err)
	}
}

func TestTranscriptionDuration_SplitsPeriodsIndependently(t *testing.T) {
	store := newFakeStore()
	h := NewHistory(1)
	h.TranscriptionSeconds["2024-03-15"] = 90
	h.TranscriptionSeconds["2024-03-01"] = 60
	store.histories[1] = h
	tr := newTestTracker(store, "2024-03-15")

	day, month, err := tr.TranscriptionDuration(context.Background(), 1)
	if err != nil {
		t.Fatalf("TranscriptionDuration failed: %v", err)
	}
	if day.Minutes != 1 || day.Seconds != 30 {
		t.Errorf("Expected 1m30s today, got %dm%vs", day.Minutes, day.Seconds)
	}
	if month.Minutes != 2 || month.Seconds != 30 {
		t.Errorf("Expected 2m30s this month, got %dm%vs", month.Minutes, month.Seconds)
	}
}

func TestVisionTokens_RoundTrip(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, "2024-03-15")
	ctx := context.Background()

	if err := tr.AddVisionTokens(ctx, 1, 2000); err != nil {
		t.Fatalf("AddVisionTokens failed: %v", err)
	}
	day, month, err := tr.VisionTokenUsage(ctx, 1)
	if err != nil {
		t.Fatalf("VisionTokenUsage failed: %v", err)
	}
	if day != 2000 || month != 2000 {
		t.Errorf("Expected 2000 vision tokens, got day=%d month=%d", day, month)
	}
	// 2000 * 0.01 / 1000 = 0.02
	if got := store.costs[1].AllTime; got != 0.02 {
		t.Errorf("Expected cost 0.02, got %v", got)
	}
}

func TestAllTimeFromHistory(t *testing.T) {
	store := newFakeStore()
	h := NewHistory(1)
	h.ChatTokens["2024-03-01"] = 1000
	h.ChatTokens["2024-03-02"] = 500
	h.NumberImages["2024-03-01"] = []int64{1, 0, 2}
	h.TranscriptionSeconds["2024-03-01"] = 90
	h.VisionTokens["2024-03-01"] = 2000
	h.TTSCharacters["tts-1"] = map[string]int64{"2024-03-01": 2000}
	store.histories[1] = h
	tr := newTestTracker(store, "2024-03-15")

	got, err := tr.AllTimeFromHistory(context.Background(), 1)
	if err != nil {
		t.Fatalf("AllTimeFromHistory failed: %v", err)
	}

	// tokens 0.003 + images 0.016+0.04 + transcription 0.01 + vision 0.02 + tts 0.03
	want := 0.003 + 0.056 + 0.01 + 0.02 + 0.03
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestAllTimeFromHistory_NoHistory(t *testing.T) {
	tr := newTestTracker(newFakeStore(), "2024-03-15")
	got, err := tr.AllTimeFromHistory(context.Background(), 1)
	if err != nil {
		t.Fatalf("AllTimeFromHistory failed: %v", err)
	}
	if got != 0 {
		t.Errorf("Expected 0 for a user with no history, got %v", got)
	}
}

func TestAddChatTokens_StoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection reset")
	tr := newTestTracker(store, "2024-03-15")

	err := tr.AddChatTokens(context.Background(), 1, 100)
	if err == nil || !errors.Is(err, store.failWith) {
		t.Errorf("Expected the store error to propagate, got %v", err)
	}
}
