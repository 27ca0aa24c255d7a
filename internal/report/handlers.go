// Package report exposes the accounting subsystem over HTTP: recording
// chargeable events and reading per-user usage, cost, budget, and
// settings. The Telegram-facing process is one caller of this API; it
// owns message routing and never touches the database directly.
package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/danghm/botledger/internal/budget"
	"github.com/danghm/botledger/internal/pricing"
	"github.com/danghm/botledger/internal/settings"
	"github.com/danghm/botledger/internal/usage"
	"github.com/danghm/botledger/pkg/ratelimit"
)

// Event categories accepted by HandleRecordEvent.
const (
	CategoryCost          = "cost"
	CategoryChatTokens    = "chat_tokens"
	CategoryImage         = "image"
	CategoryVisionTokens  = "vision_tokens"
	CategoryTTS           = "tts_characters"
	CategoryTranscription = "transcription_seconds"
)

type Handler struct {
	tracker  *usage.Tracker
	settings *settings.Service
	guard    *budget.Guard
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
}

func NewHandler(tracker *usage.Tracker, svc *settings.Service, guard *budget.Guard, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		tracker:  tracker,
		settings: svc,
		guard:    guard,
		limiter:  limiter,
		tracer:   tracer,
	}
}

type eventRequest struct {
	Category string  `json:"category"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`   // for category "cost"
	Size     string  `json:"size"`     // for category "image"
	Model    string  `json:"model"`    // for category "tts_characters"
	UserName string  `json:"user_name"` // optional; creates the user lazily
}

// HandleRecordEvent charges a single usage event against a user.
func (h *Handler) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "report.record_event")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("category", req.Category),
	)

	allowed, err := h.limiter.Allow(ctx, userID, 1)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if req.UserName != "" {
		if err := h.tracker.EnsureUser(ctx, userID, req.UserName); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	switch req.Category {
	case CategoryCost:
		err = h.tracker.AddCost(ctx, userID, req.Amount)
	case CategoryChatTokens:
		err = h.tracker.AddChatTokens(ctx, userID, int64(req.Quantity))
	case CategoryImage:
		err = h.tracker.AddImage(ctx, userID, req.Size)
	case CategoryVisionTokens:
		err = h.tracker.AddVisionTokens(ctx, userID, int64(req.Quantity))
	case CategoryTTS:
		err = h.tracker.AddTTSCharacters(ctx, userID, req.Model, int64(req.Quantity))
	case CategoryTranscription:
		err = h.tracker.AddTranscriptionSeconds(ctx, userID, req.Quantity)
	default:
		writeError(w, http.StatusBadRequest, "unknown event category")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrUnknownImageSize),
			errors.Is(err, pricing.ErrUnknownTTSModel),
			errors.Is(err, usage.ErrNegativeQuantity),
			errors.Is(err, usage.ErrNegativeAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": uuid.New().String(),
		"user_id":  userID,
		"category": req.Category,
	})
}

// HandleUsage returns the full per-category day/month report plus the
// ledger read.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	costs, err := h.tracker.CurrentCost(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tokensDay, tokensMonth, err := h.tracker.ChatTokenUsage(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	imagesDay, imagesMonth, err := h.tracker.ImageCount(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	visionDay, visionMonth, err := h.tracker.VisionTokenUsage(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ttsDay, ttsMonth, err := h.tracker.TTSUsage(ctx, userID, r.URL.Query().Get("tts_model"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	transcribedDay, transcribedMonth, err := h.tracker.TranscriptionDuration(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"user_id": userID,
		"cost":    costs,
		"chat_tokens": map[string]int64{
			"today": tokensDay, "month": tokensMonth,
		},
		"images": map[string]int64{
			"today": imagesDay, "month": imagesMonth,
		},
		"vision_tokens": map[string]int64{
			"today": visionDay, "month": visionMonth,
		},
		"tts_characters": map[string]int64{
			"today": ttsDay, "month": ttsMonth,
		},
		"transcription": map[string]usage.Duration{
			"today": transcribedDay, "month": transcribedMonth,
		},
	}

	// The recomputed all-time total is an audit read over the whole
	// history, so it is opt-in.
	if r.URL.Query().Get("audit") == "true" {
		allTime, err := h.tracker.AllTimeFromHistory(ctx, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["all_time_from_history"] = allTime
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCost returns only the ledger read model.
func (h *Handler) HandleCost(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	costs, err := h.tracker.CurrentCost(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

// HandleBudget reports the user's remaining budget for the configured
// period.
func (h *Handler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	remaining, err := h.guard.Remaining(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"user_id": userID, "unlimited": false}
	if remaining > 1e308 {
		resp["unlimited"] = true
	} else {
		resp["remaining"] = remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetSettings returns the stored settings; 404 when the user has
// never written any.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	st, err := h.settings.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no settings for user")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSetModel upserts the user's selected model.
func (h *Handler) HandleSetModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		ModelName string `json:"model_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if err := h.settings.SetModel(r.Context(), userID, req.ModelName); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetBrain upserts the user's selected persona.
func (h *Handler) HandleSetBrain(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Brain string `json:"brain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Brain == "" {
		writeError(w, http.StatusBadRequest, "brain is required")
		return
	}
	if err := h.settings.SetBrain(r.Context(), userID, req.Brain); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
