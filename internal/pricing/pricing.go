// Package pricing converts usage quantities into USD costs using the
// price tables supplied through configuration. All functions are pure;
// each per-event cost is rounded here, before it is accumulated into
// any running total.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/danghm/botledger/config"
)

var (
	ErrUnknownImageSize = errors.New("unknown image size")
	ErrUnknownTTSModel  = errors.New("unknown tts model")
)

// ImageSizes is the fixed ordering of image size classes. Image price
// lists and the per-day image count vectors are indexed by it.
var ImageSizes = [3]string{"256x256", "512x512", "1024x1024"}

// ImageSizeIndex returns the slot for an exact size string.
func ImageSizeIndex(size string) (int, error) {
	for i, s := range ImageSizes {
		if s == size {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownImageSize, size)
}

// Table holds the resolved price tables for every chargeable category.
type Table struct {
	tokenPrice         float64            // per 1000 chat tokens
	imagePrices        [3]float64         // per image, by size class
	transcriptionPrice float64            // per minute of audio
	visionTokenPrice   float64            // per 1000 vision tokens
	ttsPrices          map[string]float64 // per 1000 characters, by model
}

// NewTable builds a Table from config. Load has already validated list
// lengths, so the only failure mode left is a nil config.
func NewTable(cfg *config.Config) *Table {
	t := &Table{
		tokenPrice:         cfg.TokenPrice,
		transcriptionPrice: cfg.TranscriptionPrice,
		visionTokenPrice:   cfg.VisionTokenPrice,
		ttsPrices:          make(map[string]float64, len(cfg.TTSModels)),
	}
	copy(t.imagePrices[:], cfg.ImagePrices)
	for i, model := range cfg.TTSModels {
		t.ttsPrices[model] = cfg.TTSPrices[i]
	}
	return t
}

// ChatTokens prices a chat completion, rounded to 6 decimal places.
func (t *Table) ChatTokens(tokens int64) float64 {
	return roundTo(float64(tokens)*t.tokenPrice/1000, 6)
}

// Image prices a single generated image by its exact size string.
func (t *Table) Image(size string) (float64, error) {
	idx, err := ImageSizeIndex(size)
	if err != nil {
		return 0, err
	}
	return t.imagePrices[idx], nil
}

// Images prices a count vector indexed by size class. Counts beyond the
// three known size classes are a contract violation.
func (t *Table) Images(counts []int64) (float64, error) {
	if len(counts) > len(t.imagePrices) {
		return 0, fmt.Errorf("%w: %d size slots", ErrUnknownImageSize, len(counts))
	}
	var total float64
	for i, n := range counts {
		total += float64(n) * t.imagePrices[i]
	}
	return total, nil
}

// Transcription prices seconds of transcribed audio, rounded to 2
// decimal places.
func (t *Table) Transcription(seconds float64) float64 {
	return roundTo(seconds*t.transcriptionPrice/60, 2)
}

// VisionTokens prices image-analysis tokens, rounded to 2 decimal places.
func (t *Table) VisionTokens(tokens int64) float64 {
	return roundTo(float64(tokens)*t.visionTokenPrice/1000, 2)
}

// TTSCharacters prices synthesized speech for a given model, rounded to
// 2 decimal places. A model missing from the price table is a caller
// contract violation, not a free request.
func (t *Table) TTSCharacters(model string, characters int64) (float64, error) {
	price, ok := t.ttsPrices[model]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTTSModel, model)
	}
	return roundTo(float64(characters)*price/1000, 2), nil
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
