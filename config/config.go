package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ErrUnknownKey is returned by Apply for settings that do not exist.
var ErrUnknownKey = errors.New("unknown configuration key")

// BudgetPeriod selects which cost counter a user budget applies to.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
	BudgetAllTime BudgetPeriod = "all-time"
)

type Config struct {
	// Server
	Port string // default: 8081

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// API access
	AdminAPIToken string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // requests per minute, default: 600

	// Bot users. AllowedUserIDs and AdminUserIDs hold Telegram user ids;
	// "*" allows everyone, "-" allows nobody.
	AllowedUserIDs string
	AdminUserIDs   string

	// Budgets. UserBudgets is positionally aligned with AllowedUserIDs;
	// "*" means unlimited for everyone.
	UserBudgets  string
	GuestBudget  float64
	BudgetPeriod BudgetPeriod

	// Prices. The list-valued tables keep the fixed orderings from the
	// price env literals: image prices follow the size classes
	// 256x256, 512x512, 1024x1024; TTS prices follow TTSModels.
	TokenPrice         float64   // USD per 1000 chat tokens
	ImagePrices        []float64 // USD per image, by size class
	TranscriptionPrice float64   // USD per minute of audio
	VisionTokenPrice   float64   // USD per 1000 vision tokens
	TTSModels          []string
	TTSPrices          []float64 // USD per 1000 characters, by model
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8081"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AdminAPIToken:        os.Getenv("ADMIN_API_TOKEN"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		AllowedUserIDs:       getEnv("ALLOWED_TELEGRAM_USER_IDS", "*"),
		AdminUserIDs:         getEnv("ADMIN_USER_IDS", "-"),
		UserBudgets:          getEnv("USER_BUDGETS", "*"),
	}

	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "600")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	cfg.GuestBudget, err = parseFloat("GUEST_BUDGET", "100.0")
	if err != nil {
		return nil, err
	}

	period := BudgetPeriod(strings.ToLower(getEnv("BUDGET_PERIOD", "monthly")))
	switch period {
	case BudgetDaily, BudgetMonthly, BudgetAllTime:
		cfg.BudgetPeriod = period
	default:
		return nil, fmt.Errorf("invalid BUDGET_PERIOD %q", period)
	}

	cfg.TokenPrice, err = parseFloat("TOKEN_PRICE", "0.002")
	if err != nil {
		return nil, err
	}
	cfg.TranscriptionPrice, err = parseFloat("TRANSCRIPTION_PRICE", "0.006")
	if err != nil {
		return nil, err
	}
	cfg.VisionTokenPrice, err = parseFloat("VISION_TOKEN_PRICE", "0.01")
	if err != nil {
		return nil, err
	}

	// The image price list must line up with the three size classes; a
	// mismatched length is a configuration error, not something to truncate.
	cfg.ImagePrices, err = ParseFloatList(getEnv("IMAGE_PRICES", "0.016,0.018,0.02"), 3)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_PRICES: %w", err)
	}

	cfg.TTSModels = splitList(getEnv("TTS_MODELS", "tts-1,tts-1-hd"))
	cfg.TTSPrices, err = ParseFloatList(getEnv("TTS_PRICES", "0.015,0.030"), len(cfg.TTSModels))
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_PRICES: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.AdminAPIToken == "" {
		return nil, fmt.Errorf("ADMIN_API_TOKEN is required")
	}

	return cfg, nil
}

// Apply updates a single named setting from its string form. The set of
// accepted keys is closed: anything else is rejected with ErrUnknownKey
// rather than being attached dynamically.
func (c *Config) Apply(key, value string) error {
	switch key {
	case "allowed_user_ids":
		c.AllowedUserIDs = value
	case "admin_user_ids":
		c.AdminUserIDs = value
	case "user_budgets":
		c.UserBudgets = value
	case "guest_budget":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid guest_budget: %w", err)
		}
		c.GuestBudget = v
	case "budget_period":
		switch p := BudgetPeriod(strings.ToLower(value)); p {
		case BudgetDaily, BudgetMonthly, BudgetAllTime:
			c.BudgetPeriod = p
		default:
			return fmt.Errorf("invalid budget_period %q", value)
		}
	case "token_price":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid token_price: %w", err)
		}
		c.TokenPrice = v
	case "transcription_price":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid transcription_price: %w", err)
		}
		c.TranscriptionPrice = v
	case "vision_token_price":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid vision_token_price: %w", err)
		}
		c.VisionTokenPrice = v
	case "image_prices":
		prices, err := ParseFloatList(value, 3)
		if err != nil {
			return fmt.Errorf("invalid image_prices: %w", err)
		}
		c.ImagePrices = prices
	case "tts_prices":
		prices, err := ParseFloatList(value, len(c.TTSModels))
		if err != nil {
			return fmt.Errorf("invalid tts_prices: %w", err)
		}
		c.TTSPrices = prices
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// ParseFloatList parses a comma-separated numeric literal like
// "0.016,0.018,0.02" into an ordered list. want is the expected length;
// pass want <= 0 to accept any length.
func ParseFloatList(s string, want int) ([]float64, error) {
	parts := splitList(s)
	if want > 0 && len(parts) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(parts))
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloat(key, fallback string) (float64, error) {
	v, err := strconv.ParseFloat(getEnv(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
