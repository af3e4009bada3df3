// Package config loads runtime configuration from the environment, with
// an optional env file in the user's config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/mkoski/resale-scout/internal/cart"
	"github.com/mkoski/resale-scout/internal/fx"
	"github.com/mkoski/resale-scout/internal/matcher"
)

const (
	AppName     = "resale-scout"
	EnvFileName = "config.env"
)

// Config is the full runtime configuration.
type Config struct {
	SimilarityThreshold float64
	MaxResults          int
	DaysBack            int
	ExchangeRate        float64
	FeeRate             float64
	ShippingCost        float64

	DBPath         string
	DebugImageDir  string
	EBayBaseURL    string
	CredentialsKey string

	BotToken       string
	TelegramChatID int64
	GeminiAPIKey   string
}

const (
	defaultFeeRate      = 0.13
	defaultShippingCost = 25.0
	defaultDBPath       = "resale-scout.db"
)

// LoadEnvFile loads environment variables from the config file in the
// user's config directory. Errors are ignored since the file may not
// exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load reads the configuration from the environment. Unset numeric
// values fall back to the package defaults; malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		DBPath:         envOr("DB_PATH", defaultDBPath),
		DebugImageDir:  os.Getenv("DEBUG_IMAGE_DIR"),
		EBayBaseURL:    os.Getenv("EBAY_BASE_URL"),
		CredentialsKey: os.Getenv("CREDENTIALS_KEY"),
		BotToken:       os.Getenv("BOT_TOKEN"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
	}

	var err error
	if cfg.SimilarityThreshold, err = envFloat("SIMILARITY_THRESHOLD", matcher.DefaultSimilarityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MaxResults, err = envInt("MAX_RESULTS", matcher.DefaultMaxResults); err != nil {
		return Config{}, err
	}
	if cfg.DaysBack, err = envInt("DAYS_BACK", matcher.DefaultDaysBack); err != nil {
		return Config{}, err
	}
	if cfg.ExchangeRate, err = envFloat("EXCHANGE_RATE", fx.DefaultFallbackRate); err != nil {
		return Config{}, err
	}
	if cfg.FeeRate, err = envFloat("FEE_RATE", defaultFeeRate); err != nil {
		return Config{}, err
	}
	if cfg.ShippingCost, err = envFloat("SHIPPING_COST", defaultShippingCost); err != nil {
		return Config{}, err
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("TELEGRAM_CHAT_ID must be a valid integer: %w", err)
		}
	}

	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return Config{}, fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1], got %v", cfg.SimilarityThreshold)
	}
	return cfg, nil
}

// MatcherOptions derives matching options from the configuration.
func (c Config) MatcherOptions() matcher.Options {
	return matcher.Options{
		MaxResults:          c.MaxResults,
		DaysBack:            c.DaysBack,
		SimilarityThreshold: c.SimilarityThreshold,
	}
}

// CartOptions derives cart verification options, using rate as the
// JPY/USD conversion.
func (c Config) CartOptions(rate float64) cart.Options {
	return cart.Options{
		ExchangeRate: rate,
		MaxResults:   c.MaxResults,
		DaysBack:     c.DaysBack,
	}
}

// TelegramConfigured reports whether notifications can be sent.
func (c Config) TelegramConfigured() bool {
	return c.BotToken != "" && c.TelegramChatID != 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return f, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return i, nil
}
