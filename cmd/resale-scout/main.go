package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mkoski/resale-scout/config"
	"github.com/mkoski/resale-scout/internal/alerts"
	"github.com/mkoski/resale-scout/internal/cart"
	"github.com/mkoski/resale-scout/internal/ebay"
	"github.com/mkoski/resale-scout/internal/fx"
	"github.com/mkoski/resale-scout/internal/imagematch"
	"github.com/mkoski/resale-scout/internal/llm"
	"github.com/mkoski/resale-scout/internal/matcher"
	"github.com/mkoski/resale-scout/internal/notify"
	"github.com/mkoski/resale-scout/internal/storage"
)

const usage = `Usage: resale-scout <command> [args]

Commands:
  match <image> [query]    Match a reference photo against eBay sold listings.
                           With no query, a search query is generated from the
                           photo (requires GEMINI_API_KEY).
  verify-cart <cart.json>  Verify the resale value of every cart item.
  watch                    Watch the stored cart and alert on opportunities.
  alert <id> <state>       Move an alert to reviewed, purchased or rejected.
`

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}
	defer app.close()

	switch args[0] {
	case "match":
		err = app.runMatch(ctx, args[1:])
	case "verify-cart":
		err = app.runVerifyCart(ctx, args[1:])
	case "watch":
		err = app.runWatch(ctx)
	case "alert":
		err = app.runAlert(args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

// app wires the shared components every command builds on.
type app struct {
	cfg      config.Config
	store    storage.Store
	searcher *ebay.Client
	features *imagematch.FeatureSource
	matcher  *matcher.Matcher
	verifier *cart.Verifier
	rates    *fx.Client
	notifier *notify.Notifier
}

func newApp(cfg config.Config) (*app, error) {
	var key []byte
	if cfg.CredentialsKey != "" {
		var err error
		key, err = storage.DeriveKey(cfg.CredentialsKey)
		if err != nil {
			return nil, err
		}
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath, key)
	if err != nil {
		return nil, err
	}

	searcher := ebay.NewClient(ebay.ClientOpts{BaseURL: cfg.EBayBaseURL})
	features := imagematch.NewFeatureSource(imagematch.NewImageDownloader(), cfg.DebugImageDir)

	var notifier *notify.Notifier
	if token := resolveBotToken(cfg, store); token != "" && cfg.TelegramChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		notifier = notify.New(bot, cfg.TelegramChatID)
	}

	return &app{
		cfg:      cfg,
		store:    store,
		searcher: searcher,
		features: features,
		matcher:  matcher.New(searcher, features),
		verifier: cart.NewVerifier(searcher, features),
		rates:    fx.NewClient(fx.ClientOpts{FallbackRate: cfg.ExchangeRate}),
		notifier: notifier,
	}, nil
}

const botTokenCredential = "bot_token"

// resolveBotToken prefers the BOT_TOKEN environment variable and, when a
// credentials key is configured, remembers it encrypted in the database
// so later runs can omit the variable.
func resolveBotToken(cfg config.Config, store storage.Store) string {
	if cfg.BotToken != "" {
		if cfg.CredentialsKey != "" {
			if err := store.SetCredential(botTokenCredential, cfg.BotToken); err != nil {
				log.Warn().Err(err).Msg("Failed to persist bot token")
			}
		}
		return cfg.BotToken
	}

	if cfg.CredentialsKey == "" {
		return ""
	}
	token, err := store.GetCredential(botTokenCredential)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored bot token")
		return ""
	}
	return token
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

func (a *app) runMatch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("match requires an image path")
	}
	imagePath := args[0]

	query := ""
	if len(args) > 1 {
		query = args[1]
	} else {
		suggested, err := a.suggestQuery(ctx, imagePath)
		if err != nil {
			return err
		}
		query = suggested
	}

	result := a.matcher.FindMatches(ctx, imagePath, query, a.cfg.MatcherOptions())

	rate := a.rates.JPYPerUSD(ctx)
	report := struct {
		matcher.MatchResult
		ProfitScenarios []matcher.ProfitScenario `json:"profit_scenarios,omitempty"`
		Recommendations []string                 `json:"recommendations"`
	}{
		MatchResult:     result,
		Recommendations: matcher.Recommendations(result),
	}
	if result.MatchesFound > 0 {
		report.ProfitScenarios = matcher.ProfitScenarios(result, rate, a.cfg.FeeRate, a.cfg.ShippingCost)
	}
	return printJSON(report)
}

// suggestQuery generates a search query from the reference photo.
func (a *app) suggestQuery(ctx context.Context, imagePath string) (string, error) {
	if a.cfg.GeminiAPIKey == "" {
		return "", fmt.Errorf("no query given and GEMINI_API_KEY is not set")
	}

	gemini, err := llm.NewGeminiSuggester(ctx)
	if err != nil {
		return "", err
	}
	suggester := llm.NewCachedSuggester(gemini, a.store)

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read reference image: %w", err)
	}
	return suggester.SuggestQuery(ctx, "", imageData)
}

func (a *app) runVerifyCart(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("verify-cart requires a cart file")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read cart file: %w", err)
	}
	var items []cart.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse cart file: %w", err)
	}

	// Snapshot the cart so the watcher can keep polling it later.
	snapshot := make([]storage.CartItem, len(items))
	for i, item := range items {
		snapshot[i] = storage.CartItem{
			ItemID:   item.ID,
			Title:    item.Title,
			Keyword:  item.Keyword,
			PriceJPY: item.PriceJPY,
			Status:   item.Status,
			ImageURL: item.ImageURL,
		}
	}
	if err := a.store.ReplaceCart(snapshot); err != nil {
		return err
	}

	rate := a.rates.JPYPerUSD(ctx)
	result := a.verifier.Verify(ctx, items, a.cfg.CartOptions(rate))
	a.notifier.CartVerified(result)
	return printJSON(result)
}

func (a *app) runWatch(ctx context.Context) error {
	service := alerts.NewService(a.store, a.verifier, a.rates, a.notifier, alerts.Options{
		MinSimilarity: a.cfg.SimilarityThreshold,
		MaxResults:    a.cfg.MaxResults,
		DaysBack:      a.cfg.DaysBack,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		service.Run(ctx)
		return nil
	})
	return g.Wait()
}

func (a *app) runAlert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("alert requires an id and a state")
	}
	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("invalid alert id %q", args[0])
	}

	state := storage.AlertState(args[1])
	switch state {
	case storage.AlertReviewed, storage.AlertPurchased, storage.AlertRejected:
	default:
		return fmt.Errorf("invalid state %q", args[1])
	}
	return alerts.Transition(a.store, id, state)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
