// Package alerts watches the stored cart in the background, re-verifies
// items against eBay sold listings and raises alerts for profitable
// finds.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/resale-scout/internal/cart"
	"github.com/mkoski/resale-scout/internal/notify"
	"github.com/mkoski/resale-scout/internal/storage"
)

const (
	// PollInterval is the time between polling cycles.
	PollInterval = 30 * time.Minute

	// DelayBetweenItems spaces out verification of individual items
	// within one cycle.
	DelayBetweenItems = 2 * time.Second

	// DefaultMinProfitUSD is the expected profit below which no alert is
	// raised.
	DefaultMinProfitUSD = 10.0
)

// Rates supplies the JPY/USD conversion for profit estimates.
type Rates interface {
	JPYPerUSD(ctx context.Context) float64
}

// Options tunes the watcher service.
type Options struct {
	PollInterval  time.Duration
	MinProfitUSD  float64
	MinSimilarity float64
	MaxResults    int
	DaysBack      int
}

func (o Options) withDefaults() Options {
	if o.PollInterval == 0 {
		o.PollInterval = PollInterval
	}
	if o.MinProfitUSD == 0 {
		o.MinProfitUSD = DefaultMinProfitUSD
	}
	return o
}

// Service is the background watcher that polls the stored cart.
type Service struct {
	store    storage.Store
	verifier *cart.Verifier
	rates    Rates
	notifier *notify.Notifier
	opts     Options

	sleep func(ctx context.Context, d time.Duration)
}

func NewService(store storage.Store, verifier *cart.Verifier, rates Rates, notifier *notify.Notifier, opts Options) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		rates:    rates,
		notifier: notifier,
		opts:     opts.withDefaults(),
		sleep:    sleepCtx,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", s.opts.PollInterval).Msg("Starting alert watcher")

	s.Poll(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Alert watcher stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll executes one polling cycle: verify every stored cart item and
// raise alerts for profitable ones not yet alerted.
func (s *Service) Poll(ctx context.Context) {
	items, err := s.store.GetCart()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read stored cart")
		return
	}
	if len(items) == 0 {
		log.Debug().Msg("No cart items to watch")
		return
	}

	alerted, err := s.alertedItemIDs()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read existing alerts")
		return
	}

	rate := s.rates.JPYPerUSD(ctx)
	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if alerted[item.ItemID] {
			continue
		}
		if processed > 0 {
			s.sleep(ctx, DelayBetweenItems)
		}
		processed++

		s.checkItem(ctx, item, rate)
	}

	log.Debug().Int("items", len(items)).Int("checked", processed).Msg("Alert poll cycle complete")
}

func (s *Service) alertedItemIDs() (map[string]bool, error) {
	alerts, err := s.store.ListAlerts(storage.AlertFilter{})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		// Rejected alerts may be re-raised if the numbers change.
		if a.State != storage.AlertRejected {
			ids[a.ItemID] = true
		}
	}
	return ids, nil
}

func (s *Service) checkItem(ctx context.Context, item storage.CartItem, rate float64) {
	result := s.verifier.Verify(ctx, []cart.Item{{
		ID:       item.ItemID,
		Title:    item.Title,
		Keyword:  item.Keyword,
		PriceJPY: item.PriceJPY,
		Status:   item.Status,
		ImageURL: item.ImageURL,
	}}, cart.Options{
		ExchangeRate:  rate,
		MaxResults:    s.opts.MaxResults,
		DaysBack:      s.opts.DaysBack,
		MinSimilarity: s.opts.MinSimilarity,
	})
	if result.ItemsVerified == 0 {
		return
	}

	verified := result.VerifiedItems[0]
	profit := verified.AveragePrice - verified.CostUSD
	if profit < s.opts.MinProfitUSD {
		return
	}

	alert := storage.Alert{
		ItemID:         item.ItemID,
		Title:          item.Title,
		Query:          item.Keyword,
		PriceJPY:       item.PriceJPY,
		ImageURL:       item.ImageURL,
		Similarity:     verified.AverageSimilarity,
		MatchCount:     verified.MatchCount,
		AveragePrice:   verified.AveragePrice,
		ExpectedProfit: profit,
	}
	id, err := s.store.SaveAlert(alert)
	if err != nil {
		log.Error().Err(err).Str("item", item.Title).Msg("Failed to save alert")
		return
	}
	alert.ID = id

	log.Info().
		Str("item", item.Title).
		Float64("profit", profit).
		Int("matches", verified.MatchCount).
		Msg("New alert raised")
	s.notifier.AlertFound(alert)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// validTransitions encodes the alert lifecycle: pending alerts are
// reviewed, then purchased or rejected. Rejection is allowed from any
// non-terminal state.
var validTransitions = map[storage.AlertState][]storage.AlertState{
	storage.AlertPending:  {storage.AlertReviewed, storage.AlertRejected},
	storage.AlertReviewed: {storage.AlertPurchased, storage.AlertRejected},
}

// Transition moves an alert to a new state, enforcing the lifecycle.
func Transition(store storage.Store, id int64, to storage.AlertState) error {
	alert, err := store.GetAlert(id)
	if err != nil {
		return err
	}
	if alert == nil {
		return fmt.Errorf("alert %d not found", id)
	}

	for _, allowed := range validTransitions[alert.State] {
		if allowed == to {
			return store.UpdateAlertState(id, to)
		}
	}
	return fmt.Errorf("cannot transition alert from %s to %s", alert.State, to)
}
