// Package oracle implements the Aggregator Engine (C7): it orchestrates the
// source adapters, the normalizer, the coherence cache, the consensus
// reconciler, the manipulation detector, and the validation/fallback layer
// into one decision per symbol per tick, then persists and broadcasts it.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-oracle/oracle/broadcast"
	"price-oracle/oracle/cache"
	"price-oracle/oracle/errs"
	"price-oracle/oracle/health"
	"price-oracle/oracle/history"
	"price-oracle/oracle/manipulation"
	"price-oracle/oracle/provider"
	"price-oracle/oracle/reconcile"
	"price-oracle/oracle/types"
	"price-oracle/oracle/validate"

	"github.com/armon/go-metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is the monitoring loop's tick period.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultAdapterTimeout bounds how long the engine waits on a single
	// adapter call before treating it as a missing quote.
	DefaultAdapterTimeout = 10 * time.Second
	// interSymbolGap smooths upstream load across symbols within one tick.
	interSymbolGap = 10 * time.Millisecond
)

// Config carries the Engine's tunable knobs, captured once at construction;
// there is no runtime mutation path (spec §9: "no shared mutable config").
type Config struct {
	PollInterval   time.Duration
	AdapterTimeout time.Duration
	CacheTTL       time.Duration
}

// SymbolHealth is the per-symbol freshness/source-count view returned by
// GetHealthStatus, derived entirely from the coherence cache.
type SymbolHealth struct {
	Age         time.Duration
	SourceCount int
	MarkPrice   float64
	Stale       bool
}

// ManipulationReportPoint is one row of GetManipulationReport's output: a
// point during replay where the manipulation score crossed the validation
// threshold with a step of at least 0.10.
type ManipulationReportPoint struct {
	Timestamp time.Time
	Score     float64
	MarkPrice float64
}

// Engine is the composite aggregator described by spec §4.7. It owns the
// cache, the manipulation detector's state, and the broadcaster exclusively;
// adapters own their own transport state and the history store is an
// external collaborator shared by reference.
type Engine struct {
	logger zerolog.Logger

	adapters     []provider.Adapter
	adapterNames map[provider.Name]provider.Adapter

	cache    *cache.Cache
	detector *manipulation.Detector
	hub      *broadcast.Hub
	store    history.Store
	health   *health.Monitor

	adapterTimeout time.Duration
	pollInterval   time.Duration

	mu       sync.Mutex
	lastTick map[types.Symbol]time.Time
}

// New builds an Engine over adapters, persisting to store and publishing on
// an internally owned broadcast hub. Zero-value Config fields fall back to
// their documented defaults.
func New(adapters []provider.Adapter, store history.Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}

	names := make(map[provider.Name]provider.Adapter, len(adapters))
	for _, a := range adapters {
		names[provider.Name(a.Name())] = a
	}

	c := cache.New(cfg.CacheTTL)
	e := &Engine{
		logger:         logger.With().Str("module", "oracle").Logger(),
		adapters:       adapters,
		adapterNames:   names,
		cache:          c,
		detector:       manipulation.New(),
		hub:            broadcast.NewHub(),
		store:          store,
		adapterTimeout: cfg.AdapterTimeout,
		pollInterval:   cfg.PollInterval,
		lastTick:       map[types.Symbol]time.Time{},
	}

	var pinger health.Pinger
	if p, ok := store.(health.Pinger); ok {
		pinger = p
	}
	e.health = health.New(names, c, pinger, time.Now())

	return e
}

// GetValidatedPrice returns the current AggregatedPrice for symbol: a cache
// hit within TTL, or a fresh poll -> reconcile -> score -> validate ->
// cache -> persist -> broadcast cycle. Any error aborts before cache/store
// are touched and before anything is broadcast (testable property 10).
func (e *Engine) GetValidatedPrice(ctx context.Context, symbol types.Symbol) (types.AggregatedPrice, error) {
	now := time.Now()

	if cached, ok := e.cache.Get(symbol, now); ok {
		return cached, nil
	}

	quotes := e.fetch(ctx, symbol)

	result, err := reconcile.Reconcile(symbol, quotes, now)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("reconciliation failed")
		metrics.IncrCounter([]string{"oracle", "tick", "failure"}, 1)
		return types.AggregatedPrice{}, err
	}
	for _, w := range result.Warnings {
		e.logger.Warn().Str("symbol", string(symbol)).Msg(w)
	}

	score := e.detector.Analyze(string(symbol), result.Price.MarkPrice, result.Price.Timestamp)

	validated, warnings, err := validate.Validate(result.Price, now)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("validation failed")
		metrics.IncrCounter([]string{"oracle", "tick", "failure"}, 1)
		return types.AggregatedPrice{}, err
	}
	for _, w := range warnings {
		e.logger.Warn().Str("symbol", string(symbol)).Msg(w)
	}

	final, blendWarnings := validate.ApplyConservativePricing(validated, score, e.historicalMean)
	for _, w := range blendWarnings {
		e.logger.Warn().Str("symbol", string(symbol)).Msg(w)
	}

	if err := ctx.Err(); err != nil {
		// Shutdown raced the tick: never write to the cache or history
		// store past cancellation, per spec §5's cancellation contract.
		return types.AggregatedPrice{}, err
	}

	if err := e.checkMonotone(symbol, final.Timestamp); err != nil {
		return types.AggregatedPrice{}, err
	}

	e.cache.Put(final, now)

	if err := e.store.Record(final); err != nil {
		e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("failed to persist aggregated price")
	}

	metrics.IncrCounter([]string{"oracle", "tick", "success"}, 1)
	e.hub.Publish(toPriceUpdate(final, score))

	return final, nil
}

// checkMonotone enforces the per-symbol ordering guarantee (testable
// property 9): a symbol's producer task never publishes a timestamp older
// than its own previous publish.
func (e *Engine) checkMonotone(symbol types.Symbol, ts time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.lastTick[symbol]; ok && ts.Before(prev) {
		return fmt.Errorf("non-monotone aggregation timestamp for %s: %s before previous %s", symbol, ts, prev)
	}
	e.lastTick[symbol] = ts
	return nil
}

// fetch fans out one GetQuote call per adapter, joining them with a
// structured errgroup.Group and a per-task wall-clock budget of
// adapterTimeout (spec §5, the exact fan-out shape of the teacher's
// oracle.go SetPrices). A slow, erroring, or unavailable adapter is
// treated as a missing quote rather than failing the whole tick;
// aggregation proceeds if any other adapter succeeded, so every g.Go
// task swallows its own error after logging it.
func (e *Engine) fetch(ctx context.Context, symbol types.Symbol) []types.Quote {
	var mu sync.Mutex
	quotes := make([]types.Quote, 0, len(e.adapters))

	g := new(errgroup.Group)
	for _, adapter := range e.adapters {
		adapter := adapter
		g.Go(func() error {
			ch := make(chan types.Quote, 1)
			errCh := make(chan error, 1)
			go func() {
				q, err := adapter.GetQuote(symbol)
				if err != nil {
					errCh <- err
					return
				}
				ch <- q
			}()

			select {
			case q := <-ch:
				mu.Lock()
				quotes = append(quotes, q)
				mu.Unlock()
			case err := <-errCh:
				e.logger.Warn().Err(err).Str("adapter", adapter.Name()).Str("symbol", string(symbol)).
					Msg("source adapter quote failed")
				metrics.IncrCounter([]string{"oracle", "adapter", "failure"}, 1)
			case <-time.After(e.adapterTimeout):
				e.logger.Warn().Str("adapter", adapter.Name()).Str("symbol", string(symbol)).
					Msg("source adapter timed out")
				metrics.IncrCounter([]string{"oracle", "adapter", "timeout"}, 1)
			case <-ctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()

	return quotes
}

// historicalMean adapts the history store's Mean query to the
// validate.HistoricalMeanFunc contract consumed by conservative pricing.
func (e *Engine) historicalMean(symbol types.Symbol, window time.Duration) (float64, error) {
	mean, err := e.store.Mean(symbol, window)
	if err != nil {
		return 0, errs.New(errs.KindHistoryUnavailable, err)
	}
	return mean, nil
}

// Subscribe returns a new subscriber channel on the lossy broadcast hub. The
// caller must eventually call Unsubscribe.
func (e *Engine) Subscribe() chan types.PriceUpdate {
	return e.hub.Subscribe()
}

// Unsubscribe removes a previously returned subscriber channel.
func (e *Engine) Unsubscribe(ch chan types.PriceUpdate) {
	e.hub.Unsubscribe(ch)
}

// StartMonitoring runs the periodic monitoring loop (spec §4.7): every
// PollInterval it calls GetValidatedPrice for each symbol in turn, with a
// small inter-symbol gap to smooth upstream load. It returns when ctx is
// cancelled; in-flight work is allowed to finish its current symbol.
func (e *Engine) StartMonitoring(ctx context.Context, symbols []types.Symbol) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for i, symbol := range symbols {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if _, err := e.GetValidatedPrice(ctx, symbol); err != nil {
					e.logger.Debug().Err(err).Str("symbol", string(symbol)).Msg("monitoring tick failed; retrying next tick")
				}
				if i < len(symbols)-1 {
					select {
					case <-time.After(interSymbolGap):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}
}

// GetHealthStatus returns the per-symbol freshness/source-count view the
// spec's get_health_status exposes, derived from the coherence cache.
func (e *Engine) GetHealthStatus() map[types.Symbol]SymbolHealth {
	now := time.Now()
	entries := e.cache.All(now)

	out := make(map[types.Symbol]SymbolHealth, len(entries))
	for symbol, snap := range entries {
		out[symbol] = SymbolHealth{
			Age:         snap.Age,
			SourceCount: len(snap.Price.Sources),
			MarkPrice:   snap.Price.MarkPrice,
			Stale:       snap.Age > reconcile.StalenessMax,
		}
	}
	return out
}

// GetSystemHealth probes every configured adapter and the history store and
// returns the combined SystemHealth snapshot (C8, the Health Monitor).
func (e *Engine) GetSystemHealth(ctx context.Context) types.SystemHealth {
	return e.health.Check(ctx, time.Now())
}

// GetManipulationReport replays the manipulation detector over the trailing
// `hours` of history-store rows for symbol and returns every point where the
// score crossed ManipulationThreshold with a step of at least 0.10 (spec
// §4.7). If the history store is unavailable the replay degrades to an
// empty report rather than an error (HistoryUnavailable's documented
// policy).
func (e *Engine) GetManipulationReport(symbol types.Symbol, hours int) []ManipulationReportPoint {
	entries, err := e.store.Recent(symbol, time.Duration(hours)*time.Hour)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("manipulation report replay: history unavailable")
		return nil
	}

	replay := manipulation.New()
	var points []ManipulationReportPoint
	prevScore := 0.0
	for _, entry := range entries {
		score := replay.Analyze(string(symbol), entry.MarkPrice, entry.CreatedAt)
		crossedUp := score > validate.ManipulationThreshold && prevScore <= validate.ManipulationThreshold
		if crossedUp && score-prevScore >= 0.10 {
			points = append(points, ManipulationReportPoint{
				Timestamp: entry.CreatedAt,
				Score:     score,
				MarkPrice: entry.MarkPrice,
			})
		}
		prevScore = score
	}
	return points
}

// Close stops the broadcast hub. Call after all in-flight ticks have been
// cancelled and joined.
func (e *Engine) Close() {
	e.hub.Close()
}

func toPriceUpdate(price types.AggregatedPrice, score float64) types.PriceUpdate {
	sources := make([]string, len(price.Sources))
	for i, q := range price.Sources {
		sources[i] = q.Source
	}
	return types.PriceUpdate{
		Symbol:            price.Symbol,
		MarkPrice:         price.MarkPrice,
		IndexPrice:        price.IndexPrice,
		Confidence:        price.Confidence,
		Timestamp:         price.Timestamp,
		Sources:           sources,
		ManipulationScore: score,
	}
}
