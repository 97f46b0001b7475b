// Package types holds the data model shared across the aggregator: the
// quotes adapters emit, the aggregated price the engine publishes, and the
// health snapshots the monitor exposes.
package types

import "time"

// Symbol is an opaque tag identifying a tradable pair, e.g. "BTC/USD".
// Equality is plain string equality; it is the uniqueness key for all
// per-symbol state in the engine.
type Symbol string

// Quote is a single price observation reported by one upstream source.
type Quote struct {
	Symbol     Symbol
	Price      float64
	Confidence float64
	Timestamp  time.Time
	Source     string
}

// Age returns how stale the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// AggregatedPrice is the reconciler's output for one symbol on one tick.
type AggregatedPrice struct {
	Symbol      Symbol
	MarkPrice   float64
	IndexPrice  float64
	Confidence  float64
	Sources     []Quote
	Timestamp   time.Time
}

// PriceHistoryEntry is one immutable row in the history store.
type PriceHistoryEntry struct {
	Symbol      Symbol
	MarkPrice   float64
	IndexPrice  float64
	Confidence  float64
	SourceCount int
	CreatedAt   time.Time
}

// PriceUpdate is the event broadcast to downstream subscribers after a
// successful tick.
type PriceUpdate struct {
	Symbol            Symbol    `json:"symbol"`
	MarkPrice         float64   `json:"mark_price"`
	IndexPrice        float64   `json:"index_price"`
	Confidence        float64   `json:"confidence"`
	Timestamp         time.Time `json:"timestamp"`
	Sources           []string  `json:"sources"`
	ManipulationScore float64   `json:"manipulation_score"`
}

// OracleHealth is the per-adapter health snapshot recorded by the monitor.
type OracleHealth struct {
	Name       string
	Healthy    bool
	LatencyMS  int64
	LastUpdate time.Time
	ErrorRate  float64
}

// SystemHealth is the aggregate snapshot returned by the health monitor.
type SystemHealth struct {
	OverallHealth    float64
	UptimePercentage float64
	OracleHealth     []OracleHealth
	CacheHitRate     float64
	DatabaseStatus   bool
	Timestamp        time.Time
}
