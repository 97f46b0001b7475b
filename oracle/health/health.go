// Package health implements the Health Monitor: an on-demand probe of
// every configured source adapter plus the cache and database, combined
// into a single system health snapshot.
package health

import (
	"context"
	"time"

	"price-oracle/oracle/cache"
	"price-oracle/oracle/provider"
	"price-oracle/oracle/types"

	"github.com/armon/go-metrics"
)

// ProbeSymbol is queried against every adapter to establish liveness.
const ProbeSymbol types.Symbol = "BTC/USD"

// Monitor tracks per-adapter error counts across probes and renders
// on-demand SystemHealth snapshots.
type Monitor struct {
	adapters map[provider.Name]provider.Adapter
	cache    *cache.Cache
	db       Pinger

	started  time.Time
	attempts map[provider.Name]int64
	failures map[provider.Name]int64
	lastOK   map[provider.Name]time.Time
}

// Pinger is the minimal liveness contract the database status check needs.
type Pinger interface {
	Ping() error
}

// New returns a Monitor ready to probe adapters. started marks when the
// Monitor came up, for future use by callers that want process age.
func New(adapters map[provider.Name]provider.Adapter, c *cache.Cache, db Pinger, started time.Time) *Monitor {
	return &Monitor{
		adapters: adapters,
		cache:    c,
		db:       db,
		started:  started,
		attempts: map[provider.Name]int64{},
		failures: map[provider.Name]int64{},
		lastOK:   map[provider.Name]time.Time{},
	}
}

// Check probes every adapter with ProbeSymbol and returns the aggregate
// system health snapshot.
func (m *Monitor) Check(ctx context.Context, now time.Time) types.SystemHealth {
	var oracles []types.OracleHealth
	var healthySum float64

	for name, adapter := range m.adapters {
		oh := m.probe(ctx, name, adapter, now)
		oracles = append(oracles, oh)
		if oh.Healthy {
			healthySum++
		}
	}

	overall := 0.0
	if len(oracles) > 0 {
		overall = healthySum / float64(len(oracles))
	}

	dbOK := false
	if m.db != nil {
		dbOK = m.db.Ping() == nil
	}

	return types.SystemHealth{
		OverallHealth:    overall,
		UptimePercentage: uptimePercentage(oracles),
		OracleHealth:     oracles,
		CacheHitRate:     m.cache.HitRate(),
		DatabaseStatus:   dbOK,
		Timestamp:        now,
	}
}

func (m *Monitor) probe(ctx context.Context, name provider.Name, adapter provider.Adapter, now time.Time) types.OracleHealth {
	m.attempts[name]++

	start := time.Now()
	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		_, err = adapter.GetQuote(ProbeSymbol)
	}
	latency := time.Since(start)
	metrics.AddSample([]string{"oracle", "health", "probe_latency_ms"}, float32(latency.Milliseconds()))

	healthy := err == nil
	if healthy {
		m.lastOK[name] = now
	} else {
		m.failures[name]++
		metrics.IncrCounter([]string{"oracle", "health", "probe_failure"}, 1)
	}

	var errorRate float64
	if m.attempts[name] > 0 {
		errorRate = float64(m.failures[name]) / float64(m.attempts[name])
	}

	return types.OracleHealth{
		Name:       string(name),
		Healthy:    healthy,
		LatencyMS:  latency.Milliseconds(),
		LastUpdate: m.lastOK[name],
		ErrorRate:  errorRate,
	}
}

// uptimePercentage is all-or-nothing on the current probe round: 100 if
// any adapter is healthy, else 0 (spec §4.8).
func uptimePercentage(oracles []types.OracleHealth) float64 {
	for _, oh := range oracles {
		if oh.Healthy {
			return 100.0
		}
	}
	return 0.0
}
