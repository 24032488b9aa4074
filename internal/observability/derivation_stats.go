// Package observability provides derivation statistics and Prometheus
// metrics for the deltaschema service.
package observability

import (
	"sort"
	"sync"
	"time"
)

// DerivationStats tracks how often each table's log schema is derived and
// which partition columns it was derived with.
type DerivationStats struct {
	mu     sync.RWMutex
	tables map[string]*TableStats
	window time.Duration
	now    func() time.Time
}

// TableStats holds statistics for one table.
type TableStats struct {
	Table      string         `json:"table"`
	Frequency  int64          `json:"frequency"`
	Failures   int64          `json:"failures"`
	LastSeen   time.Time      `json:"last_seen"`
	Partitions map[string]int `json:"partitions"` // partition column → count
}

// NewDerivationStats creates a new derivation statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewDerivationStats(window time.Duration) *DerivationStats {
	return &DerivationStats{
		tables: make(map[string]*TableStats),
		window: window,
		now:    time.Now,
	}
}

// RecordDerivation records one derivation of table. Unnamed derivations
// are not tracked. This method is O(len(partitions)) and thread-safe.
func (d *DerivationStats) RecordDerivation(table string, partitions []string, failed bool) {
	if table == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stats, exists := d.tables[table]
	if !exists {
		stats = &TableStats{
			Table:      table,
			Partitions: make(map[string]int),
		}
		d.tables[table] = stats
	}

	stats.Frequency++
	if failed {
		stats.Failures++
	}
	stats.LastSeen = d.now()
	for _, p := range partitions {
		stats.Partitions[p]++
	}
}

// Top returns the top N tables by frequency, ties broken by name.
// Returns copies, so callers may modify them.
func (d *DerivationStats) Top(n int) []TableStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || len(d.tables) == 0 {
		return []TableStats{}
	}

	stats := make([]TableStats, 0, len(d.tables))
	for _, s := range d.tables {
		cp := *s
		cp.Partitions = make(map[string]int, len(s.Partitions))
		for p, count := range s.Partitions {
			cp.Partitions[p] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Table < stats[j].Table
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (d *DerivationStats) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := d.now().Add(-d.window)
	for table, stats := range d.tables {
		if stats.LastSeen.Before(threshold) {
			delete(d.tables, table)
		}
	}
}
