// Package errlog collects recent upstream errors for the diagnostics
// surface. A bounded ring keeps the newest entries; all-time counts and
// short rolling windows survive ring eviction.
package errlog

import (
	"sync"
	"time"
)

const (
	maxEntries       = 100
	maxMessageLength = 200
)

// Error sources.
const (
	SourceREST   = "rest_api"
	SourceWS     = "websocket"
	SourceSystem = "system"
)

// Error types.
const (
	TypeRequest    = "request_failed"
	TypeConnection = "connection_failed"
	TypeParse      = "parse_error"
	TypeStorage    = "storage_failed"
)

// Entry is one collected error.
type Entry struct {
	Time      time.Time
	Source    string
	AccountID string
	Type      string
	Message   string
}

// Summary aggregates the collector for the diagnostics endpoints.
type Summary struct {
	TotalErrors   int64            `json:"total_errors"`
	LastMinute    int              `json:"errors_last_1min"`
	Last5Minutes  int              `json:"errors_last_5min"`
	CountsAllTime map[string]int64 `json:"error_counts_all_time"`
	ByAccount5Min map[string]int   `json:"errors_by_account_5min"`
	ByType5Min    map[string]int   `json:"errors_by_type_5min"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// Collector is a concurrency-safe error ring.
type Collector struct {
	mu        sync.Mutex
	entries   []Entry
	counts    map[string]int64 // "source:type" -> all-time count
	total     int64
	startedAt time.Time
	sink      func(Summary)
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		counts:    make(map[string]int64),
		startedAt: time.Now(),
	}
}

// SetSink registers a callback invoked with a fresh summary after every
// Add. Used to mirror the summary into the cache.
func (c *Collector) SetSink(sink func(Summary)) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Add records one error. Messages are truncated to keep the ring and
// its JSON rendering bounded.
func (c *Collector) Add(source, accountID, errType, message string) {
	c.addAt(time.Now(), source, accountID, errType, message)
}

func (c *Collector) addAt(t time.Time, source, accountID, errType, message string) {
	if len(message) > maxMessageLength {
		message = message[:maxMessageLength]
	}

	c.mu.Lock()
	c.entries = append(c.entries, Entry{
		Time:      t,
		Source:    source,
		AccountID: accountID,
		Type:      errType,
		Message:   message,
	})
	if len(c.entries) > maxEntries {
		c.entries = c.entries[len(c.entries)-maxEntries:]
	}
	c.counts[source+":"+errType]++
	c.total++
	sink := c.sink
	summary := c.summaryLocked(time.Now())
	c.mu.Unlock()

	if sink != nil {
		sink(summary)
	}
}

// Recent returns up to limit entries, newest first.
func (c *Collector) Recent(limit int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.entries) {
		limit = len(c.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(c.entries) - 1; i >= len(c.entries)-limit; i-- {
		out = append(out, c.entries[i])
	}
	return out
}

// Summary returns current aggregates.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked(time.Now())
}

func (c *Collector) summaryLocked(now time.Time) Summary {
	s := Summary{
		TotalErrors:   c.total,
		CountsAllTime: make(map[string]int64, len(c.counts)),
		ByAccount5Min: make(map[string]int),
		ByType5Min:    make(map[string]int),
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
	}
	for k, v := range c.counts {
		s.CountsAllTime[k] = v
	}

	oneMin := now.Add(-time.Minute)
	fiveMin := now.Add(-5 * time.Minute)
	for _, e := range c.entries {
		if e.Time.After(fiveMin) {
			s.Last5Minutes++
			s.ByAccount5Min[e.AccountID]++
			s.ByType5Min[e.Type]++
		}
		if e.Time.After(oneMin) {
			s.LastMinute++
		}
	}
	return s
}

// Clear drops all entries and counts, returning how many entries were
// held.
func (c *Collector) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = nil
	c.counts = make(map[string]int64)
	c.total = 0
	return n
}
