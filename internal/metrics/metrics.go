// Package metrics provides lightweight, lock-minimal runtime counters for
// the masking service.
//
// Counters use sync/atomic so hot paths (span resolution, token restoration)
// incur no mutex contention. Latency statistics use a single mutex per
// dimension; they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
)

// Metrics holds all runtime counters for a running service instance.
// The per-type placeholder maps are populated in New(); use New().
type Metrics struct {
	// Request counters
	MaskRequests   atomic.Int64
	UnmaskRequests atomic.Int64
	AuthFailures   atomic.Int64

	// Error counters
	ErrorsDetection      atomic.Int64
	ErrorsConsistency    atomic.Int64
	ErrorsMissingMapping atomic.Int64
	ErrorsRendering      atomic.Int64
	ErrorsStore          atomic.Int64

	// Pipeline volume
	SpansDetected      atomic.Int64
	SpansMerged        atomic.Int64 // merged spans produced (after overlap + gap merging)
	PlaceholdersNew    atomic.Int64
	PlaceholdersReused atomic.Int64
	TokensRestored     atomic.Int64

	// Per-entity-type placeholder allocations.
	// Map is written only in New(); concurrent reads are safe without a lock.
	allocated map[detect.EntityType]*atomic.Int64

	maskMu   sync.Mutex
	maskStat latencyStats

	unmaskMu   sync.Mutex
	unmaskStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-type
// allocation counters pre-populated for every known entity type.
func New() *Metrics {
	types := detect.AllTypes()
	m := &Metrics{
		startTime: time.Now(),
		allocated: make(map[detect.EntityType]*atomic.Int64, len(types)),
	}
	for _, t := range types {
		m.allocated[t] = new(atomic.Int64)
	}
	return m
}

// RecordAllocation increments the placeholder-allocation counter for the
// given entity type. Unknown types are silently ignored.
func (m *Metrics) RecordAllocation(t detect.EntityType) {
	if c, ok := m.allocated[t]; ok {
		c.Add(1)
	}
}

// RecordMaskLatency records the duration of one complete mask operation.
func (m *Metrics) RecordMaskLatency(d time.Duration) {
	m.maskMu.Lock()
	m.maskStat.record(float64(d.Microseconds()) / 1000.0)
	m.maskMu.Unlock()
}

// RecordUnmaskLatency records the duration of one complete unmask operation.
func (m *Metrics) RecordUnmaskLatency(d time.Duration) {
	m.unmaskMu.Lock()
	m.unmaskStat.record(float64(d.Microseconds()) / 1000.0)
	m.unmaskMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.maskMu.Lock()
	mask := m.maskStat.snapshot()
	m.maskMu.Unlock()

	m.unmaskMu.Lock()
	unmask := m.unmaskStat.snapshot()
	m.unmaskMu.Unlock()

	allocated := make(map[string]int64, len(m.allocated))
	for t, c := range m.allocated {
		if n := c.Load(); n > 0 {
			allocated[string(t)] = n
		}
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Mask:         m.MaskRequests.Load(),
			Unmask:       m.UnmaskRequests.Load(),
			AuthFailures: m.AuthFailures.Load(),
		},
		Errors: ErrorSnapshot{
			Detection:      m.ErrorsDetection.Load(),
			Consistency:    m.ErrorsConsistency.Load(),
			MissingMapping: m.ErrorsMissingMapping.Load(),
			Rendering:      m.ErrorsRendering.Load(),
			Store:          m.ErrorsStore.Load(),
		},
		Entities: EntitySnapshot{
			SpansDetected:      m.SpansDetected.Load(),
			SpansMerged:        m.SpansMerged.Load(),
			PlaceholdersNew:    m.PlaceholdersNew.Load(),
			PlaceholdersReused: m.PlaceholdersReused.Load(),
			TokensRestored:     m.TokensRestored.Load(),
			AllocatedByType:    allocated,
		},
		Latency: LatencyGroup{
			MaskMs:   mask,
			UnmaskMs: unmask,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	Entities   EntitySnapshot  `json:"entities"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Mask         int64 `json:"mask"`
	Unmask       int64 `json:"unmask"`
	AuthFailures int64 `json:"authFailures"`
}

// ErrorSnapshot holds error counters keyed by failure kind.
type ErrorSnapshot struct {
	Detection      int64 `json:"detection"`
	Consistency    int64 `json:"consistency"`
	MissingMapping int64 `json:"missingMapping"`
	Rendering      int64 `json:"rendering"`
	Store          int64 `json:"store"`
}

// EntitySnapshot holds entity and placeholder volume counters.
type EntitySnapshot struct {
	SpansDetected      int64 `json:"spansDetected"`
	SpansMerged        int64 `json:"spansMerged"`
	PlaceholdersNew    int64 `json:"placeholdersNew"`
	PlaceholdersReused int64 `json:"placeholdersReused"`
	TokensRestored     int64 `json:"tokensRestored"`

	// Per-type placeholder allocations (only types with non-zero counts appear).
	AllocatedByType map[string]int64 `json:"allocatedByType,omitempty"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	MaskMs   LatencySnapshot `json:"maskMs"`
	UnmaskMs LatencySnapshot `json:"unmaskMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
