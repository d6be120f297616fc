package edgeworker

import (
	"math"
	"sync/atomic"
)

// statsCollector aggregates image responses served by the edge for the
// periodic stats log line.
type statsCollector struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	bypassed  atomic.Uint64
	responses atomic.Uint64
	respBytes atomic.Uint64
	minBytes  atomic.Uint64
	maxBytes  atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(outcome string, respBytes int) {
	if s == nil {
		return
	}
	switch outcome {
	case edgeHit:
		s.hits.Add(1)
	case edgeMiss:
		s.misses.Add(1)
	default:
		s.bypassed.Add(1)
		return
	}

	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.responses.Add(1)
	s.respBytes.Add(n)
	for {
		cur := s.minBytes.Load()
		if n >= cur || s.minBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxBytes.Load()
		if n <= cur || s.maxBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	Hits     uint64
	Misses   uint64
	Bypassed uint64
	MinBytes uint64
	AvgBytes uint64
	MaxBytes uint64
}

// HitRatio is hits over cacheable lookups, 0 when nothing was served.
func (s statsSnapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Bypassed: s.bypassed.Load(),
	}
	count := s.responses.Load()
	if count == 0 {
		return out
	}
	out.MinBytes = s.minBytes.Load()
	out.MaxBytes = s.maxBytes.Load()
	out.AvgBytes = s.respBytes.Load() / count
	return out
}
