package ratelimit

import (
	"sort"
	"sync"
)

// Counters は許可・拒否の件数。
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Stats はレート制限の判定結果をルートごとに集計する。
// プロセス内のみで保持し、再起動で失われる。クライアント識別子は
// カーディナリティが大きくなるため集計しない。
type Stats struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
}

// NewStats は空の Stats を生成する。
func NewStats() *Stats {
	return &Stats{byRoute: make(map[string]Counters)}
}

// Record は1件の判定結果を記録する。routeは "POST /api/short-url" の形式。
func (s *Stats) Record(route string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byRoute[route]
	if allowed {
		s.total.Allowed++
		c.Allowed++
	} else {
		s.total.Denied++
		c.Denied++
	}
	s.byRoute[route] = c
}

// StatsSnapshot は集計結果のコピー。
type StatsSnapshot struct {
	Total   Counters            `json:"total"`
	ByRoute map[string]Counters `json:"byRoute"`
	Routes  []string            `json:"routes"`
}

// Snapshot は集計結果のコピーを返す。Routesはソート済み。
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSnapshot{
		Total:   s.total,
		ByRoute: make(map[string]Counters, len(s.byRoute)),
		Routes:  make([]string, 0, len(s.byRoute)),
	}
	for k, v := range s.byRoute {
		out.ByRoute[k] = v
		out.Routes = append(out.Routes, k)
	}
	sort.Strings(out.Routes)
	return out
}
