package crawl

import (
	"sync"
	"sync/atomic"
)

// VisitSet tracks the canonical URLs already claimed during the current
// session. Claim is the only way a URL becomes crawlable, so exactly one
// worker wins each URL.
type VisitSet struct {
	seen  sync.Map
	count atomic.Int64
}

// NewVisitSet returns an empty visit set.
func NewVisitSet() *VisitSet {
	return &VisitSet{}
}

// Claim stores the URL if it has not been seen before and returns true.
// The caller that receives true owns crawling the URL.
func (s *VisitSet) Claim(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		s.count.Add(1)
	}
	return !loaded
}

// Count returns the number of URLs claimed so far.
func (s *VisitSet) Count() int64 {
	return s.count.Load()
}

// Reset clears the set for a new session.
func (s *VisitSet) Reset() {
	s.seen.Range(func(key, _ any) bool {
		s.seen.Delete(key)
		return true
	})
	s.count.Store(0)
}
