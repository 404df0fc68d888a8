package engine

import (
	"regexp"
	"strconv"
	"sync/atomic"
)

var (
	linkPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d() -]{7,}\d`)
	depthPattern = regexp.MustCompile(`(?i)depth[:= ]+(\d+)`)
)

// TorBotProgress accumulates live counters scanned from TorBot stdout.
type TorBotProgress struct {
	links  atomic.Int64
	emails atomic.Int64
	phones atomic.Int64
	depth  atomic.Int64
}

// ProgressSnapshot is the wire form of the live counters.
type ProgressSnapshot struct {
	Links  int64 `json:"links"`
	Emails int64 `json:"emails"`
	Phones int64 `json:"phones"`
	Depth  int64 `json:"depth"`
}

// NewTorBotProgress returns zeroed counters.
func NewTorBotProgress() *TorBotProgress {
	return &TorBotProgress{}
}

// Observe updates the counters from one stdout line.
func (p *TorBotProgress) Observe(line string) {
	if m := depthPattern.FindStringSubmatch(line); m != nil {
		if depth, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.depth.Store(depth)
		}
	}
	if n := len(emailPattern.FindAllString(line, -1)); n > 0 {
		p.emails.Add(int64(n))
		return
	}
	if n := len(linkPattern.FindAllString(line, -1)); n > 0 {
		p.links.Add(int64(n))
		return
	}
	if phonePattern.MatchString(line) {
		p.phones.Add(1)
	}
}

// Snapshot copies the counters.
func (p *TorBotProgress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Links:  p.links.Load(),
		Emails: p.emails.Load(),
		Phones: p.phones.Load(),
		Depth:  p.depth.Load(),
	}
}
