// Package engine supervises the four crawl engines: the in-process HTTP
// crawler plus the three external subprocess crawlers. At most one engine
// runs at a time, and every start resets the crawl session.
package engine

import (
	"errors"
	"time"

	"github.com/xxllxllxlllx/live-graph-system/internal/crawl"
)

// Slot identifies one engine registry entry.
type Slot string

const (
	SlotHTTP        Slot = "http"
	SlotToc         Slot = "toc"
	SlotOnionSearch Slot = "onionsearch"
	SlotTorBot      Slot = "torbot"
)

// Slots lists every registry entry in display order.
var Slots = []Slot{SlotHTTP, SlotToc, SlotOnionSearch, SlotTorBot}

// Valid reports whether s names a known engine slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotHTTP, SlotToc, SlotOnionSearch, SlotTorBot:
		return true
	}
	return false
}

// Status is the lifecycle state of one slot.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

var (
	// ErrBusy rejects a start while another slot is non-idle.
	ErrBusy = errors.New("busy")
	// ErrNotRunning rejects a stop of an idle slot.
	ErrNotRunning = errors.New("engine not running")
	// ErrValidation marks bad client input; callers map it to 400.
	ErrValidation = errors.New("validation")
)

// Clock supplies the current time so tests can pin timestamps.
type Clock interface {
	Now() time.Time
}

// SlotState is one slot's status snapshot.
type SlotState struct {
	Status    Status     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// StateSnapshot is the supervisor-wide view returned by Status.
type StateSnapshot struct {
	Running  bool                   `json:"running"`
	Active   Slot                   `json:"slot,omitempty"`
	Slots    map[Slot]SlotState     `json:"slots"`
	Counters *crawl.CounterSnapshot `json:"counters,omitempty"`
}

// HTTPOptions parameterizes one run of the in-process crawler. Zero
// values fall back to the configured defaults.
type HTTPOptions struct {
	URL             string
	MaxDepth        int
	MaxLinksPerPage int
	Progressive     *bool
}

// TocOptions parameterizes one TOC subprocess run. SocksHost and
// SocksPort select the endpoint StartToc probes; the subprocess
// arguments take the SOCKS endpoint from the configuration, not from
// these fields.
type TocOptions struct {
	URL       string
	SocksHost string
	SocksPort int
}

// OnionSearchOptions parameterizes one OnionSearch subprocess run.
type OnionSearchOptions struct {
	Query   string
	Engines []string
	Limit   int
}

// TorBotOptions parameterizes one TorBot subprocess run.
type TorBotOptions struct {
	URL           string
	Depth         int
	SocksHost     string
	SocksPort     int
	DisableSocks5 bool
	InfoMode      bool
	OutputFormat  string
}
