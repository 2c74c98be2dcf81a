// Package metrics holds the atomic counters shared by policies and workers,
// and the sink interface used to export them.
package metrics

import "sync/atomic"

// Counter names one counter in a Counters set
type Counter int

const (
	Processed Counter = iota
	Succeeded
	Denied
	Invalid
	Ignored
	Errored
	Unexpected

	numCounters
)

var counterNames = [...]string{
	Processed:  "processed",
	Succeeded:  "succeeded",
	Denied:     "denied",
	Invalid:    "invalid",
	Ignored:    "ignored",
	Errored:    "errored",
	Unexpected: "unexpected",
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// Counters is a set of atomic counters. The zero value is ready to use.
type Counters struct {
	values [numCounters]atomic.Int64
}

// NewCounters creates an empty counter set
func NewCounters() *Counters {
	return &Counters{}
}

// Inc adds one to c and returns the new value
func (cs *Counters) Inc(c Counter) int64 {
	return cs.values[c].Add(1)
}

// Add adds n to c and returns the new value
func (cs *Counters) Add(c Counter, n int64) int64 {
	return cs.values[c].Add(n)
}

// Get returns the current value of c
func (cs *Counters) Get(c Counter) int64 {
	return cs.values[c].Load()
}

// CompareAndSwap sets c to new if it currently holds old
func (cs *Counters) CompareAndSwap(c Counter, old, new int64) bool {
	return cs.values[c].CompareAndSwap(old, new)
}

// Reset zeroes every counter
func (cs *Counters) Reset() {
	for i := range cs.values {
		cs.values[i].Store(0)
	}
}

// Snapshot is a point-in-time copy of a Counters set
type Snapshot struct {
	Processed  int64 `json:"processed"`
	Succeeded  int64 `json:"succeeded"`
	Denied     int64 `json:"denied"`
	Invalid    int64 `json:"invalid"`
	Ignored    int64 `json:"ignored"`
	Errored    int64 `json:"errored"`
	Unexpected int64 `json:"unexpected"`
}

// Snapshot reads every counter. Values are individually consistent only.
func (cs *Counters) Snapshot() Snapshot {
	return Snapshot{
		Processed:  cs.Get(Processed),
		Succeeded:  cs.Get(Succeeded),
		Denied:     cs.Get(Denied),
		Invalid:    cs.Get(Invalid),
		Ignored:    cs.Get(Ignored),
		Errored:    cs.Get(Errored),
		Unexpected: cs.Get(Unexpected),
	}
}

// Add returns the element-wise sum of two snapshots
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		Processed:  s.Processed + o.Processed,
		Succeeded:  s.Succeeded + o.Succeeded,
		Denied:     s.Denied + o.Denied,
		Invalid:    s.Invalid + o.Invalid,
		Ignored:    s.Ignored + o.Ignored,
		Errored:    s.Errored + o.Errored,
		Unexpected: s.Unexpected + o.Unexpected,
	}
}
