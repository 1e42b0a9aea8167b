package ingest

import "sync/atomic"

// Stats counts messages by what happened to them. Safe for concurrent use.
type Stats struct {
	Received    atomic.Int64
	Validated   atomic.Int64
	Applied     atomic.Int64
	Initialized atomic.Int64
	Skipped     atomic.Int64
	Rejected    atomic.Int64
	Failed      atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Received    int64 `json:"received"`
	Validated   int64 `json:"validated"`
	Applied     int64 `json:"applied"`
	Initialized int64 `json:"initialized"`
	Skipped     int64 `json:"skipped"`
	Rejected    int64 `json:"rejected"`
	Failed      int64 `json:"failed"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Received:    s.Received.Load(),
		Validated:   s.Validated.Load(),
		Applied:     s.Applied.Load(),
		Initialized: s.Initialized.Load(),
		Skipped:     s.Skipped.Load(),
		Rejected:    s.Rejected.Load(),
		Failed:      s.Failed.Load(),
	}
}
