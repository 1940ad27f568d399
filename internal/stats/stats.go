package stats

import (
	"time"
)

// ErrorKind classifies why a connection failed.
type ErrorKind string

const (
	KindConnectFailed      ErrorKind = "connect_failed"
	KindHandshakeFailed    ErrorKind = "handshake_failed"
	KindTimeout            ErrorKind = "timeout"
	KindClosedByPeer       ErrorKind = "closed_by_peer"
	KindForcedCloseTimeout ErrorKind = "forced_close_timeout"
	KindCancelled          ErrorKind = "cancelled"
)

// StopReason is the terminal state of a run.
type StopReason string

const (
	StopReachedMax StopReason = "reached_max"
	StopUnstable   StopReason = "unstable"
	StopError      StopReason = "error"
	StopCancelled  StopReason = "cancelled"
)

// Outcome is the terminal record of one connection's lifecycle. Exactly one
// is produced per worker.
type Outcome struct {
	Sequence     int           `json:"sequence"`
	Batch        int           `json:"batch"`
	Succeeded    bool          `json:"succeeded"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	EchoReceived bool          `json:"echo_received"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail  string        `json:"error_detail,omitempty"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
}

// BatchStats is the immutable reduction of one batch's outcomes.
// Response-time fields are only meaningful when HasResponseTimes is true;
// a batch with no succeeded connection has no latency, never a zero one.
type BatchStats struct {
	Index       int           `json:"batch"`
	Requested   int           `json:"requested"`
	Attempted   int           `json:"attempted"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	Elapsed     time.Duration `json:"elapsed"`

	HasResponseTimes bool          `json:"has_response_times"`
	MinResponse      time.Duration `json:"min_response,omitempty"`
	AvgResponse      time.Duration `json:"avg_response,omitempty"`
	MaxResponse      time.Duration `json:"max_response,omitempty"`

	Errors map[ErrorKind]int `json:"errors,omitempty"`
}

// Stable reports whether the batch met the given success-rate threshold.
func (b BatchStats) Stable(threshold float64) bool {
	return b.SuccessRate >= threshold
}

// AggregateBatch reduces a set of outcomes into BatchStats. It is a pure
// function: same outcomes in, same stats out.
func AggregateBatch(index, requested int, outcomes []Outcome) BatchStats {
	bs := BatchStats{
		Index:     index,
		Requested: requested,
		Attempted: len(outcomes),
	}

	var total time.Duration
	for _, o := range outcomes {
		if o.Succeeded {
			bs.Succeeded++
			if o.EchoReceived {
				rt := o.ResponseTime
				if !bs.HasResponseTimes {
					bs.HasResponseTimes = true
					bs.MinResponse = rt
					bs.MaxResponse = rt
				} else {
					if rt < bs.MinResponse {
						bs.MinResponse = rt
					}
					if rt > bs.MaxResponse {
						bs.MaxResponse = rt
					}
				}
				total += rt
			}
			continue
		}
		bs.Failed++
		if o.ErrorKind != "" {
			if bs.Errors == nil {
				bs.Errors = make(map[ErrorKind]int)
			}
			bs.Errors[o.ErrorKind]++
		}
	}

	if bs.Attempted > 0 {
		bs.SuccessRate = float64(bs.Succeeded) / float64(bs.Attempted) * 100
	}
	if bs.HasResponseTimes {
		bs.AvgResponse = total / time.Duration(bs.Succeeded)
	}
	return bs
}

// RunSummary accumulates BatchStats across a whole run. Batches are
// append-only; the cumulative totals are a pure reporting aggregate and have
// nothing to do with cumulative-connection mode.
type RunSummary struct {
	Batches        []BatchStats `json:"batches"`
	TotalAttempted int          `json:"total_attempted"`
	TotalSucceeded int          `json:"total_succeeded"`
	TotalFailed    int          `json:"total_failed"`

	// MaxStableCount is the highest requested count whose batch met the
	// threshold; 0 means not even the starting count was stable.
	MaxStableCount int        `json:"max_stable_count"`
	StoppedReason  StopReason `json:"stopped_reason"`
	Error          string     `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ResponseTimes holds every succeeded round-trip for run-level
	// percentiles. Not part of the serialized summary.
	ResponseTimes *SafeHistogram `json:"-"`
}

func NewRunSummary() *RunSummary {
	return &RunSummary{
		ResponseTimes: NewSafeHistogram(),
		StartedAt:     time.Now(),
	}
}

// Fold appends a finalized batch and updates the cumulative totals.
func (s *RunSummary) Fold(bs BatchStats) {
	s.Batches = append(s.Batches, bs)
	s.TotalAttempted += bs.Attempted
	s.TotalSucceeded += bs.Succeeded
	s.TotalFailed += bs.Failed
}

// Record feeds succeeded round-trips into the run-level histogram.
func (s *RunSummary) Record(outcomes []Outcome) {
	if s.ResponseTimes == nil {
		return
	}
	for _, o := range outcomes {
		if o.Succeeded && o.EchoReceived {
			s.ResponseTimes.Record(o.ResponseTime)
		}
	}
}

func (s *RunSummary) P50Ms() float64 { return s.quantileMs(50) }
func (s *RunSummary) P90Ms() float64 { return s.quantileMs(90) }
func (s *RunSummary) P99Ms() float64 { return s.quantileMs(99) }

func (s *RunSummary) MaxMs() float64 {
	if s.ResponseTimes == nil {
		return 0
	}
	return s.ResponseTimes.MaxMs()
}

func (s *RunSummary) quantileMs(q float64) float64 {
	if s.ResponseTimes == nil {
		return 0
	}
	return s.ResponseTimes.QuantileMs(q)
}
