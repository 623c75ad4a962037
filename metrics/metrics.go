package metrics

import (
	"sync/atomic"
	"time"
)

// Recorder holds the conversion counters. The zero value is ready to use.
type Recorder struct {
	requestsTotal atomic.Int64
	successTotal  atomic.Int64
	failureTotal  atomic.Int64
	active        atomic.Int64

	durationCount atomic.Int64
	durationSumNs atomic.Int64
	durationMaxNs atomic.Int64

	startedAt time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{startedAt: time.Now()}
}

// ConversionStarted counts a request and raises the in-flight gauge.
func (r *Recorder) ConversionStarted() {
	r.requestsTotal.Add(1)
	r.active.Add(1)
}

func (r *Recorder) ConversionSucceeded() {
	r.successTotal.Add(1)
	r.active.Add(-1)
}

func (r *Recorder) ConversionFailed() {
	r.failureTotal.Add(1)
	r.active.Add(-1)
}

// ConversionAbandoned lowers the gauge for an attempt that never reached a
// terminal status and will be redelivered.
func (r *Recorder) ConversionAbandoned() {
	r.active.Add(-1)
}

// Timer is started at dequeue and stopped at the terminal status.
type Timer struct {
	r     *Recorder
	start time.Time
}

func (r *Recorder) StartTimer() Timer {
	return Timer{r: r, start: time.Now()}
}

func (t Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.r.observe(d)
	return d
}

func (r *Recorder) observe(d time.Duration) {
	r.durationCount.Add(1)
	r.durationSumNs.Add(int64(d))
	for {
		current := r.durationMaxNs.Load()
		if int64(d) <= current || r.durationMaxNs.CompareAndSwap(current, int64(d)) {
			return
		}
	}
}

type Snapshot struct {
	RequestsTotal     int64   `json:"document_conversion_requests_total"`
	SuccessTotal      int64   `json:"document_conversion_success_total"`
	FailureTotal      int64   `json:"document_conversion_failure_total"`
	Active            int64   `json:"document_conversion_active"`
	DurationCount     int64   `json:"document_conversion_duration_count"`
	DurationAvgMillis float64 `json:"document_conversion_duration_avg_ms"`
	DurationMaxMillis float64 `json:"document_conversion_duration_max_ms"`
	SuccessRate       float64 `json:"success_rate"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		RequestsTotal:     r.requestsTotal.Load(),
		SuccessTotal:      r.successTotal.Load(),
		FailureTotal:      r.failureTotal.Load(),
		Active:            r.active.Load(),
		DurationCount:     r.durationCount.Load(),
		DurationMaxMillis: float64(r.durationMaxNs.Load()) / float64(time.Millisecond),
	}
	if s.DurationCount > 0 {
		s.DurationAvgMillis = float64(r.durationSumNs.Load()) / float64(s.DurationCount) / float64(time.Millisecond)
	}
	if finished := s.SuccessTotal + s.FailureTotal; finished > 0 {
		s.SuccessRate = float64(s.SuccessTotal) / float64(finished) * 100
	}
	if !r.startedAt.IsZero() {
		s.UptimeSeconds = time.Since(r.startedAt).Seconds()
	}
	return s
}
