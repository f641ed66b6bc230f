package parcore

import (
	"errors"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    acquireCounter    prometheus.Counter
//	    dispatchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAcquire(err error) {
//	    p.acquireCounter.Inc()
//	}
type MetricsCollector interface {
	// RecordAcquire is called after each slot acquire or reserve.
	// err is nil if a slot was handed out.
	RecordAcquire(err error)

	// RecordRelease is called after each slot release.
	RecordRelease(err error)

	// RecordRecycle is called after each epoch rotation.
	RecordRecycle()

	// RecordDispatch is called after each kernel launch with the number of
	// workgroups, the lanes per workgroup and the wall time.
	RecordDispatch(groups, groupSize int, duration time.Duration, err error)

	// RecordReduce is called after each reduction with the input length and
	// the number of passes it took.
	RecordReduce(values, passes int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAcquire(error) {}
func (NoopMetricsCollector) RecordRelease(error) {}
func (NoopMetricsCollector) RecordRecycle() {}
func (NoopMetricsCollector) RecordDispatch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordReduce(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AcquireCount       atomic.Int64
	AcquireFull        atomic.Int64
	AcquireMismatch    atomic.Int64
	AcquireErrors      atomic.Int64
	ReleaseCount       atomic.Int64
	ReleaseErrors      atomic.Int64
	RecycleCount       atomic.Int64
	DispatchCount      atomic.Int64
	DispatchErrors     atomic.Int64
	DispatchGroups     atomic.Int64
	DispatchLanes      atomic.Int64
	DispatchTotalNanos atomic.Int64
	ReduceCount        atomic.Int64
	ReduceErrors       atomic.Int64
	ReduceValues       atomic.Int64
	ReducePasses       atomic.Int64
	ReduceTotalNanos   atomic.Int64
}

// RecordAcquire implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAcquire(err error) {
	b.AcquireCount.Add(1)
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotsExhausted):
		b.AcquireFull.Add(1)
	case errors.Is(err, ErrHeaderMismatch):
		b.AcquireMismatch.Add(1)
	default:
		b.AcquireErrors.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
}

// RecordRecycle implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecycle() {
	b.RecycleCount.Add(1)
}

// RecordDispatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDispatch(groups, groupSize int, duration time.Duration, err error) {
	b.DispatchCount.Add(1)
	b.DispatchGroups.Add(int64(groups))
	b.DispatchLanes.Add(int64(groups * groupSize))
	b.DispatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DispatchErrors.Add(1)
	}
}

// RecordReduce implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReduce(values, passes int, duration time.Duration, err error) {
	b.ReduceCount.Add(1)
	b.ReduceValues.Add(int64(values))
	b.ReducePasses.Add(int64(passes))
	b.ReduceTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReduceErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AcquireCount:     b.AcquireCount.Load(),
		AcquireFull:      b.AcquireFull.Load(),
		AcquireMismatch:  b.AcquireMismatch.Load(),
		AcquireErrors:    b.AcquireErrors.Load(),
		ReleaseCount:     b.ReleaseCount.Load(),
		ReleaseErrors:    b.ReleaseErrors.Load(),
		RecycleCount:     b.RecycleCount.Load(),
		DispatchCount:    b.DispatchCount.Load(),
		DispatchErrors:   b.DispatchErrors.Load(),
		DispatchGroups:   b.DispatchGroups.Load(),
		DispatchLanes:    b.DispatchLanes.Load(),
		DispatchAvgNanos: avg(b.DispatchTotalNanos.Load(), b.DispatchCount.Load()),
		ReduceCount:      b.ReduceCount.Load(),
		ReduceErrors:     b.ReduceErrors.Load(),
		ReduceValues:     b.ReduceValues.Load(),
		ReducePasses:     b.ReducePasses.Load(),
		ReduceAvgNanos:   avg(b.ReduceTotalNanos.Load(), b.ReduceCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AcquireCount     int64
	AcquireFull      int64
	AcquireMismatch  int64
	AcquireErrors    int64
	ReleaseCount     int64
	ReleaseErrors    int64
	RecycleCount     int64
	DispatchCount    int64
	DispatchErrors   int64
	DispatchGroups   int64
	DispatchLanes    int64
	DispatchAvgNanos int64
	ReduceCount      int64
	ReduceErrors     int64
	ReduceValues     int64
	ReducePasses     int64
	ReduceAvgNanos   int64
}
