package bandwidth

import "time"

// threadState is the bookkeeping of one transfer thread. It is owned by the
// thread's goroutine.
type threadState struct {
	start            time.Time
	warmup           time.Duration
	measurementStart time.Time
	result           ThreadResult
}

func newThreadState(id int, start time.Time, warmup time.Duration) *threadState {
	return &threadState{
		start:  start,
		warmup: warmup,
		result: ThreadResult{ThreadID: id},
	}
}

// record books n bytes that arrived at the given time and reports whether
// they belong to the measurement phase. The first measured unit latches the
// actual end of warmup.
func (s *threadState) record(n int64, at time.Time) bool {
	s.result.TotalBytes += n
	if at.Sub(s.start) < s.warmup {
		s.result.WarmupBytes += n
		return false
	}
	if s.measurementStart.IsZero() {
		s.measurementStart = at
	}
	s.result.MeasurementBytes += n
	return true
}

// finish closes the thread at now. A thread that never left warmup reports
// its speed over the whole elapsed time.
func (s *threadState) finish(now time.Time) ThreadResult {
	res := s.result
	if s.measurementStart.IsZero() {
		res.WarmupDuration = now.Sub(s.start)
		res.SpeedMbps = Mbps(res.TotalBytes, res.WarmupDuration)
		return res
	}
	res.WarmupDuration = s.measurementStart.Sub(s.start)
	res.MeasurementDuration = now.Sub(s.measurementStart)
	res.SpeedMbps = Mbps(res.MeasurementBytes, res.MeasurementDuration)
	return res
}
