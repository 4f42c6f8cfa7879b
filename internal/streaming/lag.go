package streaming

import "time"

// lagDetector compares playback progress with wall-clock progress between
// consecutive samples. An event opens when the shortfall of one interval
// exceeds the tolerance and closes on the first interval within it. The
// duration of an event is the playback time lost while it was open.
type lagDetector struct {
	tolerance time.Duration

	prevAt   time.Time
	prevPos  time.Duration
	havePrev bool

	open    bool
	openLag time.Duration
	count   int
	total   time.Duration
}

func newLagDetector(tolerance time.Duration) *lagDetector {
	return &lagDetector{tolerance: tolerance}
}

// observe takes one (time, position) sample. Samples taken while the
// element is paused or ended are not compared.
func (d *lagDetector) observe(at time.Time, position time.Duration, playing bool) {
	if !playing {
		d.havePrev = false
		return
	}
	if !d.havePrev {
		d.prevAt, d.prevPos, d.havePrev = at, position, true
		return
	}

	expected := at.Sub(d.prevAt)
	actual := position - d.prevPos
	shortfall := max(expected-actual, 0)
	d.prevAt, d.prevPos = at, position

	switch {
	case shortfall > d.tolerance:
		d.open = true
		d.openLag += shortfall
	case d.open:
		d.openLag += shortfall
		d.close()
	}
}

func (d *lagDetector) close() {
	d.total += d.openLag
	d.count++
	d.open = false
	d.openLag = 0
}

// finish closes an event still open at the end of the run.
func (d *lagDetector) finish() {
	if d.open {
		d.close()
	}
}

// lagging reports whether a lag event is currently open.
func (d *lagDetector) lagging() bool {
	return d.open
}
