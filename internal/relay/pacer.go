package relay

import (
	"context"
	"math"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// Clock abstracts time for the pacer.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Pacer holds a relayed stream to the source's real-time cadence. Frame i is
// due at start + i/frameRate. Late frames go out immediately; none are skipped.
type Pacer struct {
	frameRate float64
	clock     Clock
	start     time.Time
	index     int64
	started   bool
}

// NewPacer creates a pacer for the given frame rate.
func NewPacer(frameRate float64, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock
	}
	return &Pacer{
		frameRate: frameRate,
		clock:     clock,
	}
}

// Enabled reports whether the frame rate allows pacing.
func (p *Pacer) Enabled() bool {
	return p.frameRate > 0 && !math.IsInf(p.frameRate, 0) && !math.IsNaN(p.frameRate)
}

// Index returns the number of paced frames so far.
func (p *Pacer) Index() int64 {
	return p.index
}

// StartTime returns when pacing began. It is zero until the first image frame.
func (p *Pacer) StartTime() time.Time {
	return p.start
}

// IdealTime returns when the frame at index i should be emitted.
func (p *Pacer) IdealTime(i int64) time.Time {
	offset := time.Duration(float64(i) * float64(time.Second) / p.frameRate)
	return p.start.Add(offset)
}

// Wait suspends until the frame is due. Frames without an image pass
// straight through and do not advance the index.
func (p *Pacer) Wait(ctx context.Context, frame *codec.Frame) error {
	if !p.Enabled() || !frame.HasImage() {
		return nil
	}
	if !p.started {
		p.start = p.clock.Now()
		p.started = true
	}

	due := p.IdealTime(p.index)
	p.index++

	if wait := due.Sub(p.clock.Now()); wait > 0 {
		return p.clock.Sleep(ctx, wait)
	}
	return nil
}
