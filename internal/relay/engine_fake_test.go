package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// fakeInput yields a fixed list of frames, then either an error, end of
// stream, or (when live) an endless sequence of video frames.
type fakeInput struct {
	props    codec.Properties
	frames   []*codec.Frame
	grabErr  error
	live     bool
	closeErr error

	mu     sync.Mutex
	pos    int
	closed atomic.Int32
}

func (f *fakeInput) Properties() codec.Properties { return f.props }

func (f *fakeInput) Grab() (*codec.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pos < len(f.frames) {
		frame := f.frames[f.pos]
		f.pos++
		return frame, nil
	}
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	if f.live {
		time.Sleep(time.Millisecond)
		f.pos++
		return videoFrame(int64(f.pos)), nil
	}
	return nil, codec.ErrEndOfStream
}

func (f *fakeInput) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

// fakeOutput records every frame written to it.
type fakeOutput struct {
	target     string
	format     codec.Format
	video      codec.VideoParams
	audio      codec.AudioParams
	failAfter  int
	writeErr   error
	closeErr   error
	onWriteDir string

	mu     sync.Mutex
	frames []*codec.Frame
	closed atomic.Int32
}

func (f *fakeOutput) Write(frame *codec.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil && len(f.frames) >= f.failAfter {
		return f.writeErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeOutput) Close() error {
	f.closed.Add(1)
	return f.closeErr
}

func (f *fakeOutput) written() []*codec.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*codec.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// fakeEngine hands out inputs and outputs built by the test.
type fakeEngine struct {
	newInput  func(ctx context.Context, source string) (*fakeInput, error)
	newOutput func(target string) (*fakeOutput, error)
	openDelay time.Duration

	mu         sync.Mutex
	inputs     []*fakeInput
	outputs    []*fakeOutput
	inputOpens atomic.Int32
}

func (e *fakeEngine) OpenInput(ctx context.Context, source string, _ codec.InputOptions) (codec.Input, error) {
	e.inputOpens.Add(1)
	if e.openDelay > 0 {
		select {
		case <-time.After(e.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var in *fakeInput
	var err error
	if e.newInput != nil {
		in, err = e.newInput(ctx, source)
	} else {
		in = &fakeInput{props: defaultProps(), live: true}
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	e.mu.Unlock()
	return in, nil
}

func (e *fakeEngine) OpenOutput(_ context.Context, target string, format codec.Format, video codec.VideoParams, audio codec.AudioParams, _ codec.OutputOptions) (codec.Output, error) {
	var out *fakeOutput
	var err error
	if e.newOutput != nil {
		out, err = e.newOutput(target)
	} else {
		out = &fakeOutput{}
	}
	if err != nil {
		return nil, err
	}
	out.target = target
	out.format = format
	out.video = video
	out.audio = audio

	if format == codec.FormatHLS {
		// Stand in for the muxer writing its playlist.
		_ = os.WriteFile(target, []byte("#EXTM3U\n"), 0o644)
	}

	e.mu.Lock()
	e.outputs = append(e.outputs, out)
	e.mu.Unlock()
	return out, nil
}

func (e *fakeEngine) lastInput() *fakeInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inputs) == 0 {
		return nil
	}
	return e.inputs[len(e.inputs)-1]
}

func (e *fakeEngine) lastOutput() *fakeOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.outputs) == 0 {
		return nil
	}
	return e.outputs[len(e.outputs)-1]
}

// dirStore is a minimal HLSStore over a temp directory.
type dirStore struct {
	base   string
	purges atomic.Int32
}

func newDirStore(t *testing.T) *dirStore {
	t.Helper()
	return &dirStore{base: t.TempDir()}
}

func (d *dirStore) Prepare(name string) (string, error) {
	dir := filepath.Join(d.base, name)
	return dir, os.MkdirAll(dir, 0o750)
}

func (d *dirStore) Purge(name string) error {
	d.purges.Add(1)
	return os.RemoveAll(filepath.Join(d.base, name))
}

func (d *dirStore) PlaylistPath(name string) string {
	return filepath.Join(d.base, name, "stream.m3u8")
}

// fakeHistory captures session start and end notifications.
type fakeHistory struct {
	started chan SessionInfo
	ended   chan SessionInfo
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		started: make(chan SessionInfo, 16),
		ended:   make(chan SessionInfo, 16),
	}
}

func (h *fakeHistory) SessionStarted(_ context.Context, info SessionInfo) { h.started <- info }
func (h *fakeHistory) SessionEnded(_ context.Context, info SessionInfo)   { h.ended <- info }

func (h *fakeHistory) waitEnded(t *testing.T) SessionInfo {
	t.Helper()
	select {
	case info := <-h.ended:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to end")
		return SessionInfo{}
	}
}

// fakeClock advances instantly on Sleep and records requested waits.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func defaultProps() codec.Properties {
	return codec.Properties{
		Width:         1280,
		Height:        720,
		FrameRate:     30,
		AudioChannels: 2,
		SampleRate:    48000,
		VideoCodec:    "h264",
		AudioCodec:    "aac",
	}
}

func videoFrame(pts int64) *codec.Frame {
	return &codec.Frame{Kind: codec.KindVideo, Codec: "h264", PTS: pts, DTS: pts, Data: [][]byte{{0x65}}}
}

func audioFrame(pts int64) *codec.Frame {
	return &codec.Frame{Kind: codec.KindAudio, Codec: "aac", PTS: pts, Data: [][]byte{{0x21}}}
}

func videoFrames(n int) []*codec.Frame {
	frames := make([]*codec.Frame, n)
	for i := range frames {
		frames[i] = videoFrame(int64(i))
	}
	return frames
}

var errBoom = errors.New("boom")
