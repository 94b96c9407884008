package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

const (
	defaultFrameBuffer = 64
	readBufferSize     = 188 * 1024
	exitWaitTimeout    = 2 * time.Second
)

var (
	errInputClosed = errors.New("input closed")
	// errExitTimeout marks a process that kept running after its stdout
	// ended; the stream is cut short rather than finished.
	errExitTimeout = errors.New("ffmpeg did not exit after output ended")
)

// input demuxes the MPEG-TS stdout of an ffmpeg process into frames.
// A reader goroutine pushes frames into a bounded channel drained by Grab.
type input struct {
	cmd    *Command
	stdout io.ReadCloser
	logger *slog.Logger

	props  codec.Properties
	frames chan *codec.Frame

	ready   chan struct{}
	initErr error
	readErr error

	exitWait  time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

func newInput(cmd *Command, stdout io.ReadCloser, props codec.Properties, buffer int, logger *slog.Logger) *input {
	if buffer <= 0 {
		buffer = defaultFrameBuffer
	}
	return &input{
		cmd:      cmd,
		stdout:   stdout,
		logger:   logger,
		props:    props,
		frames:   make(chan *codec.Frame, buffer),
		ready:    make(chan struct{}),
		exitWait: exitWaitTimeout,
		closed:   make(chan struct{}),
	}
}

func (in *input) run() {
	defer close(in.frames)

	reader := &mpegts.Reader{R: bufio.NewReaderSize(in.stdout, readBufferSize)}
	if err := reader.Initialize(); err != nil {
		in.initErr = fmt.Errorf("initializing mpegts reader: %w", in.describe(err))
		close(in.ready)
		return
	}

	if err := in.setupTracks(reader); err != nil {
		in.initErr = err
		close(in.ready)
		return
	}
	close(in.ready)

	reader.OnDecodeError(func(err error) {
		in.logger.Debug("mpegts decode error", slog.String("error", err.Error()))
	})

	for {
		err := reader.Read()
		if err == nil {
			continue
		}
		if errors.Is(err, errInputClosed) || in.isClosed() {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
			in.readErr = in.exitError()
			return
		}
		in.readErr = fmt.Errorf("demuxing mpegts: %w", err)
		return
	}
}

// setupTracks registers callbacks for the first video and first audio
// track and records their properties.
func (in *input) setupTracks(reader *mpegts.Reader) error {
	var haveVideo, haveAudio bool

	for _, track := range reader.Tracks() {
		switch c := track.Codec.(type) {
		case *mpegts.CodecH264:
			if haveVideo {
				continue
			}
			haveVideo = true
			in.props.VideoCodec = string(codec.VideoH264)
			reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
				return in.emitVideo(codec.VideoH264, pts, dts, h264.IsRandomAccess(au), au)
			})

		case *mpegts.CodecH265:
			if haveVideo {
				continue
			}
			haveVideo = true
			in.props.VideoCodec = string(codec.VideoH265)
			reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
				return in.emitVideo(codec.VideoH265, pts, dts, h265.IsRandomAccess(au), au)
			})

		case *mpegts.CodecMPEG4Audio:
			if haveAudio {
				continue
			}
			haveAudio = true
			in.props.AudioCodec = string(codec.AudioAAC)
			in.props.SampleRate = c.Config.SampleRate
			in.props.AudioChannels = c.Config.ChannelCount
			reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
				return in.emit(&codec.Frame{
					Kind:  codec.KindAudio,
					Codec: string(codec.AudioAAC),
					PTS:   pts,
					DTS:   pts,
					Data:  copyUnits(aus),
				})
			})

		default:
			in.logger.Debug("ignoring track",
				slog.Uint64("pid", uint64(track.PID)),
				slog.String("type", fmt.Sprintf("%T", track.Codec)),
			)
		}
	}

	if !haveVideo {
		return ErrNoVideoStream
	}
	if !haveAudio {
		in.props.AudioChannels = 0
		in.props.SampleRate = 0
		in.props.AudioCodec = ""
	}
	return nil
}

func (in *input) emitVideo(c codec.Video, pts, dts int64, keyframe bool, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	return in.emit(&codec.Frame{
		Kind:     codec.KindVideo,
		Codec:    string(c),
		PTS:      pts,
		DTS:      dts,
		Keyframe: keyframe,
		Data:     copyUnits(au),
	})
}

func (in *input) emit(f *codec.Frame) error {
	select {
	case in.frames <- f:
		return nil
	case <-in.closed:
		return errInputClosed
	}
}

// exitError reports why the process ended once stdout reached EOF. A clean
// exit yields nil so Grab reports end of stream. A process still running
// after exitWait is killed and reported as a failure.
func (in *input) exitError() error {
	select {
	case <-in.cmd.Done():
	case <-time.After(in.exitWait):
		_ = in.cmd.Kill()
		return in.describe(fmt.Errorf("%w within %s", errExitTimeout, in.exitWait))
	}
	if err := in.cmd.ExitError(); err != nil {
		return in.describe(err)
	}
	return nil
}

func (in *input) describe(err error) error {
	if last := in.cmd.LastError(); last != "" {
		return fmt.Errorf("%w: %s", err, last)
	}
	return err
}

func (in *input) isClosed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

func (in *input) Properties() codec.Properties {
	return in.props
}

func (in *input) Grab() (*codec.Frame, error) {
	f, ok := <-in.frames
	if ok {
		return f, nil
	}
	if in.readErr != nil {
		return nil, in.readErr
	}
	return nil, codec.ErrEndOfStream
}

func (in *input) PID() int {
	return in.cmd.PID()
}

// Close kills the process and waits for the reader to stop.
func (in *input) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.closed)
		err = in.cmd.Kill()
		_ = in.stdout.Close()
		_ = in.cmd.WaitTimeout(in.exitWait)
		for range in.frames {
		}
	})
	return err
}

// copyUnits detaches access units from the demuxer's buffers.
func copyUnits(units [][]byte) [][]byte {
	out := make([][]byte, len(units))
	for i, u := range units {
		out[i] = append([]byte(nil), u...)
	}
	return out
}
