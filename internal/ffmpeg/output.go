package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// PID constants for MPEG-TS.
const (
	tsVideoPID = 0x0100
	tsAudioPID = 0x0101
)

const defaultCloseGrace = 5 * time.Second

// output muxes frames into MPEG-TS on the stdin of an ffmpeg process.
type output struct {
	cmd   *Command
	stdin io.WriteCloser
	buf   *bufio.Writer
	grace time.Duration

	muxer *mpegts.Writer
	video *mpegts.Track
	audio *mpegts.Track

	closeOnce sync.Once
	closeErr  error
}

func newOutput(cmd *Command, stdin io.WriteCloser, audio codec.AudioParams, source codec.Properties, grace time.Duration) (*output, error) {
	if grace <= 0 {
		grace = defaultCloseGrace
	}

	out := &output{
		cmd:   cmd,
		stdin: stdin,
		buf:   bufio.NewWriterSize(stdin, readBufferSize),
		grace: grace,
	}

	out.video = &mpegts.Track{PID: tsVideoPID, Codec: videoTrackCodec(source.VideoCodec)}
	tracks := []*mpegts.Track{out.video}

	if audio.Enabled() && source.HasAudio() {
		out.audio = &mpegts.Track{PID: tsAudioPID, Codec: aacTrackCodec(source)}
		tracks = append(tracks, out.audio)
	}

	out.muxer = &mpegts.Writer{W: out.buf, Tracks: tracks}
	if err := out.muxer.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}
	return out, nil
}

func videoTrackCodec(name string) mpegts.Codec {
	if codec.Video(name) == codec.VideoH265 {
		return &mpegts.CodecH265{}
	}
	return &mpegts.CodecH264{}
}

func aacTrackCodec(p codec.Properties) mpegts.Codec {
	sampleRate := p.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   sampleRate,
		ChannelCount: p.AudioChannels,
	}}
}

func (o *output) Write(f *codec.Frame) error {
	if f == nil || len(f.Data) == 0 {
		return nil
	}

	var err error
	switch f.Kind {
	case codec.KindVideo:
		if _, ok := o.video.Codec.(*mpegts.CodecH265); ok {
			err = o.muxer.WriteH265(o.video, f.PTS, f.DTS, f.Data)
		} else {
			err = o.muxer.WriteH264(o.video, f.PTS, f.DTS, f.Data)
		}
	case codec.KindAudio:
		if o.audio == nil {
			return nil
		}
		err = o.muxer.WriteMPEG4Audio(o.audio, f.PTS, f.Data)
	default:
		return nil
	}
	if err == nil {
		err = o.buf.Flush()
	}
	if err != nil {
		return o.describe(fmt.Errorf("writing to ffmpeg: %w", err))
	}
	return nil
}

func (o *output) describe(err error) error {
	if last := o.cmd.LastError(); last != "" {
		return fmt.Errorf("%w: %s", err, last)
	}
	return err
}

func (o *output) PID() int {
	return o.cmd.PID()
}

// Close ends the stream on stdin and lets ffmpeg finish the output,
// killing it after the grace period.
func (o *output) Close() error {
	o.closeOnce.Do(func() {
		flushErr := o.buf.Flush()
		stdinErr := o.stdin.Close()

		var waitErr error
		select {
		case <-o.cmd.Done():
			waitErr = o.cmd.ExitError()
		case <-time.After(o.grace):
			_ = o.cmd.Kill()
			<-o.cmd.Done()
			waitErr = fmt.Errorf("ffmpeg did not exit within %v", o.grace)
		}
		if waitErr != nil {
			waitErr = o.describe(waitErr)
		}

		o.closeErr = errors.Join(waitErr, ignoreClosed(flushErr), ignoreClosed(stdinErr))
	})
	return o.closeErr
}

// ignoreClosed drops the pipe errors seen when ffmpeg exited first.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
		return nil
	}
	return err
}
