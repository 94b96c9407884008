// Package codec defines the media codec engine capability consumed by the
// session manager. An engine opens inputs that yield frames and outputs that
// accept them; the work of decoding, encoding and muxing lives behind it.
package codec

import (
	"context"
	"errors"
	"time"
)

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264"
	VideoH265 Video = "h265"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC  Audio = "aac"
	AudioAC3  Audio = "ac3"
	AudioMP3  Audio = "mp3"
	AudioOpus Audio = "opus"
)

// Format is the container an output is muxed into.
type Format string

// Output format constants.
const (
	FormatRTSP Format = "rtsp"
	FormatHLS  Format = "hls"
)

// ErrEndOfStream is returned by Input.Grab when the input ended cleanly.
var ErrEndOfStream = errors.New("end of stream")

// Kind distinguishes video frames from audio frames.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Frame is one unit of media handed from an input to an output.
// Timestamps use the 90kHz MPEG clock.
type Frame struct {
	Kind     Kind
	Codec    string
	PTS      int64
	DTS      int64
	Keyframe bool
	// Data holds the access unit: NAL units for video, AUs for audio.
	Data [][]byte
}

// HasImage reports whether the frame carries picture data.
// Frames without an image are not paced.
func (f *Frame) HasImage() bool {
	return f != nil && f.Kind == KindVideo && len(f.Data) > 0
}

// Properties are the measured characteristics of an opened input.
type Properties struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FrameRate     float64 `json:"frame_rate"`
	AudioChannels int     `json:"audio_channels"`
	SampleRate    int     `json:"sample_rate"`
	VideoCodec    string  `json:"video_codec,omitempty"`
	AudioCodec    string  `json:"audio_codec,omitempty"`
}

// HasAudio reports whether the input carries an audio track.
func (p Properties) HasAudio() bool {
	return p.AudioChannels > 0
}

// VideoParams configures the video encoder of an output.
type VideoParams struct {
	Codec       Video
	Width       int
	Height      int
	FrameRate   float64
	GOP         int
	PixelFormat string
	Preset      string
	Tune        string
	CRF         int
	MaxBitrate  int // bits per second, 0 for unconstrained
	BufferSize  int // bits
}

// AudioParams configures the audio encoder of an output.
// An output with zero channels carries no audio track.
type AudioParams struct {
	Codec      Audio
	Channels   int
	SampleRate int
	Bitrate    int // bits per second
	Coder      string
}

// Enabled reports whether the output should carry audio.
func (a AudioParams) Enabled() bool {
	return a.Channels > 0
}

// InputOptions tune how an input is opened.
type InputOptions struct {
	// ConnectTimeout bounds opening the source and receiving its first
	// stream description.
	ConnectTimeout time.Duration
	// LowLatency disables input buffering where the engine supports it.
	LowLatency bool
}

// OutputOptions tune how an output is opened.
type OutputOptions struct {
	// SegmentDuration and WindowSize apply to segmented formats.
	SegmentDuration time.Duration
	WindowSize      int
	// Source describes the frames that will be written, as reported by
	// the input they come from.
	Source Properties
}

// Input is an opened source. Grab and Close must not be called concurrently.
type Input interface {
	Properties() Properties
	// Grab blocks until the next frame is available. It returns
	// ErrEndOfStream once the source is exhausted.
	Grab() (*Frame, error)
	Close() error
}

// Output is an opened sink. Write and Close must not be called concurrently.
type Output interface {
	Write(frame *Frame) error
	Close() error
}

// Engine opens inputs and outputs. The context bounds the open call only;
// handles stay valid until closed.
type Engine interface {
	OpenInput(ctx context.Context, source string, opts InputOptions) (Input, error)
	OpenOutput(ctx context.Context, target string, format Format, video VideoParams, audio AudioParams, opts OutputOptions) (Output, error)
}

// ProcessIdentifier is implemented by handles backed by an OS process.
type ProcessIdentifier interface {
	PID() int
}
