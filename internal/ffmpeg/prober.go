package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// ErrNoVideoStream is returned when a probed source has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Profile      string `json:"profile,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	BitRate      string `json:"bit_rate,omitempty"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new stream prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     10 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe runs ffprobe against a source and returns the parsed output.
func (p *Prober) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath, probeArgs(source, p.timeout)...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v: %w", p.timeout, ctx.Err())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeOutput(output)
}

// ProbeProperties probes a source and reduces the result to its properties.
func (p *Prober) ProbeProperties(ctx context.Context, source string) (codec.Properties, error) {
	result, err := p.Probe(ctx, source)
	if err != nil {
		return codec.Properties{}, err
	}
	return result.Properties()
}

func probeArgs(source string, timeout time.Duration) []string {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	switch {
	case isRTSP(source):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
		)
	case isHTTP(source):
		args = append(args,
			"-timeout", strconv.FormatInt(timeout.Microseconds(), 10),
		)
	}

	return append(args, source)
}

func parseProbeOutput(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Properties reduces a probe result to the first video and audio streams.
func (r *ProbeResult) Properties() (codec.Properties, error) {
	var props codec.Properties

	video := r.VideoStream()
	if video == nil {
		return props, ErrNoVideoStream
	}
	props.Width = video.Width
	props.Height = video.Height
	props.VideoCodec = normalizeCodecName(video.CodecName)
	props.FrameRate = video.Framerate()

	if audio := r.AudioStream(); audio != nil {
		props.AudioChannels = audio.Channels
		props.SampleRate, _ = strconv.Atoi(audio.SampleRate)
		props.AudioCodec = normalizeCodecName(audio.CodecName)
	}

	return props, nil
}

// VideoStream returns the first video stream, skipping attached pictures.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		s := &r.Streams[i]
		if s.CodecType == "video" && s.CodecName != "mjpeg" && s.CodecName != "png" {
			return s
		}
	}
	return nil
}

// AudioStream returns the first audio stream.
func (r *ProbeResult) AudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Framerate returns the average frame rate, falling back to the base rate.
func (s *ProbeStream) Framerate() float64 {
	if fps := parseFramerate(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}

func normalizeCodecName(name string) string {
	switch name {
	case "hevc":
		return string(codec.VideoH265)
	case "eac3", "ec3":
		return "eac3"
	default:
		return name
	}
}

func isRTSP(source string) bool {
	return strings.HasPrefix(source, "rtsp://") || strings.HasPrefix(source, "rtsps://")
}

func isHTTP(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
