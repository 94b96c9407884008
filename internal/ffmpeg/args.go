package ffmpeg

import (
	"path/filepath"
	"strconv"

	"github.com/jmylchreest/streamrelay/internal/codec"
	"github.com/jmylchreest/streamrelay/internal/storage"
)

const (
	pipeIn  = "pipe:0"
	pipeOut = "pipe:1"
)

// inputCommand builds the process that reads a source and emits MPEG-TS on
// stdout. Video that is already H.264/H.265 and AAC audio are copied.
func inputCommand(binary, source string, props codec.Properties, opts codec.InputOptions) *Command {
	b := NewCommandBuilder(binary).HideBanner()

	if opts.LowLatency {
		b.InputArgs("-fflags", "nobuffer", "-flags", "low_delay")
	}
	if isRTSP(source) {
		b.InputArgs("-rtsp_transport", "tcp")
		if opts.ConnectTimeout > 0 {
			b.InputArgs("-timeout", strconv.FormatInt(opts.ConnectTimeout.Microseconds(), 10))
		}
	}
	b.Input(source)

	b.OutputArgs("-map", "0:v:0")
	switch codec.Video(props.VideoCodec) {
	case codec.VideoH264, codec.VideoH265:
		b.OutputArgs("-c:v", "copy")
	default:
		b.OutputArgs("-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency")
	}

	if props.HasAudio() {
		b.OutputArgs("-map", "0:a:0")
		if codec.Audio(props.AudioCodec) == codec.AudioAAC {
			b.OutputArgs("-c:a", "copy")
		} else {
			b.OutputArgs("-c:a", "aac", "-b:a", formatBitrate(128_000))
		}
	} else {
		b.OutputArgs("-an")
	}

	return b.OutputArgs("-f", "mpegts").Output(pipeOut).Build()
}

// relayOutputCommand builds the process that reads MPEG-TS from stdin and
// publishes it to an RTSP target.
func relayOutputCommand(binary, target string, video codec.VideoParams, audio codec.AudioParams) *Command {
	b := NewCommandBuilder(binary).HideBanner().
		InputArgs("-f", "mpegts").
		Input(pipeIn)

	b.OutputArgs("-map", "0:v:0")
	b.OutputArgs(videoArgs(video)...)
	b.OutputArgs(audioArgs(audio)...)

	return b.OutputArgs("-f", "rtsp", "-rtsp_transport", "tcp").Output(target).Build()
}

// hlsOutputCommand builds the process that segments MPEG-TS from stdin into
// a sliding-window HLS playlist.
func hlsOutputCommand(binary, playlistPath string, video codec.VideoParams, audio codec.AudioParams, opts codec.OutputOptions) *Command {
	b := NewCommandBuilder(binary).HideBanner().
		InputArgs("-fflags", "+genpts+igndts", "-f", "mpegts").
		Input(pipeIn)

	b.OutputArgs("-map", "0:v:0")
	b.OutputArgs(videoArgs(video)...)
	b.OutputArgs(audioArgs(audio)...)

	segment := filepath.Join(filepath.Dir(playlistPath), storage.SegmentPattern)
	b.OutputArgs(
		"-fps_mode", "cfr",
		"-avoid_negative_ts", "make_zero",
		"-f", "hls",
		"-hls_time", formatSeconds(opts.SegmentDuration.Seconds()),
		"-hls_list_size", strconv.Itoa(opts.WindowSize),
		"-hls_flags", "delete_segments+append_list+independent_segments",
		"-hls_segment_type", "mpegts",
		"-hls_allow_cache", "0",
		"-hls_segment_filename", segment,
	)

	return b.Output(playlistPath).Build()
}

func videoArgs(v codec.VideoParams) []string {
	encoder := "libx264"
	if v.Codec == codec.VideoH265 {
		encoder = "libx265"
	}
	args := []string{"-c:v", encoder}

	if v.PixelFormat != "" {
		args = append(args, "-pix_fmt", v.PixelFormat)
	}
	if v.Preset != "" {
		args = append(args, "-preset", v.Preset)
	}
	if v.Tune != "" {
		args = append(args, "-tune", v.Tune)
	}
	if v.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(v.CRF))
	}
	if v.MaxBitrate > 0 {
		args = append(args, "-maxrate", formatBitrate(v.MaxBitrate))
	}
	if v.BufferSize > 0 {
		args = append(args, "-bufsize", formatBitrate(v.BufferSize))
	}
	if v.FrameRate > 0 {
		args = append(args, "-r", formatSeconds(v.FrameRate))
	}
	if v.GOP > 0 {
		args = append(args, "-g", strconv.Itoa(v.GOP))
	}
	return args
}

func audioArgs(a codec.AudioParams) []string {
	if !a.Enabled() {
		return []string{"-an"}
	}

	args := []string{"-map", "0:a:0", "-c:a", "aac"}
	if a.Bitrate > 0 {
		args = append(args, "-b:a", formatBitrate(a.Bitrate))
	}
	if a.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(a.SampleRate))
	}
	if a.Coder != "" {
		args = append(args, "-aac_coder", a.Coder)
	}
	return args
}

// formatBitrate renders bits per second the way ffmpeg options expect,
// e.g. 2000000 as "2M" and 128000 as "128k".
func formatBitrate(bps int) string {
	switch {
	case bps%1_000_000 == 0:
		return strconv.Itoa(bps/1_000_000) + "M"
	case bps%1_000 == 0:
		return strconv.Itoa(bps/1_000) + "k"
	default:
		return strconv.Itoa(bps)
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
