package relay

import (
	"math"

	"github.com/jmylchreest/streamrelay/internal/codec"
)

// Encoder settings for the two output modes.
const (
	transcodeFrameRate  = 30
	transcodeGOP        = 60
	transcodeCRF        = 23
	transcodeMaxBitrate = 2_000_000
	transcodeBufferSize = 4_000_000
	audioBitrate        = 128_000
)

// relayParams mirrors the input: same geometry and frame rate, one keyframe
// per second of video.
func relayParams(p codec.Properties) (codec.VideoParams, codec.AudioParams) {
	video := codec.VideoParams{
		Codec:       codec.VideoH264,
		Width:       p.Width,
		Height:      p.Height,
		FrameRate:   p.FrameRate,
		GOP:         int(math.Round(p.FrameRate)),
		PixelFormat: "yuv420p",
		Preset:      "ultrafast",
		Tune:        "zerolatency",
	}
	return video, audioParams(p, "fast")
}

// transcodeParams targets a constant 30fps H.264 ladder rung with a keyframe
// every two seconds so each HLS segment starts on one.
func transcodeParams(p codec.Properties) (codec.VideoParams, codec.AudioParams) {
	video := codec.VideoParams{
		Codec:      codec.VideoH264,
		Width:      p.Width,
		Height:     p.Height,
		FrameRate:  transcodeFrameRate,
		GOP:        transcodeGOP,
		Preset:     "ultrafast",
		Tune:       "zerolatency",
		CRF:        transcodeCRF,
		MaxBitrate: transcodeMaxBitrate,
		BufferSize: transcodeBufferSize,
	}
	return video, audioParams(p, "")
}

func audioParams(p codec.Properties, coder string) codec.AudioParams {
	if !p.HasAudio() {
		return codec.AudioParams{}
	}
	return codec.AudioParams{
		Codec:      codec.AudioAAC,
		Channels:   p.AudioChannels,
		SampleRate: p.SampleRate,
		Bitrate:    audioBitrate,
		Coder:      coder,
	}
}
