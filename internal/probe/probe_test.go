package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_ExtractsDurationAndCodecs(t *testing.T) {
	raw := rawProbeResult{
		Format: rawFormat{FormatName: "mov,mp4,m4a", Duration: "123.456"},
		Streams: []rawStream{
			{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
			{CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000"},
		},
	}

	info := parse(raw)

	assert.Equal(t, 123.456, info.Duration)
	assert.Equal(t, "mov,mp4,m4a", info.ContainerFormat)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, 1920, info.VideoWidth)
	assert.Equal(t, 1080, info.VideoHeight)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 2, info.AudioChannels)
	assert.Equal(t, 48000, info.AudioSampleRate)
}

func TestParse_MissingDurationLeavesZero(t *testing.T) {
	raw := rawProbeResult{Format: rawFormat{FormatName: "mpegts"}}
	info := parse(raw)
	assert.Equal(t, float64(0), info.Duration)
}

func TestParse_UsesFirstStreamOfEachType(t *testing.T) {
	raw := rawProbeResult{
		Streams: []rawStream{
			{CodecType: "video", CodecName: "h264"},
			{CodecType: "video", CodecName: "hevc"},
			{CodecType: "audio", CodecName: "aac"},
			{CodecType: "audio", CodecName: "mp3"},
		},
	}
	info := parse(raw)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
}

func TestShouldTranscode_NoVideoCodec(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{}, "movie.mp4")
	assert.Contains(t, reasons, "no_video_codec")
}

func TestShouldTranscode_UnsupportedVideoCodec(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{VideoCodec: "mpeg4"}, "movie.avi")
	assert.Contains(t, reasons, "unsupported_codec:mpeg4")
}

func TestShouldTranscode_NativelyCompatibleHasNoReasons(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		ContainerFormat: "mov,mp4,m4a",
	}, "movie.mp4")
	assert.Empty(t, reasons)
}

func TestShouldTranscode_UnsupportedAudioCodec(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{VideoCodec: "h264", AudioCodec: "dts"}, "movie.mkv")
	assert.Contains(t, reasons, "unsupported_audio_codec:dts")
}

func TestShouldTranscode_MKVContainer(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		ContainerFormat: "matroska,webm",
	}, "movie.mkv")
	assert.Contains(t, reasons, "mkv_container")
	assert.Contains(t, reasons, "legacy_container")
}

func TestShouldTranscode_LegacyExtensionOnly(t *testing.T) {
	reasons := ShouldTranscode(MediaInfo{VideoCodec: "h264", AudioCodec: "aac", ContainerFormat: "asf"}, "movie.wmv")
	assert.Contains(t, reasons, "legacy_container")
}
