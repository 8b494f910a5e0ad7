package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseParams() CommandParams {
	return CommandParams{
		SourceURL:       "https://example.com/movie.mkv",
		StartOffset:     0,
		StartNumber:     0,
		VideoCodec:      "libx264",
		AudioCodec:      "aac",
		GOPSize:         60,
		QSVPreset:       "7",
		X264Preset:      "medium",
		LogLevel:        "warning",
		SegmentDuration: 3,
		SegmentPattern:  "/data/k1/segment%d.ts",
		PlaylistPath:    "/data/k1/internal.m3u8",
	}
}

func TestBuildArgs_SoftwareEncodePath(t *testing.T) {
	args := BuildArgs(baseParams())

	assert.Contains(t, args, "-sc_threshold")
	assert.Contains(t, args, "yuv420p")
	assert.NotContains(t, args, "-hwaccel")
	assert.NotContains(t, args, "vpp_qsv=format=nv12")

	idx := indexOf(args, "-i")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "https://example.com/movie.mkv", args[idx+1])

	presetIdx := indexOf(args, "-preset")
	require.GreaterOrEqual(t, presetIdx, 0)
	assert.Equal(t, "medium", args[presetIdx+1])
}

func TestBuildArgs_QSVHWAccelPath(t *testing.T) {
	p := baseParams()
	p.VideoCodec = "h264_qsv"
	p.UseHWAccel = true
	args := BuildArgs(p)

	assert.Contains(t, args, "-hwaccel")
	hwIdx := indexOf(args, "-hwaccel")
	assert.Equal(t, "qsv", args[hwIdx+1])
	assert.Contains(t, args, "-hwaccel_output_format")
	assert.Contains(t, args, "vpp_qsv=format=nv12")
	assert.NotContains(t, args, "-sc_threshold")

	presetIdx := indexOf(args, "-preset")
	require.GreaterOrEqual(t, presetIdx, 0)
	assert.Equal(t, "7", args[presetIdx+1])
}

func TestBuildArgs_HeadersPrecedeSeek(t *testing.T) {
	p := baseParams()
	p.RequestHeaders = "Authorization: Bearer secret\r\n"
	args := BuildArgs(p)

	headersIdx := indexOf(args, "-headers")
	ssIdx := indexOf(args, "-ss")
	require.GreaterOrEqual(t, headersIdx, 0)
	require.GreaterOrEqual(t, ssIdx, 0)
	assert.Less(t, headersIdx, ssIdx)
}

func TestBuildArgs_StartNumberAlignsOffset(t *testing.T) {
	p := baseParams()
	p.StartOffset = 90
	p.StartNumber = 30
	args := BuildArgs(p)

	ssIdx := indexOf(args, "-ss")
	require.GreaterOrEqual(t, ssIdx, 0)
	assert.Equal(t, "90", args[ssIdx+1])

	startIdx := indexOf(args, "-start_number")
	require.GreaterOrEqual(t, startIdx, 0)
	assert.Equal(t, "30", args[startIdx+1])
}

func TestBuildArgs_OptionalBitrateParams(t *testing.T) {
	p := baseParams()
	p.VideoBitrate = "2000k"
	p.MaxRate = "2200k"
	p.BufSize = "4400k"
	p.AudioBitrate = "128k"
	p.AudioChannels = 2
	p.AudioSampleRate = 48000
	args := BuildArgs(p)

	assert.Contains(t, args, "-b:v")
	assert.Contains(t, args, "2000k")
	assert.Contains(t, args, "-maxrate")
	assert.Contains(t, args, "-bufsize")
	assert.Contains(t, args, "-b:a")
	assert.Contains(t, args, "-ac")
	assert.Contains(t, args, "-ar")
}

func TestBuildArgs_OmitsBitrateParamsWhenUnset(t *testing.T) {
	args := BuildArgs(baseParams())
	assert.NotContains(t, args, "-b:v")
	assert.NotContains(t, args, "-maxrate")
	assert.NotContains(t, args, "-ac")
}

func TestShouldUseLegacyDecode(t *testing.T) {
	cases := []struct {
		name      string
		codec     string
		container string
		fileName  string
		want      bool
	}{
		{"h264 mp4", "h264", "mov,mp4,m4a", "movie.mp4", false},
		{"legacy codec mpeg4", "mpeg4", "avi", "movie.avi", true},
		{"legacy container asf", "wmv3", "asf", "movie.wmv", true},
		{"legacy extension only", "h264", "mov,mp4,m4a", "movie.wmv", true},
		{"hevc mkv container not legacy by codec", "hevc", "matroska,webm", "movie.mkv", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldUseLegacyDecode(tc.codec, tc.container, tc.fileName))
		})
	}
}

func TestRedacted_HidesHeaders(t *testing.T) {
	args := []string{"-hide_banner", "-headers", "Authorization: Bearer sekrit\r\n", "-i", "https://x"}
	out := Redacted("ffmpeg", args)
	assert.NotContains(t, out, "sekrit")
	assert.Contains(t, out, "-headers <headers>")
	assert.True(t, strings.HasPrefix(out, "ffmpeg "))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
