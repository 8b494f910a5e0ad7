// Package ffmpeg builds and drives the FFmpeg-compatible worker process that
// produces HLS segments for a single transcode task.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Legacy container/codec sets that force a software decode path. Matching
// any of these turns off hardware acceleration for the run regardless of
// TranscodeConfig.UseHWAccel.
var (
	LegacyContainers = map[string]bool{"avi": true, "asf": true}
	LegacyCodecs     = map[string]bool{
		"mpeg4":      true,
		"msmpeg4v2":  true,
		"msmpeg4v3":  true,
		"mpeg1video": true,
	}
)

// CommandParams carries everything the worker driver needs to build an
// argv for one encode run. The caller (internal/transcode's Manager)
// resolves the effective video encoder, hwaccel eligibility, and legacy
// decode decision before populating this struct; this package never reaches
// back into task or config types to avoid an import cycle.
type CommandParams struct {
	SourceURL      string
	RequestHeaders string

	StartOffset float64 // current_encode_offset, seconds; passed as -ss
	StartNumber int      // -start_number, must equal StartOffset/SegmentDuration

	UseHWAccel bool // true only when hwaccel selected AND decode path is not legacy
	VideoCodec string
	AudioCodec string

	VideoBitrate string
	MaxRate      string
	BufSize      string
	GOPSize      int

	AudioBitrate    string
	AudioChannels   int
	AudioSampleRate int

	QSVPreset  string
	X264Preset string
	LogLevel   string

	SegmentDuration int
	SegmentPattern  string // e.g. /data/<key>/segment%d.ts
	PlaylistPath    string // internal m3u8, ignored by the server
}

// isQSV reports whether the effective encoder is the QSV hardware encoder.
func (p CommandParams) isQSV() bool {
	return p.UseHWAccel && strings.HasPrefix(strings.ToLower(p.VideoCodec), "h264_qsv")
}

// ShouldUseLegacyDecode reports whether the source's container or codec
// forces a software decode path, per §4.4's legacy decode rule.
func ShouldUseLegacyDecode(videoCodec, containerFormat, fileName string) bool {
	if LegacyCodecs[strings.ToLower(videoCodec)] {
		return true
	}
	lowerFormat := strings.ToLower(containerFormat)
	for container := range LegacyContainers {
		if strings.Contains(lowerFormat, container) {
			return true
		}
	}
	lowerName := strings.ToLower(fileName)
	for _, ext := range []string{".avi", ".asf", ".wmv"} {
		if strings.HasSuffix(lowerName, ext) {
			return true
		}
	}
	return false
}

// BuildArgs assembles the worker argv in the exact stage order required by
// the command-line construction rules: input stage, video stage, audio
// stage, common output flags, then the HLS muxer. Grounded on the original
// Python build_command's argument ordering.
func BuildArgs(p CommandParams) []string {
	args := []string{"-hide_banner", "-loglevel", p.LogLevel}

	// 1. Input stage.
	if p.RequestHeaders != "" {
		args = append(args, "-headers", p.RequestHeaders)
	}
	args = append(args, "-ss", formatSeconds(p.StartOffset))
	if p.UseHWAccel && p.isQSV() {
		args = append(args, "-hwaccel", "qsv", "-hwaccel_output_format", "qsv")
	}
	args = append(args, "-i", p.SourceURL)

	// 2. Video stage.
	args = append(args, "-c:v", p.VideoCodec)
	if p.isQSV() {
		args = append(args, "-vf", "vpp_qsv=format=nv12")
	} else {
		args = append(args, "-sc_threshold", "0", "-pix_fmt", "yuv420p")
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.MaxRate != "" {
		args = append(args, "-maxrate", p.MaxRate)
	}
	if p.BufSize != "" {
		args = append(args, "-bufsize", p.BufSize)
	}
	args = append(args, "-g", strconv.Itoa(p.GOPSize), "-keyint_min", strconv.Itoa(p.GOPSize))
	if p.isQSV() {
		args = append(args, "-preset", p.QSVPreset)
	} else if strings.Contains(strings.ToLower(p.VideoCodec), "264") {
		args = append(args, "-preset", p.X264Preset)
	}

	// 3. Audio stage.
	args = append(args, "-c:a", p.AudioCodec)
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if p.AudioChannels > 0 {
		args = append(args, "-ac", strconv.Itoa(p.AudioChannels))
	}
	if p.AudioSampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(p.AudioSampleRate))
	}

	// 4. Common output flags.
	args = append(args,
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-threads", "4",
		"-copyts",
		"-avoid_negative_ts", "disabled",
		"-max_muxing_queue_size", "1024",
		"-max_delay", "5000000",
	)

	// 5. HLS muxer output.
	args = append(args,
		"-f", "hls",
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_time", strconv.Itoa(p.SegmentDuration),
		"-hls_segment_type", "mpegts",
		"-start_number", strconv.Itoa(p.StartNumber),
		"-hls_segment_filename", p.SegmentPattern,
		"-y", p.PlaylistPath,
	)

	return args
}

// formatSeconds renders a float seconds value the way the original passes
// -ss: shortest representation, no fixed precision.
func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// Redacted renders argv as a loggable, space-joined string with the value
// following -headers replaced, since it carries upstream bearer/signature
// credentials.
func Redacted(binary string, args []string) string {
	var b strings.Builder
	b.WriteString(binary)
	for i := 0; i < len(args); i++ {
		b.WriteByte(' ')
		if args[i] == "-headers" && i+1 < len(args) {
			b.WriteString("-headers <headers>")
			i++
			continue
		}
		b.WriteString(args[i])
	}
	return b.String()
}

// String is a convenience for formatting a full command line without
// redaction, used only in contexts that already know not to log it (e.g.
// writing the argv to a local file the server itself owns).
func String(binary string, args []string) string {
	return fmt.Sprintf("%s %s", binary, strings.Join(args, " "))
}
