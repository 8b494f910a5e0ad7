// Package probe invokes an FFprobe-compatible binary against a source URL
// and extracts the media metadata the orchestrator needs: duration,
// container, and primary codecs.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// rawFormat mirrors the subset of ffprobe's -show_format JSON this package
// reads.
type rawFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// rawStream mirrors the subset of ffprobe's -show_streams JSON this package
// reads.
type rawStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	SampleRate string `json:"sample_rate"`
	BitRate    string `json:"bit_rate"`
}

type rawProbeResult struct {
	Format  rawFormat   `json:"format"`
	Streams []rawStream `json:"streams"`
}

// MediaInfo is the simplified view of a probed source that the rest of the
// orchestrator consumes.
type MediaInfo struct {
	Duration        float64 // seconds, 0 = unknown
	ContainerFormat string
	VideoCodec      string
	VideoWidth      int
	VideoHeight     int
	AudioCodec      string
	AudioChannels   int
	AudioSampleRate int
}

// Prober runs an FFprobe-compatible binary.
type Prober struct {
	Path string
}

// NewProber constructs a Prober pointed at the given binary path.
func NewProber(path string) *Prober {
	return &Prober{Path: path}
}

// Probe invokes the probing tool on sourceURL and returns its media
// metadata. headers, if non-empty, is passed through as an HTTP headers
// blob (the same opaque string Task.RequestHeaders carries). A non-zero
// exit, a timeout, or a JSON parse failure all return an error; the caller
// treats that as "duration unknown", never as a fatal condition.
func (p *Prober) Probe(ctx context.Context, sourceURL, headers string, timeout time.Duration) (MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if headers != "" {
		args = append(args, "-headers", headers)
	}
	args = append(args, "-show_format", "-show_streams", "-print_format", "json", sourceURL)

	cmd := exec.CommandContext(ctx, p.Path, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return MediaInfo{}, fmt.Errorf("probe timeout after %s: %w", timeout, ctx.Err())
		}
		return MediaInfo{}, fmt.Errorf("probe failed: %w", err)
	}

	var raw rawProbeResult
	if err := json.Unmarshal(output, &raw); err != nil {
		return MediaInfo{}, fmt.Errorf("parsing probe output: %w", err)
	}

	return parse(raw), nil
}

func parse(raw rawProbeResult) MediaInfo {
	info := MediaInfo{ContainerFormat: raw.Format.FormatName}

	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.VideoWidth = s.Width
				info.VideoHeight = s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
				info.AudioChannels = s.Channels
				if sr, err := strconv.Atoi(s.SampleRate); err == nil {
					info.AudioSampleRate = sr
				}
			}
		}
	}

	return info
}

// supportedVideoCodecs and supportedAudioCodecs are the codecs that need no
// transcoding to play back natively in an HLS client.
var (
	supportedVideoCodecs = map[string]bool{"h264": true, "hevc": true, "h265": true}
	supportedAudioCodecs = map[string]bool{"aac": true, "mp3": true, "opus": true, "vorbis": true}
	legacyContainerHints = []string{"avi", "wmv", "asf", "matroska", "mkv", "flv", "rm"}
	legacyExtensions     = []string{".avi", ".mkv", ".wmv", ".rmvb", ".flv"}
)

// ShouldTranscode returns the reasons, if any, that a source is not
// natively HLS-compatible. It is diagnostic only — the orchestrator core
// always transcodes regardless of this result (§4.2). Nothing in the
// orchestrator consumes the list: the decode path is chosen by
// ffmpeg.ShouldUseLegacyDecode, and no HTTP endpoint reports these reasons.
func ShouldTranscode(info MediaInfo, fileName string) []string {
	var reasons []string

	videoCodec := strings.ToLower(info.VideoCodec)
	switch {
	case videoCodec == "":
		reasons = append(reasons, "no_video_codec")
	case !supportedVideoCodecs[videoCodec]:
		reasons = append(reasons, "unsupported_codec:"+videoCodec)
	}

	if audioCodec := strings.ToLower(info.AudioCodec); audioCodec != "" && !supportedAudioCodecs[audioCodec] {
		reasons = append(reasons, "unsupported_audio_codec:"+audioCodec)
	}

	format := strings.ToLower(info.ContainerFormat)
	switch {
	case strings.Contains(format, "matroska") || strings.Contains(format, "mkv"):
		reasons = append(reasons, "mkv_container")
	case strings.Contains(format, "avi"):
		reasons = append(reasons, "avi_container")
	}

	lowerName := strings.ToLower(fileName)
	for _, ext := range legacyExtensions {
		if strings.HasSuffix(lowerName, ext) {
			reasons = append(reasons, "legacy_container")
			break
		}
	}

	return reasons
}
