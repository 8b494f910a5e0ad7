// Package playlist synthesizes HLS media playlists for tasks whose segments
// may not exist on disk yet. It contains no I/O: callers resolve duration,
// start offset, and start segment before calling in.
package playlist

import (
	"fmt"
	"math"
	"strings"
)

// OpenPlaylistPrimerCount is the fixed number of placeholder #EXTINF entries
// emitted in an open (EVENT) playlist before any segment exists or before
// duration is known. A real HLS client only ever requests the first few; by
// the time it reaches the tail the worker has produced enough segments that
// a fresher playlist (now VOD, with the real duration) will have been served
// instead.
const OpenPlaylistPrimerCount = 100

// BuildVOD renders a closed VOD playlist covering [startSegment,
// startSegment+segmentCount). duration must be > 0; callers fall back to
// BuildOpen when duration is unknown. startTime, if > 0, emits an
// EXT-X-START hint so players seek to the right wall-clock position inside
// the first segment rather than assuming segment 0 starts at time 0.
func BuildVOD(taskID string, segmentDuration int, duration float64, startTime float64, startSegment int, urlTemplate string) string {
	if duration <= 0 {
		return BuildOpen(taskID, segmentDuration, startSegment, urlTemplate)
	}

	segmentCount := int(math.Ceil(duration / float64(segmentDuration)))
	if segmentCount < 1 {
		segmentCount = 1
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentDuration)
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", startSegment)
	if startTime > 0 {
		fmt.Fprintf(&b, "#EXT-X-START:TIME-OFFSET=%.3f\n", startTime)
	}

	for i := 0; i < segmentCount; i++ {
		index := startSegment + i
		extinf := float64(segmentDuration)
		if i == segmentCount-1 {
			extinf = duration - float64(i)*float64(segmentDuration)
		}
		fmt.Fprintf(&b, "#EXTINF:%.6f,nodesc\n", extinf)
		fmt.Fprintf(&b, "%s\n", segmentURL(urlTemplate, index))
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	return b.String()
}

// BuildOpen renders an EVENT playlist that primes OpenPlaylistPrimerCount
// segment entries at the nominal segment duration and carries no
// EXT-X-ENDLIST, for use before any duration estimate is available.
func BuildOpen(taskID string, segmentDuration int, startSegment int, urlTemplate string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentDuration)
	b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", startSegment)

	for i := 0; i < OpenPlaylistPrimerCount; i++ {
		index := startSegment + i
		fmt.Fprintf(&b, "#EXTINF:%.6f,nodesc\n", float64(segmentDuration))
		fmt.Fprintf(&b, "%s\n", segmentURL(urlTemplate, index))
	}

	return b.String()
}

// BuildEmpty renders a minimal playlist for a task with no known or
// estimable duration and no segments yet — an open playlist with zero
// primer entries, so a player polls rather than gives up.
func BuildEmpty(segmentDuration int, startSegment int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentDuration)
	b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", startSegment)
	return b.String()
}

// SegmentCount returns the number of segments a duration spans at
// segmentDuration seconds each.
func SegmentCount(duration float64, segmentDuration int) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Ceil(duration / float64(segmentDuration)))
}

// TimeToSegment converts a wall-clock offset into the absolute segment
// index that contains it.
func TimeToSegment(t float64, segmentDuration int) int {
	if t <= 0 {
		return 0
	}
	return int(t) / segmentDuration
}

// SegmentToTime converts an absolute segment index back to its starting
// wall-clock offset.
func SegmentToTime(segment int, segmentDuration int) float64 {
	return float64(segment * segmentDuration)
}

func segmentURL(urlTemplate string, index int) string {
	return fmt.Sprintf(urlTemplate, index)
}
