// Package segment performs deep verification of produced MPEG-TS segments,
// beyond the Manager's existence-and-nonzero-size check: it demuxes the
// file far enough to confirm it carries a program map and at least one
// elementary stream packet, catching segments ffmpeg truncated mid-write.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/asticode/go-astits"
)

// ErrNoProgramMap is returned when a segment never yields a PMT, meaning
// the demuxer could not identify any stream within it.
var ErrNoProgramMap = errors.New("segment carries no program map table")

// ErrNoElementaryStream is returned when a segment has a program map but no
// PES packets, meaning it is a valid but empty TS container.
var ErrNoElementaryStream = errors.New("segment carries no elementary stream data")

// Verification is the result of inspecting a single segment file.
type Verification struct {
	HasProgramMap     bool
	ElementaryStreams int
	PacketsRead       int
}

// Verify demuxes path far enough to confirm it is a well-formed,
// non-empty MPEG-TS segment. It reads at most maxPackets PES/PSI units
// before concluding the segment is healthy, so a long segment does not
// require a full scan.
func Verify(ctx context.Context, path string, maxPackets int) (Verification, error) {
	f, err := os.Open(path)
	if err != nil {
		return Verification{}, fmt.Errorf("opening segment %s: %w", path, err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, f)

	var v Verification
	for maxPackets <= 0 || v.PacketsRead < maxPackets {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return v, fmt.Errorf("demuxing segment %s: %w", path, err)
		}
		v.PacketsRead++

		if data.PMT != nil {
			v.HasProgramMap = true
		}
		if data.PES != nil {
			v.ElementaryStreams++
		}
	}

	if !v.HasProgramMap {
		return v, ErrNoProgramMap
	}
	if v.ElementaryStreams == 0 {
		return v, ErrNoElementaryStream
	}
	return v, nil
}
