package transcode

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsd/internal/config"
)

// writeFakeWorker writes a POSIX shell script standing in for the
// transcoding binary: it scans argv for -hls_segment_filename, writes a
// non-empty segment file for segment 0 of the pattern, then behaves according to
// mode ("exit0", "exit1", or "sleep").
func writeFakeWorker(t *testing.T, mode string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeworker.sh")
	script := `#!/bin/sh
pattern=""
while [ $# -gt 0 ]; do
  case "$1" in
    -hls_segment_filename) pattern="$2"; shift 2 ;;
    *) shift ;;
  esac
done
if [ -n "$pattern" ]; then
  segfile=$(printf "$pattern" 0)
  printf 'x' > "$segfile"
fi
case "` + mode + `" in
  exit0) exit 0 ;;
  exit1) exit 1 ;;
  sleep) sleep 30 ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestManager(t *testing.T, workerMode string) *Manager {
	t.Helper()
	cfg := config.TranscodeConfig{
		WorkDir:            t.TempDir(),
		SegmentDuration:    3,
		SeekTolerance:      24,
		GapThresholdSegs:   10,
		UseHWAccel:         false,
		VideoEncoder:       "h264_qsv",
		VideoEncoderSW:     "libx264",
		AudioEncoder:       "aac",
		GOPSize:            60,
		QSVPreset:          "7",
		X264Preset:         "medium",
		LogLevel:           "warning",
		MaxConcurrentTasks: 2,
		TaskTimeout:        3600,
		CleanupInterval:    3600,
		ProbeTimeout:       1,
		FFmpegPath:         writeFakeWorker(t, workerMode),
		FFprobePath:        "/nonexistent-ffprobe-binary",
	}
	m := NewManager(cfg, nil, slog.Default())
	t.Cleanup(m.Stop)
	return m
}

func TestManager_GetOrCreateTask_CompletesWithHintDuration(t *testing.T) {
	m := newTestManager(t, "exit0")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{
		ContentKey:   "movie1",
		SourceURL:    "https://example.com/movie1.mkv",
		FileName:     "movie1.mkv",
		HintDuration: 30,
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	require.Eventually(t, func() bool {
		return task.IsFinished()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, float64(30), task.Duration())
}

func TestManager_GetOrCreateTask_WorkerErrorMarksTaskError(t *testing.T) {
	m := newTestManager(t, "exit1")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{
		ContentKey: "movie2",
		SourceURL:  "https://example.com/movie2.mkv",
		FileName:   "movie2.mkv",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return task.IsFinished()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, StatusError, task.Status)
	assert.ErrorIs(t, task.Err, ErrWorkerExitedNonZero)
}

func TestManager_GetOrCreateTask_ReusesActiveTaskWithinTolerance(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	first, err := m.GetOrCreateTask(ctx, NewTaskParams{
		ContentKey: "movie3",
		SourceURL:  "https://example.com/movie3.mkv",
		FileName:   "movie3.mkv",
		HintDuration: 120,
	})
	require.NoError(t, err)

	first.mu.Lock()
	first.CurrentSegment = 5
	first.mu.Unlock()

	second, err := m.GetOrCreateTask(ctx, NewTaskParams{
		ContentKey:   "movie3",
		SourceURL:    "https://example.com/movie3.mkv",
		FileName:     "movie3.mkv",
		HintDuration: 120,
		SeekSeconds:  18, // segment 6, within 8-segment tolerance of segment 5
	})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestManager_CapacityReached(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	_, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "a", SourceURL: "https://x/a.mkv", FileName: "a.mkv"})
	require.NoError(t, err)
	_, err = m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "b", SourceURL: "https://x/b.mkv", FileName: "b.mkv"})
	require.NoError(t, err)

	_, err = m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "c", SourceURL: "https://x/c.mkv", FileName: "c.mkv"})
	assert.ErrorIs(t, err, ErrCapacityReached)
}

func TestManager_SegmentExists(t *testing.T) {
	m := newTestManager(t, "exit0")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie4", SourceURL: "https://x/movie4.mkv", FileName: "movie4.mkv", HintDuration: 9})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.SegmentExists(task, 0)
	}, 5*time.Second, 20*time.Millisecond)

	assert.False(t, m.SegmentExists(task, 999))
}

func TestManager_WaitForSegment_TimesOutWhenNeverProduced(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie5", SourceURL: "https://x/movie5.mkv", FileName: "movie5.mkv"})
	require.NoError(t, err)

	err = m.WaitForSegment(ctx, task, 999, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestManager_WaitForSegment_ReturnsOnceProduced(t *testing.T) {
	m := newTestManager(t, "exit0")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie6", SourceURL: "https://x/movie6.mkv", FileName: "movie6.mkv", HintDuration: 9})
	require.NoError(t, err)

	err = m.WaitForSegment(ctx, task, 0, 5*time.Second)
	assert.NoError(t, err)
}

func TestManager_GetPlaylist_ClosedWhenDurationKnown(t *testing.T) {
	m := newTestManager(t, "exit0")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie7", SourceURL: "https://x/movie7.mkv", FileName: "movie7.mkv", HintDuration: 9})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.IsFinished() }, 5*time.Second, 20*time.Millisecond)

	out := m.GetPlaylist(task, 0, "/api/segment/"+task.ID+"/%d")
	assert.Contains(t, out, "#EXT-X-ENDLIST")
}

func TestManager_DeleteTask_RemovesOutputDir(t *testing.T) {
	m := newTestManager(t, "exit0")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie8", SourceURL: "https://x/movie8.mkv", FileName: "movie8.mkv"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.IsFinished() }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, m.DeleteTask(task.ID))
	_, err = os.Stat(task.OutputDir)
	assert.True(t, os.IsNotExist(err))

	_, err = m.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_StatusSummary(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	_, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie9", SourceURL: "https://x/movie9.mkv", FileName: "movie9.mkv"})
	require.NoError(t, err)

	summary := m.StatusSummary()
	assert.Equal(t, 1, summary.TotalTasks)
	assert.Equal(t, 1, summary.ActiveTasks)
	assert.Equal(t, 2, summary.MaxConcurrent)
}

func TestManager_EnsureTranscodingForSegment_TrueWhenWorkerOnTrack(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie10", SourceURL: "https://x/movie10.mkv", FileName: "movie10.mkv"})
	require.NoError(t, err)

	ok, err := m.EnsureTranscodingForSegment(ctx, task, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_EnsureTranscodingForSegment_DeclinesWithoutRestartWhenTooFarBehind(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie11", SourceURL: "https://x/movie11.mkv", FileName: "movie11.mkv"})
	require.NoError(t, err)

	task.mu.Lock()
	task.CurrentSegment = 200
	task.mu.Unlock()
	worker := task.WorkerHandle()

	ok, err := m.EnsureTranscodingForSegment(ctx, task, 5)
	assert.ErrorIs(t, err, ErrSegmentUnavailable)
	assert.False(t, ok)
	// the worker, far ahead of the requested segment, must be left running, not restarted.
	assert.Same(t, worker, task.WorkerHandle())
}

func TestManager_EnsureTranscodingForSegment_RestartsWhenGapWithinThreshold(t *testing.T) {
	m := newTestManager(t, "sleep")
	ctx := context.Background()

	task, err := m.GetOrCreateTask(ctx, NewTaskParams{ContentKey: "movie12", SourceURL: "https://x/movie12.mkv", FileName: "movie12.mkv"})
	require.NoError(t, err)

	task.mu.Lock()
	task.CurrentSegment = 15
	task.mu.Unlock()
	worker := task.WorkerHandle()

	ok, err := m.EnsureTranscodingForSegment(ctx, task, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	// gap of 10 is within the default gap_threshold_segments, so the
	// worker must have been restarted at the requested segment.
	assert.NotSame(t, worker, task.WorkerHandle())
	assert.Equal(t, 5, task.CurrentSegmentValue())
}

func TestTaskID_IsDeterministicAndPrefixed(t *testing.T) {
	id1 := TaskID("content-a")
	id2 := TaskID("content-a")
	id3 := TaskID("content-b")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, len(id1) == len("task_")+16)
	assert.Equal(t, "task_", id1[:5])
}
