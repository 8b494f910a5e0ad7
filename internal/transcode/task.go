package transcode

import (
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/hlsd/internal/ffmpeg"
	"github.com/jmylchreest/hlsd/internal/probe"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// neverStartedGrace is how long a task may sit in Starting before it is
// considered timed out, independent of the configured task timeout — a
// worker that never produces its first segment is stuck, not merely slow.
const neverStartedGrace = 300 * time.Second

// Task tracks one on-demand transcode run: its content identity, current
// worker (if any), and the bookkeeping the Manager needs to make seek and
// eviction decisions.
type Task struct {
	mu sync.Mutex

	ID             string
	ContentKey     string // identifies source+variant for reuse across seeks
	SourceURL      string
	FileName       string
	RequestHeaders string

	OutputDir       string
	SegmentDuration int

	ProbedDuration float64 // 0 = not probed / probe failed
	HintDuration   float64 // caller-supplied fallback, 0 = none
	MediaInfo      probe.MediaInfo

	CurrentSegment int // absolute index the worker is currently encoding from
	Status         Status
	Err            error

	Worker *ffmpeg.Worker

	CreatedAt    time.Time
	StartedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  time.Time
	LastAccessAt time.Time
	AccessCount  int
}

// NewTask constructs a task in StatusStarting.
func NewTask(id, contentKey, sourceURL, fileName, requestHeaders, outputDir string, segmentDuration int) *Task {
	now := time.Now()
	return &Task{
		ID:              id,
		ContentKey:      contentKey,
		SourceURL:       sourceURL,
		FileName:        fileName,
		RequestHeaders:  requestHeaders,
		OutputDir:       outputDir,
		SegmentDuration: segmentDuration,
		Status:          StatusStarting,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccessAt:    now,
	}
}

func (t *Task) touch() {
	t.UpdatedAt = time.Now()
}

// MarkStarting resets the task into Starting, used when restarting a worker
// at a new offset.
func (t *Task) MarkStarting(segment int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusStarting
	t.CurrentSegment = segment
	t.Err = nil
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.touch()
}

// MarkRunning transitions Starting -> Running once the worker process has
// been spawned.
func (t *Task) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusRunning
	t.touch()
}

// MarkReady transitions Running -> Ready once the first segment of the
// current run has appeared on disk.
func (t *Task) MarkReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusRunning {
		t.Status = StatusReady
	}
	t.touch()
}

// MarkCompleted transitions to Completed when the worker exits 0.
func (t *Task) MarkCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusCompleted
	t.CompletedAt = time.Now()
	t.touch()
}

// MarkError transitions to Error, recording the cause.
func (t *Task) MarkError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusError
	t.Err = err
	t.CompletedAt = time.Now()
	t.touch()
}

// MarkStopped transitions to Stopped, for operator- or eviction-initiated
// shutdowns rather than a worker-reported exit.
func (t *Task) MarkStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusStopped
	t.CompletedAt = time.Now()
	t.touch()
}

// SetWorker attaches the worker driving the task's current run.
func (t *Task) SetWorker(w *ffmpeg.Worker, currentSegment int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Worker = w
	t.CurrentSegment = currentSegment
}

// WorkerHandle returns the worker driving the task's current run, if any.
func (t *Task) WorkerHandle() *ffmpeg.Worker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Worker
}

// CurrentSegmentValue returns the absolute segment the worker is currently
// encoding from.
func (t *Task) CurrentSegmentValue() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentSegment
}

// SetSourceURL updates the upstream URL, used after a refresh ahead of a
// worker restart.
func (t *Task) SetSourceURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SourceURL = url
}

// SourceURLValue returns the current upstream URL.
func (t *Task) SourceURLValue() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.SourceURL
}

// RecordAccess bumps the access bookkeeping used by idle eviction.
func (t *Task) RecordAccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastAccessAt = time.Now()
	t.AccessCount++
}

// CurrentStatus returns the task's status under lock, for callers (like the
// monitor goroutine) that only have concurrent read access.
func (t *Task) CurrentStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// IsActive reports whether the task has a worker that is still running or
// expected to run (Starting, Running, or Ready).
func (t *Task) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.Status {
	case StatusStarting, StatusRunning, StatusReady:
		return true
	default:
		return false
	}
}

// IsFinished reports whether the task reached a terminal state.
func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.Status {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	default:
		return false
	}
}

// Duration returns the best available duration estimate: probed first,
// then the caller-supplied hint, then 0 (unknown).
func (t *Task) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ProbedDuration > 0 {
		return t.ProbedDuration
	}
	return t.HintDuration
}

// CanSeekDirectly reports whether a seek to targetSegment can be served by
// letting the current worker continue, rather than restarting it: the task
// must not be finished, the target must be at or ahead of the current
// encode position, and within tolerance segments of it.
func (t *Task) CanSeekDirectly(targetSegment int, toleranceSegments int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isFinishedLocked(t.Status) {
		return false
	}
	if targetSegment < t.CurrentSegment {
		return false
	}
	return targetSegment-t.CurrentSegment <= toleranceSegments
}

func isFinishedLocked(s Status) bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	default:
		return false
	}
}

// SegmentForTime returns the absolute segment index containing a wall-clock
// offset.
func (t *Task) SegmentForTime(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds) / t.SegmentDuration
}

// TimeForSegment returns the wall-clock start offset of an absolute segment
// index.
func (t *Task) TimeForSegment(segment int) float64 {
	return float64(segment * t.SegmentDuration)
}

// EstimatedSegmentCount returns ceil(duration/segmentDuration), or 0 if
// duration is unknown.
func (t *Task) EstimatedSegmentCount() int {
	d := t.Duration()
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d / float64(t.SegmentDuration)))
}

// ElapsedTime reports how long the task's current run has been active.
func (t *Task) ElapsedTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartedAt.IsZero() {
		return 0
	}
	return time.Since(t.StartedAt)
}

// IsTimeout reports whether the task has exceeded timeout. A task that
// never left Starting is held to a fixed 5-minute grace period regardless
// of the configured timeout, since a worker that never produces output is
// stuck rather than merely slow.
func (t *Task) IsTimeout(timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartedAt.IsZero() {
		return time.Since(t.CreatedAt) > neverStartedGrace
	}
	return time.Since(t.LastAccessAt) > timeout
}

// IsIdle reports whether a finished task has gone unaccessed long enough to
// be evicted.
func (t *Task) IsIdle(idle time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.LastAccessAt) > idle
}

// Snapshot is an immutable, lock-free view of a Task for status reporting.
type Snapshot struct {
	ID             string    `json:"id"`
	ContentKey     string    `json:"content_key"`
	FileName       string    `json:"file_name"`
	Status         Status    `json:"status"`
	CurrentSegment int       `json:"current_segment"`
	Duration       float64   `json:"duration"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessAt   time.Time `json:"last_access_at"`
	AccessCount    int       `json:"access_count"`
}

// Snapshot captures the task's current state without exposing the mutex or
// worker handle.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		ID:             t.ID,
		ContentKey:     t.ContentKey,
		FileName:       t.FileName,
		Status:         t.Status,
		CurrentSegment: t.CurrentSegment,
		Duration:       t.durationLocked(),
		CreatedAt:      t.CreatedAt,
		LastAccessAt:   t.LastAccessAt,
		AccessCount:    t.AccessCount,
	}
	if t.Err != nil {
		s.Error = t.Err.Error()
	}
	return s
}

func (t *Task) durationLocked() float64 {
	if t.ProbedDuration > 0 {
		return t.ProbedDuration
	}
	return t.HintDuration
}
