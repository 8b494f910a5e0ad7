// Package transcode implements the on-demand HLS transcoding orchestrator:
// it owns the task table, decides how a seek maps onto a worker action, and
// synthesizes playlists ahead of the segments a worker has actually
// produced.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/hlsd/internal/config"
	"github.com/jmylchreest/hlsd/internal/ffmpeg"
	"github.com/jmylchreest/hlsd/internal/playlist"
	"github.com/jmylchreest/hlsd/internal/probe"
)

// defaultMaxSegmentSearch bounds the binary search FindLastExistingSegment
// performs, mirroring the bound the probe-less original applied to avoid
// scanning forever against a runaway seek target.
const defaultMaxSegmentSearch = 10000

// defaultWaitPollInterval is how often WaitForSegment re-checks the
// filesystem while blocked.
const defaultWaitPollInterval = 100 * time.Millisecond

// defaultWaitTimeout bounds how long WaitForSegment blocks before giving up.
const defaultWaitTimeout = 120 * time.Second

// URLRefresher refreshes a short-lived upstream source URL before a worker
// restart. Implementations are expected to be best-effort: a refresh
// failure is logged and the existing URL is retried rather than failing the
// seek outright.
type URLRefresher interface {
	RefreshURL(ctx context.Context, contentKey, currentURL string) (string, error)
}

// noopRefresher is used when the caller has no URL-refresh mechanism; it
// always returns the URL unchanged.
type noopRefresher struct{}

func (noopRefresher) RefreshURL(_ context.Context, _ string, currentURL string) (string, error) {
	return currentURL, nil
}

// NewTaskParams describes a request to obtain a task for a piece of
// content, either reusing an active one or spawning a new worker.
type NewTaskParams struct {
	ContentKey     string
	SourceURL      string
	FileName       string
	RequestHeaders string
	HintDuration   float64 // used if probing fails or is skipped
	SeekSeconds    float64 // initial playback position, 0 = from the start
}

// Manager owns every active and recently-finished transcode task. Its mutex
// guards the task table; each Task guards its own state with its own mutex,
// which is what per-task monitor goroutines go through when they update a
// task.
type Manager struct {
	cfg      config.TranscodeConfig
	prober   *probe.Prober
	refresh  URLRefresher
	logger   *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewManager constructs a Manager. refresher may be nil, in which case URLs
// are never refreshed (suitable for sources with long-lived signed URLs).
func NewManager(cfg config.TranscodeConfig, refresher URLRefresher, logger *slog.Logger) *Manager {
	if refresher == nil {
		refresher = noopRefresher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:         cfg,
		prober:      probe.NewProber(cfg.FFprobePath),
		refresh:     refresher,
		logger:      logger.With("component", "transcode.manager"),
		tasks:       make(map[string]*Task),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Stop halts the background cleanup loop and terminates every active
// worker. It does not delete task state or on-disk segments.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone

	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		if t.IsActive() {
			m.stopWorker(t)
		}
	}
}

// GetTask returns a task by id, recording the access.
func (m *Manager) GetTask(taskID string) (*Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	t.RecordAccess()
	return t, nil
}

// GetOrCreateTask returns the task serving params.ContentKey, reusing an
// active task whose worker can directly reach the requested seek position
// without restarting, and otherwise spawning a new one. It enforces
// MaxConcurrentTasks against new spawns only — reusing an existing task
// never counts against capacity.
func (m *Manager) GetOrCreateTask(ctx context.Context, params NewTaskParams) (*Task, error) {
	taskID := TaskID(params.ContentKey)

	m.mu.Lock()
	existing, ok := m.tasks[taskID]
	m.mu.Unlock()

	targetSegment := int(params.SeekSeconds) / m.cfg.SegmentDuration

	if ok && existing.CanSeekDirectly(targetSegment, m.toleranceSegments()) {
		existing.RecordAccess()
		return existing, nil
	}
	if ok && existing.IsActive() {
		// Same content, not reachable directly: treat as a seek against the
		// existing task rather than spawning a duplicate worker.
		if err := m.Seek(ctx, taskID, params.SeekSeconds); err != nil {
			return nil, err
		}
		m.mu.Lock()
		t := m.tasks[taskID]
		m.mu.Unlock()
		return t, nil
	}

	return m.createTask(ctx, taskID, params)
}

func (m *Manager) toleranceSegments() int {
	return m.cfg.SeekTolerance / m.cfg.SegmentDuration
}

func (m *Manager) createTask(ctx context.Context, taskID string, params NewTaskParams) (*Task, error) {
	m.mu.Lock()
	if m.activeCountLocked() >= m.cfg.MaxConcurrentTasks {
		m.mu.Unlock()
		return nil, ErrCapacityReached
	}
	m.mu.Unlock()

	outputDir := m.cfg.OutputDir(params.ContentKey)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", outputDir, err)
	}

	t := NewTask(taskID, params.ContentKey, params.SourceURL, params.FileName, params.RequestHeaders, outputDir, m.cfg.SegmentDuration)
	t.HintDuration = params.HintDuration

	info, err := m.prober.Probe(ctx, params.SourceURL, params.RequestHeaders, time.Duration(m.cfg.ProbeTimeout)*time.Second)
	if err != nil {
		if params.HintDuration <= 0 {
			m.logger.Warn("probe failed and no duration hint available", "content_key", params.ContentKey, "error", err)
		} else {
			m.logger.Info("probe failed, falling back to hint duration", "content_key", params.ContentKey, "hint_duration", params.HintDuration)
		}
	} else {
		t.MediaInfo = info
		t.ProbedDuration = info.Duration
	}

	m.mu.Lock()
	m.tasks[taskID] = t
	m.mu.Unlock()

	startSegment := t.SegmentForTime(params.SeekSeconds)
	if err := m.startWorker(ctx, t, startSegment, params.SeekSeconds); err != nil {
		t.MarkError(err)
		return t, err
	}

	return t, nil
}

// startWorker builds the argv, spawns the worker, and launches its monitor
// goroutine. The caller must have already inserted t into m.tasks.
func (m *Manager) startWorker(ctx context.Context, t *Task, startSegment int, startOffset float64) error {
	t.MarkStarting(startSegment)

	legacy := ffmpeg.ShouldUseLegacyDecode(t.MediaInfo.VideoCodec, t.MediaInfo.ContainerFormat, t.FileName)
	useHWAccel := m.cfg.UseHWAccel && !legacy
	videoCodec := m.cfg.EffectiveVideoEncoder(useHWAccel)

	runID := uuid.NewString()
	params := ffmpeg.CommandParams{
		SourceURL:       t.SourceURLValue(),
		RequestHeaders:  t.RequestHeaders,
		StartOffset:     startOffset,
		StartNumber:     startSegment,
		UseHWAccel:      useHWAccel,
		VideoCodec:      videoCodec,
		AudioCodec:      m.cfg.AudioEncoder,
		VideoBitrate:    m.cfg.VideoBitrate,
		MaxRate:         m.cfg.MaxRate,
		BufSize:         m.cfg.BufSize,
		GOPSize:         m.cfg.GOPSize,
		AudioBitrate:    m.cfg.AudioBitrate,
		AudioChannels:   m.cfg.AudioChannels,
		AudioSampleRate: m.cfg.AudioSampleRate,
		QSVPreset:       m.cfg.QSVPreset,
		X264Preset:      m.cfg.X264Preset,
		LogLevel:        m.cfg.LogLevel,
		SegmentDuration: m.cfg.SegmentDuration,
		SegmentPattern:  m.cfg.SegmentPattern(t.ContentKey),
		PlaylistPath:    m.cfg.InternalPlaylistPath(t.ContentKey),
	}

	args := ffmpeg.BuildArgs(params)
	worker := ffmpeg.NewWorker(m.cfg.FFmpegPath, args)

	t.SetWorker(worker, startSegment)

	logPath := m.cfg.TranscodeLogPath(t.ContentKey)
	m.logger.Info("starting worker",
		"task_id", t.ID, "run_id", runID, "start_segment", startSegment,
		"command", worker.Redacted())

	if err := worker.Start(ctx, logPath); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	t.MarkRunning()
	go m.monitorTask(t, worker, startSegment, runID)

	return nil
}

// monitorTask polls the worker's exit and the appearance of the run's first
// segment, promoting the task to Ready as soon as playback can begin.
func (m *Manager) monitorTask(t *Task, worker *ffmpeg.Worker, startSegment int, runID string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	firstSegmentPath := m.cfg.SegmentPath(t.ContentKey, startSegment)

	for {
		select {
		case <-worker.Done():
			if err := worker.ExitError(); err != nil {
				t.MarkError(fmt.Errorf("%w: %w", ErrWorkerExitedNonZero, err))
				m.logger.Warn("worker exited with error", "task_id", t.ID, "run_id", runID, "error", err)
			} else {
				t.MarkCompleted()
				m.logger.Info("worker completed", "task_id", t.ID, "run_id", runID)
			}
			return
		case <-ticker.C:
			if t.CurrentStatus() == StatusRunning && segmentExists(firstSegmentPath) {
				t.MarkReady()
			}
		}
	}
}

// stopWorker stops a task's worker process, if any, and marks it Stopped.
func (m *Manager) stopWorker(t *Task) {
	w := t.WorkerHandle()
	if w != nil {
		if err := w.Stop(); err != nil {
			m.logger.Warn("error stopping worker", "task_id", t.ID, "error", err)
		}
	}
	t.MarkStopped()
}

// Seek translates a client seek into a worker action. A target within the
// tolerance window of the current encode position needs nothing. A target
// segment already on disk leaves a running worker alone, and restarts an
// inactive task at the first missing segment after the run of existing
// segments that starts at the target. Any other target restarts the worker
// at the target segment.
func (m *Manager) Seek(ctx context.Context, taskID string, targetSeconds float64) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t.RecordAccess()

	targetSegment := t.SegmentForTime(targetSeconds)

	if t.CanSeekDirectly(targetSegment, m.toleranceSegments()) {
		return nil
	}

	if m.SegmentExists(t, targetSegment) {
		if t.IsActive() {
			return nil
		}
		next := targetSegment + 1
		for next < defaultMaxSegmentSearch && m.SegmentExists(t, next) {
			next++
		}
		return m.restartAt(ctx, t, next)
	}

	return m.restartAt(ctx, t, targetSegment)
}

func (m *Manager) restartAt(ctx context.Context, t *Task, segment int) error {
	if t.IsActive() {
		m.stopWorker(t)
	}

	refreshed, err := m.refresh.RefreshURL(ctx, t.ContentKey, t.SourceURLValue())
	if err != nil {
		m.logger.Warn("url refresh failed, reusing existing url", "task_id", t.ID, "error", err)
	} else {
		t.SetSourceURL(refreshed)
	}

	offset := t.TimeForSegment(segment)
	return m.startWorker(ctx, t, segment, offset)
}

// GetSegmentPath returns the on-disk path of a segment file for a task.
func (m *Manager) GetSegmentPath(t *Task, segmentID int) string {
	return m.cfg.SegmentPath(t.ContentKey, segmentID)
}

// SegmentExists reports whether a non-empty segment file exists on disk.
func (m *Manager) SegmentExists(t *Task, segmentID int) bool {
	return segmentExists(m.GetSegmentPath(t, segmentID))
}

func segmentExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// FindLastExistingSegment binary-searches segment indices 0..maxSegment for
// the highest one that exists, returning -1 if none is found. The search
// assumes existing segments form a contiguous run from 0, so a segment past
// a hole may be missed. A maxSegment of 0 or less, or above
// defaultMaxSegmentSearch, searches up to defaultMaxSegmentSearch.
func (m *Manager) FindLastExistingSegment(t *Task, maxSegment int) int {
	if maxSegment <= 0 || maxSegment > defaultMaxSegmentSearch {
		maxSegment = defaultMaxSegmentSearch
	}
	lo, hi, best := 0, maxSegment, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if m.SegmentExists(t, mid) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// EnsureTranscodingForSegment reports whether segmentID will eventually be
// produced: it already exists, the active worker started at or before it
// and is on track to reach it, the active worker started at most
// GapThresholdSegs past it and was just restarted at segmentID, or the task
// was not active and was just restarted at segmentID. When the active
// worker started more than GapThresholdSegs past segmentID, the worker is
// left alone and the request is declined with ErrSegmentUnavailable rather
// than thrashing the worker for what is effectively a new start. A failed
// restart also returns false, with the restart error.
func (m *Manager) EnsureTranscodingForSegment(ctx context.Context, t *Task, segmentID int) (bool, error) {
	if m.SegmentExists(t, segmentID) {
		return true, nil
	}
	if t.IsActive() {
		current := t.CurrentSegmentValue()
		if current <= segmentID {
			return true, nil // will reach it in due course
		}
		if current-segmentID <= m.cfg.GapThresholdSegs {
			if err := m.restartAt(ctx, t, segmentID); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, ErrSegmentUnavailable
	}
	if err := m.restartAt(ctx, t, segmentID); err != nil {
		return false, err
	}
	return true, nil
}

// WaitForSegment blocks until segmentID is complete, the task reaches a
// terminal state without producing it, or timeout elapses. While the worker
// is active, segmentID counts as complete only once segmentID+1 also exists,
// since the worker may still be writing segmentID; once the task has
// finished, an existing non-empty segmentID is complete.
func (m *Manager) WaitForSegment(ctx context.Context, t *Task, segmentID int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(defaultWaitPollInterval)
	defer ticker.Stop()

	for {
		if t.IsFinished() {
			if m.SegmentExists(t, segmentID) {
				return nil
			}
			return ErrSegmentUnavailable
		}
		if m.SegmentExists(t, segmentID) && m.SegmentExists(t, segmentID+1) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetPlaylist synthesizes a playlist for a task at the given request time,
// choosing VOD vs. open form based on the best available duration and
// finding the nearest already-produced segment to start the sequence at
// when the exact target segment does not exist yet.
func (m *Manager) GetPlaylist(t *Task, seekSeconds float64, urlTemplate string) string {
	duration := m.resolveDuration(t)
	targetSegment := t.SegmentForTime(seekSeconds)

	startSegment := targetSegment
	if !m.SegmentExists(t, targetSegment) {
		if found := m.FindLastExistingSegment(t, targetSegment); found >= 0 {
			startSegment = found
		}
	}
	startTime := t.TimeForSegment(startSegment)

	if duration <= 0 {
		return playlist.BuildOpen(t.ID, t.SegmentDuration, startSegment, urlTemplate)
	}
	return playlist.BuildVOD(t.ID, t.SegmentDuration, duration, startTime, startSegment, urlTemplate)
}

// resolveDuration implements the duration priority chain: probed, then
// hint, then an estimate derived from the highest segment produced so far
// (padded 10% to avoid truncating a still-growing stream), then 0.
func (m *Manager) resolveDuration(t *Task) float64 {
	if d := t.Duration(); d > 0 {
		return d
	}
	last := m.FindLastExistingSegment(t, defaultMaxSegmentSearch)
	if last < 0 {
		return 0
	}
	estimate := t.TimeForSegment(last+1) * 1.1
	return estimate
}

// GetAllTasks returns a snapshot of every known task.
func (m *Manager) GetAllTasks() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// StatusSummary reports aggregate capacity usage.
type StatusSummary struct {
	TotalTasks     int `json:"total_tasks"`
	ActiveTasks    int `json:"active_tasks"`
	MaxConcurrent  int `json:"max_concurrent_tasks"`
}

// StatusSummary returns the current task counts against configured
// capacity.
func (m *Manager) StatusSummary() StatusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusSummary{
		TotalTasks:    len(m.tasks),
		ActiveTasks:   m.activeCountLocked(),
		MaxConcurrent: m.cfg.MaxConcurrentTasks,
	}
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, t := range m.tasks {
		if t.IsActive() {
			n++
		}
	}
	return n
}

// DeleteTask stops a task's worker (if any) and removes its on-disk
// segment cache.
func (m *Manager) DeleteTask(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if ok {
		delete(m.tasks, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if t.IsActive() {
		m.stopWorker(t)
	}
	return os.RemoveAll(filepath.Clean(t.OutputDir))
}

// cleanupLoop periodically stops timed-out active tasks and removes
// finished tasks that have gone idle, freeing their segment cache.
func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)
	interval := time.Duration(m.cfg.CleanupInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	timeout := time.Duration(m.cfg.TaskTimeout) * time.Second

	for _, t := range tasks {
		if t.IsActive() && t.IsTimeout(timeout) {
			m.logger.Info("evicting timed-out task", "task_id", t.ID)
			m.stopWorker(t)
			continue
		}
		if t.IsFinished() && t.IsIdle(timeout) {
			m.logger.Info("evicting idle finished task", "task_id", t.ID)
			if err := m.DeleteTask(t.ID); err != nil {
				m.logger.Warn("error removing idle task", "task_id", t.ID, "error", err)
			}
		}
	}
}
