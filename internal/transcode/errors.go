package transcode

import "errors"

var (
	// ErrNotFound is returned when a task id has no matching task.
	ErrNotFound = errors.New("task not found")

	// ErrCapacityReached is returned by GetOrCreateTask when the number of
	// active tasks already equals the configured concurrency limit and no
	// existing task can serve the request.
	ErrCapacityReached = errors.New("max concurrent tasks reached")

	// ErrProbeFailed names a probe failure with no hint duration to fall
	// back on. The Manager does not return it: it logs the failure and
	// continues with an open-ended playlist.
	ErrProbeFailed = errors.New("probe failed and no duration hint available")

	// ErrSpawnFailed is returned when the worker process could not be
	// started.
	ErrSpawnFailed = errors.New("failed to spawn worker process")

	// ErrWorkerExitedNonZero marks a task Error after its worker process
	// exited with a non-zero status.
	ErrWorkerExitedNonZero = errors.New("worker process exited with non-zero status")

	// ErrSegmentUnavailable is returned when a requested segment cannot be
	// produced: the task is finished and the file still does not exist, or
	// the active worker started more than GapThresholdSegs past it.
	ErrSegmentUnavailable = errors.New("segment unavailable")

	// ErrWaitTimeout is returned by WaitForSegment when the deadline elapses
	// before the segment is complete (its successor exists while the worker
	// runs, or it exists once the task has finished).
	ErrWaitTimeout = errors.New("timed out waiting for segment")

	// ErrTaskFinished names an operation that needs an active worker on a
	// task that has already completed, errored, or been stopped. No Manager
	// method returns it.
	ErrTaskFinished = errors.New("task already finished")
)
