package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/hlsd/internal/transcode"
)

// registerStreamRoutes wires the binary-response routes a plain HTTP client
// (an HLS player) hits directly: playlist and segment bytes. These are
// chi handlers, not huma operations, since huma is built around
// request/response schemas rather than arbitrary byte streams.
func registerStreamRoutes(r chi.Router, manager *transcode.Manager, logger *slog.Logger) {
	r.Get("/api/transcode/stream/{task_id}/playlist.m3u8", func(w http.ResponseWriter, req *http.Request) {
		taskID := chi.URLParam(req, "task_id")
		seek := parseSeekParam(req)

		task, err := manager.GetTask(taskID)
		if err != nil {
			writeTaskError(w, err)
			return
		}

		urlTemplate := fmt.Sprintf("/api/transcode/stream/%s/segment/%%d.ts", taskID)
		body := manager.GetPlaylist(task, seek, urlTemplate)

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(body))
	})

	r.Get("/api/transcode/stream/{task_id}/segment/{index}.ts", func(w http.ResponseWriter, req *http.Request) {
		taskID := chi.URLParam(req, "task_id")
		index, err := strconv.Atoi(chi.URLParam(req, "index"))
		if err != nil {
			http.Error(w, "invalid segment index", http.StatusBadRequest)
			return
		}

		task, err := manager.GetTask(taskID)
		if err != nil {
			writeTaskError(w, err)
			return
		}

		ctx := req.Context()
		willProduce, err := manager.EnsureTranscodingForSegment(ctx, task, index)
		if !willProduce {
			if err == nil {
				err = transcode.ErrSegmentUnavailable
			}
			logger.Warn("ensure transcoding declined", "task_id", taskID, "segment", index, "error", err)
			writeTaskError(w, err)
			return
		}

		if err := manager.WaitForSegment(ctx, task, index, 0); err != nil {
			writeTaskError(w, err)
			return
		}

		http.ServeFile(w, req, manager.GetSegmentPath(task, index))
	})
}

func parseSeekParam(req *http.Request) float64 {
	raw := req.URL.Query().Get("t")
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transcode.ErrNotFound):
		http.Error(w, "task not found", http.StatusNotFound)
	case errors.Is(err, transcode.ErrSegmentUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, transcode.ErrWaitTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// CreateTaskInput is the huma request body for starting or resuming a
// transcode task.
type CreateTaskInput struct {
	Body struct {
		ContentKey     string  `json:"content_key" doc:"Stable identifier for the source+variant being played"`
		SourceURL      string  `json:"source_url" doc:"Upstream media URL"`
		FileName       string  `json:"file_name,omitempty" doc:"Original filename, used for container/extension hints"`
		RequestHeaders string  `json:"request_headers,omitempty" doc:"Opaque HTTP headers blob forwarded to the probe and worker"`
		HintDuration   float64 `json:"hint_duration,omitempty" doc:"Fallback duration in seconds if probing fails"`
		SeekSeconds    float64 `json:"seek_seconds,omitempty" doc:"Initial playback position in seconds"`
	}
}

// TaskOutput wraps a task snapshot for huma responses.
type TaskOutput struct {
	Body transcode.Snapshot
}

// TaskListOutput wraps a list of task snapshots.
type TaskListOutput struct {
	Body []transcode.Snapshot
}

// StatusOutput wraps the capacity summary.
type StatusOutput struct {
	Body transcode.StatusSummary
}

// registerStatusOperations registers the JSON-documented huma operations:
// task creation/lookup, task listing, and the capacity summary.
func registerStatusOperations(api huma.API, manager *transcode.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/api/transcode/tasks",
		Summary:     "Start or resume a transcode task",
	}, func(ctx context.Context, in *CreateTaskInput) (*TaskOutput, error) {
		task, err := manager.GetOrCreateTask(ctx, transcode.NewTaskParams{
			ContentKey:     in.Body.ContentKey,
			SourceURL:      in.Body.SourceURL,
			FileName:       in.Body.FileName,
			RequestHeaders: in.Body.RequestHeaders,
			HintDuration:   in.Body.HintDuration,
			SeekSeconds:    in.Body.SeekSeconds,
		})
		if err != nil {
			return nil, huma.Error503ServiceUnavailable(err.Error())
		}
		return &TaskOutput{Body: task.Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/transcode/tasks/{task_id}",
		Summary:     "Get a task's current status",
	}, func(ctx context.Context, in *struct {
		TaskID string `path:"task_id"`
	}) (*TaskOutput, error) {
		task, err := manager.GetTask(in.TaskID)
		if err != nil {
			return nil, huma.Error404NotFound(err.Error())
		}
		return &TaskOutput{Body: task.Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/api/transcode/tasks",
		Summary:     "List every known task",
	}, func(ctx context.Context, in *struct{}) (*TaskListOutput, error) {
		return &TaskListOutput{Body: manager.GetAllTasks()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/transcode/status",
		Summary:     "Report current task counts against configured capacity",
	}, func(ctx context.Context, in *struct{}) (*StatusOutput, error) {
		return &StatusOutput{Body: manager.StatusSummary()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/api/transcode/tasks/{task_id}",
		Summary:     "Stop a task and remove its cached segments",
	}, func(ctx context.Context, in *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		if err := manager.DeleteTask(in.TaskID); err != nil {
			return nil, huma.Error404NotFound(err.Error())
		}
		return &struct{}{}, nil
	})
}
