package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_ExitsZero(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker("/bin/sh", []string{"-c", "exit 0"})

	require.NoError(t, w.Start(context.Background(), filepath.Join(dir, "transcode.log")))

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit in time")
	}
	assert.NoError(t, w.ExitError())
}

func TestWorker_ExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker("/bin/sh", []string{"-c", "exit 7"})

	require.NoError(t, w.Start(context.Background(), filepath.Join(dir, "transcode.log")))

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit in time")
	}
	assert.Error(t, w.ExitError())
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker("/bin/sh", []string{"-c", "sleep 30"})

	require.NoError(t, w.Start(context.Background(), filepath.Join(dir, "transcode.log")))
	require.True(t, w.Running())

	require.NoError(t, w.Stop())
	assert.False(t, w.Running())

	// Stopping again must not error or block.
	assert.NoError(t, w.Stop())
}

func TestWorker_StopNeverStarted(t *testing.T) {
	w := NewWorker("/bin/sh", []string{"-c", "true"})
	assert.NoError(t, w.Stop())
	assert.False(t, w.Running())
}

func TestWorker_LogFileReceivesOutput(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "transcode.log")
	w := NewWorker("/bin/sh", []string{"-c", "echo hello-worker"})

	require.NoError(t, w.Start(context.Background(), logPath))
	<-w.Done()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello-worker")
}

func TestWorker_RedactedHidesHeaders(t *testing.T) {
	w := NewWorker("ffmpeg", []string{"-headers", "Authorization: Bearer xyz", "-i", "url"})
	assert.Contains(t, w.Redacted(), "<headers>")
	assert.NotContains(t, w.Redacted(), "xyz")
}
