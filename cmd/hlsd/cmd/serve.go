package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsd/internal/audit"
	"github.com/jmylchreest/hlsd/internal/config"
	"github.com/jmylchreest/hlsd/internal/httpapi"
	"github.com/jmylchreest/hlsd/internal/observability"
	"github.com/jmylchreest/hlsd/internal/transcode"
	"github.com/jmylchreest/hlsd/internal/util"
	"github.com/jmylchreest/hlsd/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsd server",
	Long: `Start the hlsd HTTP server.

The server provides:
- Playlist and segment endpoints for active transcodes
- A small JSON API for creating, listing, and deleting transcode tasks
- A status endpoint reporting capacity and task counts`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("work-dir", "data/transcode", "Directory transcode output is written to")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("transcode.work_dir", serveCmd.Flags().Lookup("work-dir"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("work-dir") {
		cfg.Transcode.WorkDir, _ = flags.GetString("work-dir")
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	resolveToolPaths(cfg, logger)

	auditLog, err := audit.Open(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	manager := transcode.NewManager(cfg.Transcode, nil, logger)
	defer manager.Stop()

	server := httpapi.NewServer(cfg.Server, manager, logger, version.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting hlsd server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
		slog.String("work_dir", cfg.Transcode.WorkDir),
	)

	return server.ListenAndServe(ctx)
}

// resolveToolPaths looks up the ffmpeg/ffprobe binaries on PATH when the
// configuration left them at their bare defaults, so a missing binary is
// reported at startup rather than on the first transcode request.
func resolveToolPaths(cfg *config.Config, logger *slog.Logger) {
	if cfg.Transcode.FFmpegPath == "ffmpeg" {
		if path, err := util.FindBinary("ffmpeg", "HLSD_FFMPEG_PATH"); err == nil {
			cfg.Transcode.FFmpegPath = path
		} else {
			logger.Warn("ffmpeg binary not found on PATH", slog.String("error", err.Error()))
		}
	}
	if cfg.Transcode.FFprobePath == "ffprobe" {
		if path, err := util.FindBinary("ffprobe", "HLSD_FFPROBE_PATH"); err == nil {
			cfg.Transcode.FFprobePath = path
		} else {
			logger.Warn("ffprobe binary not found on PATH", slog.String("error", err.Error()))
		}
	}
}
