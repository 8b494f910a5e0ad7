// Package config provides configuration management for hlsd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultSegmentDuration     = 3
	defaultSeekTolerance       = 24
	defaultMaxConcurrentTasks  = 2
	defaultTaskTimeout         = 3600
	defaultCleanupInterval     = 300
	defaultProbeTimeout        = 30
	defaultGapThresholdSegment = 10
	defaultGOPSize             = 60
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration for the demo façade.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// AuditConfig holds the task-lifecycle audit log configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"` // sqlite file path
}

// TranscodeConfig holds every parameter recognized by the orchestrator core.
// The serve command may adjust tool paths and the work directory after Load
// returns, before handing it to the Manager; the Manager never mutates this
// struct.
type TranscodeConfig struct {
	// Base parameters.
	WorkDir          string `mapstructure:"work_dir"`
	SegmentDuration  int    `mapstructure:"segment_duration"`   // seconds, target HLS segment length
	SeekTolerance    int    `mapstructure:"seek_tolerance"`     // seconds, forward seek tolerance window
	GapThresholdSegs int    `mapstructure:"gap_threshold_segments"`

	// Encoder selection.
	UseHWAccel     bool   `mapstructure:"use_hwaccel"`
	VideoEncoder   string `mapstructure:"video_encoder"`    // hardware encoder, e.g. h264_qsv
	VideoEncoderSW string `mapstructure:"video_encoder_sw"` // software fallback, e.g. libx264
	AudioEncoder   string `mapstructure:"audio_encoder"`
	QSVDevice      string `mapstructure:"qsv_device"`

	// Video encoding parameters.
	VideoBitrate string `mapstructure:"video_bitrate"` // e.g. "2000k"
	MaxRate      string `mapstructure:"maxrate"`
	BufSize      string `mapstructure:"bufsize"`
	GOPSize      int    `mapstructure:"gop_size"`

	// Audio encoding parameters.
	AudioBitrate     string `mapstructure:"audio_bitrate"`
	AudioChannels    int    `mapstructure:"audio_channels"`
	AudioSampleRate  int    `mapstructure:"audio_sample_rate"`

	// Presets.
	QSVPreset   string `mapstructure:"qsv_preset"`
	X264Preset  string `mapstructure:"x264_preset"`
	LogLevel    string `mapstructure:"loglevel"` // worker tool's own -loglevel

	// Concurrency and timeouts.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	TaskTimeout        int `mapstructure:"task_timeout"`     // seconds
	CleanupInterval    int `mapstructure:"cleanup_interval"` // seconds
	ProbeTimeout       int `mapstructure:"probe_timeout"`    // seconds

	// External tool paths, injected by the caller; treated as opaque.
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

// EffectiveVideoEncoder returns the encoder that should be used given
// whether hardware acceleration applies to this task.
func (c *TranscodeConfig) EffectiveVideoEncoder(useHWAccel bool) string {
	if useHWAccel {
		return c.VideoEncoder
	}
	return c.VideoEncoderSW
}

// OutputDir returns the per-content-key output directory. The same content
// key always maps to the same directory, so already-produced segments are
// shared across seeks and restarts.
func (c *TranscodeConfig) OutputDir(contentKey string) string {
	return fmt.Sprintf("%s/%s", c.WorkDir, contentKey)
}

// SegmentPath returns the path of a single segment file within a content
// key's output directory.
func (c *TranscodeConfig) SegmentPath(contentKey string, segmentID int) string {
	return fmt.Sprintf("%s/segment%d.ts", c.OutputDir(contentKey), segmentID)
}

// InternalPlaylistPath returns the path of the worker-emitted m3u8 file that
// the server never reads, only ignores.
func (c *TranscodeConfig) InternalPlaylistPath(contentKey string) string {
	return fmt.Sprintf("%s/internal.m3u8", c.OutputDir(contentKey))
}

// SegmentPattern returns the printf-style segment filename pattern passed to
// the worker's -hls_segment_filename flag.
func (c *TranscodeConfig) SegmentPattern(contentKey string) string {
	return fmt.Sprintf("%s/segment%%d.ts", c.OutputDir(contentKey))
}

// TranscodeLogPath returns the path of the worker's combined stdout+stderr
// log file.
func (c *TranscodeConfig) TranscodeLogPath(contentKey string) string {
	return fmt.Sprintf("%s/transcode.log", c.OutputDir(contentKey))
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSD_ and use underscores for
// nesting, e.g. HLSD_TRANSCODE_SEGMENT_DURATION=3.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsd")
		v.AddConfigPath("$HOME/.hlsd")
	}

	v.SetEnvPrefix("HLSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dsn", "hlsd_audit.db")

	v.SetDefault("transcode.work_dir", "data/transcode")
	v.SetDefault("transcode.segment_duration", defaultSegmentDuration)
	v.SetDefault("transcode.seek_tolerance", defaultSeekTolerance)
	v.SetDefault("transcode.gap_threshold_segments", defaultGapThresholdSegment)

	v.SetDefault("transcode.use_hwaccel", true)
	v.SetDefault("transcode.video_encoder", "h264_qsv")
	v.SetDefault("transcode.video_encoder_sw", "libx264")
	v.SetDefault("transcode.audio_encoder", "aac")
	v.SetDefault("transcode.qsv_device", "")

	v.SetDefault("transcode.gop_size", defaultGOPSize)

	v.SetDefault("transcode.qsv_preset", "7")
	v.SetDefault("transcode.x264_preset", "medium")
	v.SetDefault("transcode.loglevel", "warning")

	v.SetDefault("transcode.max_concurrent_tasks", defaultMaxConcurrentTasks)
	v.SetDefault("transcode.task_timeout", defaultTaskTimeout)
	v.SetDefault("transcode.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("transcode.probe_timeout", defaultProbeTimeout)

	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcode.ffprobe_path", "ffprobe")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return c.Transcode.Validate()
}

// Validate checks the transcode configuration for errors.
func (t *TranscodeConfig) Validate() error {
	if t.WorkDir == "" {
		return fmt.Errorf("transcode.work_dir is required")
	}
	if t.SegmentDuration <= 0 {
		return fmt.Errorf("transcode.segment_duration must be positive")
	}
	if t.SeekTolerance < 0 {
		return fmt.Errorf("transcode.seek_tolerance must not be negative")
	}
	if t.GapThresholdSegs <= 0 {
		return fmt.Errorf("transcode.gap_threshold_segments must be positive")
	}
	if t.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("transcode.max_concurrent_tasks must be positive")
	}
	if t.TaskTimeout <= 0 {
		return fmt.Errorf("transcode.task_timeout must be positive")
	}
	if t.CleanupInterval <= 0 {
		return fmt.Errorf("transcode.cleanup_interval must be positive")
	}
	if t.ProbeTimeout <= 0 {
		return fmt.Errorf("transcode.probe_timeout must be positive")
	}
	if t.VideoEncoder == "" || t.VideoEncoderSW == "" {
		return fmt.Errorf("transcode.video_encoder and video_encoder_sw are required")
	}
	if t.AudioEncoder == "" {
		return fmt.Errorf("transcode.audio_encoder is required")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
