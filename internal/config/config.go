package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the worker
type Config struct {
	// Task queue configuration
	AMQPURL   string
	TaskQueue string
	WorkerID  string

	// Status / vector store configuration
	DatabaseURL string

	// Transcription backend
	DeepgramURL string

	// SDK helper (process-backed agent)
	HelperPath string
	SampleRate int
	Channels   int

	// Session timing
	CaptureReadTimeout time.Duration
	JoinGracePeriod    time.Duration
	LeaveGracePeriod   time.Duration
	MaxSessionDuration time.Duration
	SilenceTimeout     time.Duration
	TaskTimeout        time.Duration

	// Models used for the post-capture steps
	SummaryModel   string
	EmbeddingModel string

	// Diagnostics
	MetricsAddr string
	PProfAddr   string
}

// Load loads configuration from environment variables and flags.
// args is the command line without the program name (os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.TaskQueue = "atom_live_meeting_tasks"
	cfg.WorkerID = "atom-meeting-worker-1"
	cfg.DeepgramURL = "wss://api.deepgram.com/v1/listen"
	cfg.HelperPath = "./meeting_sdk_helper"
	cfg.SampleRate = 16000
	cfg.Channels = 1
	cfg.CaptureReadTimeout = 5 * time.Second
	cfg.JoinGracePeriod = 1 * time.Second
	cfg.LeaveGracePeriod = 5 * time.Second
	cfg.MaxSessionDuration = 2 * time.Hour
	cfg.SilenceTimeout = 5 * time.Minute
	cfg.TaskTimeout = 150 * time.Minute
	cfg.SummaryModel = "gpt-4o-mini"
	cfg.EmbeddingModel = "text-embedding-3-small"

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.AMQPURL = getEnv("AMQP_URL", "")
	cfg.TaskQueue = getEnv("TASK_QUEUE", cfg.TaskQueue)
	cfg.WorkerID = getEnv("WORKER_ID", cfg.WorkerID)
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.DeepgramURL = getEnv("DEEPGRAM_URL", cfg.DeepgramURL)
	cfg.HelperPath = getEnv("MEETING_SDK_HELPER_PATH", cfg.HelperPath)
	cfg.SummaryModel = getEnv("SUMMARY_MODEL", cfg.SummaryModel)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.PProfAddr = getEnv("PPROF_ADDR", "")

	if v := getEnv("AUDIO_SAMPLE_RATE", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SampleRate = n
		}
	}
	if v := getEnv("AUDIO_CHANNELS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Channels = n
		}
	}
	if v := getEnv("MAX_SESSION_DURATION", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxSessionDuration = d
		}
	}
	if v := getEnv("SILENCE_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SilenceTimeout = d
		}
	}
	if v := getEnv("TASK_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TaskTimeout = d
		}
	}

	// Override with flags
	fs := flag.NewFlagSet("atom-meeting-worker", flag.ContinueOnError)
	fs.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "AMQP broker URL")
	fs.StringVar(&cfg.TaskQueue, "task-queue", cfg.TaskQueue, "Task queue name")
	fs.StringVar(&cfg.WorkerID, "worker-id", cfg.WorkerID, "Worker identifier")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string for status records")
	fs.StringVar(&cfg.DeepgramURL, "deepgram-url", cfg.DeepgramURL, "Deepgram live listen endpoint")
	fs.StringVar(&cfg.HelperPath, "helper-path", cfg.HelperPath, "Path to the meeting SDK helper binary")
	fs.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Capture sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", cfg.Channels, "Capture channel count")
	fs.DurationVar(&cfg.MaxSessionDuration, "max-session-duration", cfg.MaxSessionDuration, "Overall ceiling for one capture session")
	fs.DurationVar(&cfg.SilenceTimeout, "silence-timeout", cfg.SilenceTimeout, "Inactivity ceiling for one capture session")
	fs.DurationVar(&cfg.TaskTimeout, "task-timeout", cfg.TaskTimeout, "Maximum time a task can run")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address")
	fs.StringVar(&cfg.PProfAddr, "pprof-addr", cfg.PProfAddr, "pprof HTTP server address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AMQP_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", cfg.Channels)
	}

	return cfg, nil
}

// FrameBytes returns the size of one capture frame read from the SDK helper:
// 100ms of 16-bit PCM at the configured rate and channel count.
func (c *Config) FrameBytes() int {
	return c.SampleRate / 10 * c.Channels * 2
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
