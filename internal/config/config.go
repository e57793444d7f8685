package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/livekit"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the configuration for the transcription worker.
type Config struct {
	LiveKit  LiveKitConfig  `mapstructure:"livekit"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	STT      STTConfig      `mapstructure:"stt"`
	VAD      VADConfig      `mapstructure:"vad"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Control  ControlConfig  `mapstructure:"control"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// LiveKitConfig locates the LiveKit server.
type LiveKitConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// AgentConfig controls room workers and agent dispatch.
type AgentConfig struct {
	Name               string        `mapstructure:"name"`
	Namespace          string        `mapstructure:"namespace"`
	IdentityPrefix     string        `mapstructure:"identity_prefix"`
	Dispatch           bool          `mapstructure:"dispatch"`
	JobType            string        `mapstructure:"job_type"`
	MaxConcurrentJobs  int           `mapstructure:"max_concurrent_jobs"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	LoadUpdateInterval time.Duration `mapstructure:"load_update_interval"`
}

// PipelineConfig tunes per-track pipelines.
type PipelineConfig struct {
	SampleRate        int           `mapstructure:"sample_rate"`
	TrackWaitTimeout  time.Duration `mapstructure:"track_wait_timeout"`
	TrackPollInterval time.Duration `mapstructure:"track_poll_interval"`
	ChatTopic         string        `mapstructure:"chat_topic"`
	PartialTopic      string        `mapstructure:"partial_topic"`
	ForwardPartials   bool          `mapstructure:"forward_partials"`
	Language          string        `mapstructure:"language"`
}

// STTConfig selects the recognition vendor. Settings are vendor specific.
type STTConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// VADConfig tunes the energy detector.
type VADConfig struct {
	Threshold  float64       `mapstructure:"threshold"`
	MinSilence time.Duration `mapstructure:"min_silence"`
	Smoothing  float64       `mapstructure:"smoothing"`
}

// SummaryConfig controls the session-end hand-off.
type SummaryConfig struct {
	OutputDir  string        `mapstructure:"output_dir"`
	HeaderFile string        `mapstructure:"header_file"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ControlConfig configures the HTTP control API.
type ControlConfig struct {
	Addr      string `mapstructure:"addr"`
	PProfAddr string `mapstructure:"pprof_addr"`
}

// envBindings maps config keys to environment variables.
var envBindings = map[string]string{
	"livekit.url":                  "LIVEKIT_URL",
	"livekit.api_key":              "LIVEKIT_API_KEY",
	"livekit.api_secret":           "LIVEKIT_API_SECRET",
	"agent.name":                   "LK_AGENT_NAME",
	"agent.namespace":              "LK_NAMESPACE",
	"agent.identity_prefix":        "LK_IDENTITY_PREFIX",
	"agent.dispatch":               "LK_DISPATCH",
	"agent.job_type":               "LK_JOB_TYPE",
	"agent.max_concurrent_jobs":    "LK_MAX_CONCURRENT_JOBS",
	"agent.drain_timeout":          "LK_DRAIN_TIMEOUT",
	"agent.load_update_interval":   "LK_LOAD_UPDATE_INTERVAL",
	"pipeline.sample_rate":         "PIPELINE_SAMPLE_RATE",
	"pipeline.track_wait_timeout":  "TRACK_WAIT_TIMEOUT",
	"pipeline.track_poll_interval": "TRACK_POLL_INTERVAL",
	"pipeline.chat_topic":          "CHAT_TOPIC",
	"pipeline.partial_topic":       "PARTIAL_TOPIC",
	"pipeline.forward_partials":    "FORWARD_PARTIALS",
	"pipeline.language":            "STT_LANGUAGE",
	"stt.provider":                 "STT_PROVIDER",
	"vad.threshold":                "VAD_THRESHOLD",
	"vad.min_silence":              "VAD_MIN_SILENCE",
	"summary.output_dir":           "SUMMARY_OUTPUT_DIR",
	"summary.header_file":          "SUMMARY_HEADER_FILE",
	"summary.webhook_url":          "SUMMARY_WEBHOOK_URL",
	"summary.timeout":              "SUMMARY_TIMEOUT",
	"control.addr":                 "CONTROL_ADDR",
	"control.pprof_addr":           "LK_PPROF_ADDR",
	"log_level":                    "LK_LOG_LEVEL",
	"log_json":                     "LK_LOG_JSON",
}

// flagBindings maps command-line flags to config keys.
var flagBindings = map[string]string{
	"url":            "livekit.url",
	"api-key":        "livekit.api_key",
	"api-secret":     "livekit.api_secret",
	"agent-name":     "agent.name",
	"namespace":      "agent.namespace",
	"dispatch":       "agent.dispatch",
	"max-jobs":       "agent.max_concurrent_jobs",
	"drain-timeout":  "agent.drain_timeout",
	"control-addr":   "control.addr",
	"pprof-addr":     "control.pprof_addr",
	"log-level":      "log_level",
	"stt-provider":   "stt.provider",
	"summary-output": "summary.output_dir",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.identity_prefix", "agent-")
	v.SetDefault("agent.dispatch", false)
	v.SetDefault("agent.job_type", "JT_ROOM")
	v.SetDefault("agent.max_concurrent_jobs", 8)
	v.SetDefault("agent.drain_timeout", 30*time.Second)
	v.SetDefault("agent.load_update_interval", 5*time.Second)
	v.SetDefault("pipeline.sample_rate", 16000)
	v.SetDefault("pipeline.track_wait_timeout", 10*time.Second)
	v.SetDefault("pipeline.track_poll_interval", 50*time.Millisecond)
	v.SetDefault("pipeline.chat_topic", "lk.chat")
	v.SetDefault("pipeline.partial_topic", "lk.transcription.partial")
	v.SetDefault("pipeline.forward_partials", false)
	v.SetDefault("pipeline.language", "")
	v.SetDefault("stt.provider", "deepgram")
	v.SetDefault("vad.threshold", 0.02)
	v.SetDefault("vad.min_silence", 500*time.Millisecond)
	v.SetDefault("vad.smoothing", 0.5)
	v.SetDefault("summary.output_dir", "output")
	v.SetDefault("summary.timeout", 30*time.Second)
	v.SetDefault("control.addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Load builds the configuration from defaults, an optional .env file, an optional
// config file (YAML, TOML or JSON), environment variables and flags, in increasing
// order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if flags != nil {
		for name, key := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.STT.Settings == nil {
		cfg.STT.Settings = make(map[string]any)
	}
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		if _, ok := cfg.STT.Settings["api_key"]; !ok {
			cfg.STT.Settings["api_key"] = key
		}
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.LiveKit.URL == "" {
		return fmt.Errorf("LIVEKIT_URL is required")
	}
	if c.LiveKit.APIKey == "" {
		return fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if c.LiveKit.APISecret == "" {
		return fmt.Errorf("LIVEKIT_API_SECRET is required")
	}
	if _, err := c.JobType(); err != nil {
		return err
	}
	if c.Agent.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", c.Agent.MaxConcurrentJobs)
	}
	if c.Agent.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be positive, got %s", c.Agent.DrainTimeout)
	}
	if c.Agent.LoadUpdateInterval <= 0 {
		return fmt.Errorf("load update interval must be positive, got %s", c.Agent.LoadUpdateInterval)
	}
	if c.Pipeline.SampleRate <= 0 || c.Pipeline.SampleRate%50 != 0 {
		return fmt.Errorf("sample rate must be a positive multiple of 50, got %d", c.Pipeline.SampleRate)
	}
	if c.Pipeline.TrackWaitTimeout <= 0 {
		return fmt.Errorf("track wait timeout must be positive, got %s", c.Pipeline.TrackWaitTimeout)
	}
	if c.Pipeline.TrackPollInterval <= 0 || c.Pipeline.TrackPollInterval > c.Pipeline.TrackWaitTimeout {
		return fmt.Errorf("track poll interval must be positive and not exceed the wait timeout, got %s", c.Pipeline.TrackPollInterval)
	}
	if c.Summary.Timeout <= 0 {
		return fmt.Errorf("summary timeout must be positive, got %s", c.Summary.Timeout)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.LogLevel)
	}
	return nil
}

// JobType returns the agent dispatch job type.
func (c *Config) JobType() (livekit.JobType, error) {
	switch c.Agent.JobType {
	case "", "JT_ROOM":
		return livekit.JobType_JT_ROOM, nil
	case "JT_PUBLISHER":
		return livekit.JobType_JT_PUBLISHER, nil
	default:
		return livekit.JobType_JT_ROOM, fmt.Errorf("invalid job type: %s (must be JT_ROOM or JT_PUBLISHER)", c.Agent.JobType)
	}
}
