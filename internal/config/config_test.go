package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/spf13/pflag"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.TrackWaitTimeout != 10*time.Second || cfg.Pipeline.TrackPollInterval != 50*time.Millisecond {
		t.Fatalf("unexpected track wait defaults %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ChatTopic != "lk.chat" || cfg.Pipeline.ForwardPartials {
		t.Fatalf("unexpected topic defaults %+v", cfg.Pipeline)
	}
	if cfg.Agent.MaxConcurrentJobs != 8 || cfg.Agent.DrainTimeout != 30*time.Second || cfg.Agent.IdentityPrefix != "agent-" {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
	jt, err := cfg.JobType()
	if err != nil || jt != livekit.JobType_JT_ROOM {
		t.Fatalf("unexpected job type %v %v", jt, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)
	t.Setenv("LK_MAX_CONCURRENT_JOBS", "3")
	t.Setenv("LK_DRAIN_TIMEOUT", "5s")
	t.Setenv("TRACK_WAIT_TIMEOUT", "2s")
	t.Setenv("LK_LOG_LEVEL", "DEBUG")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.MaxConcurrentJobs != 3 || cfg.Agent.DrainTimeout != 5*time.Second {
		t.Fatalf("env overrides not applied %+v", cfg.Agent)
	}
	if cfg.Pipeline.TrackWaitTimeout != 2*time.Second {
		t.Fatalf("expected 2s track wait, got %s", cfg.Pipeline.TrackWaitTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %s", cfg.LogLevel)
	}
	if cfg.STT.Settings["api_key"] != "dg-key" {
		t.Fatalf("expected deepgram key in stt settings, got %v", cfg.STT.Settings)
	}
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := chdirTemp(t)
	setRequiredEnv(t)

	path := filepath.Join(dir, "saubol.yaml")
	content := `
pipeline:
  forward_partials: true
  chat_topic: transcripts
stt:
  provider: scripted
  settings:
    transcripts: ["hello"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("control-addr", ":8080", "")
	if err := flags.Parse([]string{"--control-addr", ":9090"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Pipeline.ForwardPartials || cfg.Pipeline.ChatTopic != "transcripts" {
		t.Fatalf("file values not applied %+v", cfg.Pipeline)
	}
	if cfg.STT.Provider != "scripted" || cfg.STT.Settings["transcripts"] == nil {
		t.Fatalf("stt settings not applied %+v", cfg.STT)
	}
	if cfg.Control.Addr != ":9090" {
		t.Fatalf("expected flag override, got %s", cfg.Control.Addr)
	}
}

func TestLoadValidation(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LIVEKIT_URL", "")
	t.Setenv("LIVEKIT_API_KEY", "")
	t.Setenv("LIVEKIT_API_SECRET", "")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected missing LIVEKIT_URL error")
	}

	setRequiredEnv(t)
	t.Setenv("LK_JOB_TYPE", "JT_SOMETHING")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected invalid job type error")
	}

	t.Setenv("LK_JOB_TYPE", "JT_PUBLISHER")
	t.Setenv("TRACK_POLL_INTERVAL", "1m")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected poll interval above wait timeout to be rejected")
	}
}
