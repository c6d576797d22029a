package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddr != ":7860" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7860")
	}

	if cfg.Server.MaxConcurrent != 30 {
		t.Errorf("Server.MaxConcurrent = %d; want 30", cfg.Server.MaxConcurrent)
	}

	if cfg.Server.MaxPromptBytes != 4096 {
		t.Errorf("Server.MaxPromptBytes = %d; want 4096", cfg.Server.MaxPromptBytes)
	}

	if cfg.Remote.APIName != "/text_to_speech_app" {
		t.Errorf("Remote.APIName = %q; want %q", cfg.Remote.APIName, "/text_to_speech_app")
	}

	if cfg.Remote.Transport != TransportSSE {
		t.Errorf("Remote.Transport = %q; want %q", cfg.Remote.Transport, TransportSSE)
	}

	if cfg.Remote.Timeout != 120*time.Second {
		t.Errorf("Remote.Timeout = %v; want 2m", cfg.Remote.Timeout)
	}

	if cfg.Remote.Retries != 2 {
		t.Errorf("Remote.Retries = %d; want 2", cfg.Remote.Retries)
	}

	if cfg.Fetch.Timeout != 60*time.Second {
		t.Errorf("Fetch.Timeout = %v; want 1m", cfg.Fetch.Timeout)
	}

	if cfg.Storage.TTL != time.Hour {
		t.Errorf("Storage.TTL = %v; want 1h", cfg.Storage.TTL)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v; want nil", err)
	}
}

func TestNormalizeTransport(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: TransportSSE},
		{in: "SSE", want: TransportSSE},
		{in: " ws ", want: TransportWS},
		{in: "websocket", want: TransportWS},
		{in: "grpc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeTransport(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeTransport(%q) = nil error; want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeTransport(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeTransport(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for _, name := range []string{
		"log-level",
		"server-listen-addr",
		"server-max-concurrent",
		"remote-base-url",
		"remote-transport",
		"remote-timeout",
		"fetch-ca-bundle",
		"storage-ttl",
		"metrics-namespace",
	} {
		if fs.Lookup(name) == nil {
			t.Errorf("flag %q not registered", name)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != defaults.Server.ListenAddr {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, defaults.Server.ListenAddr)
	}

	if cfg.Remote.BaseURL != defaults.Remote.BaseURL {
		t.Errorf("Remote.BaseURL = %q; want %q", cfg.Remote.BaseURL, defaults.Remote.BaseURL)
	}

	if cfg.Fetch.Timeout != defaults.Fetch.Timeout {
		t.Errorf("Fetch.Timeout = %v; want %v", cfg.Fetch.Timeout, defaults.Fetch.Timeout)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	err := binder.fs.Parse([]string{
		"--server-max-concurrent=4",
		"--remote-transport=ws",
		"--remote-timeout=15s",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.MaxConcurrent != 4 {
		t.Errorf("Server.MaxConcurrent = %d; want 4", cfg.Server.MaxConcurrent)
	}

	if cfg.Remote.Transport != TransportWS {
		t.Errorf("Remote.Transport = %q; want %q", cfg.Remote.Transport, TransportWS)
	}

	if cfg.Remote.Timeout != 15*time.Second {
		t.Errorf("Remote.Timeout = %v; want 15s", cfg.Remote.Timeout)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TTSU_LOG_LEVEL", "warn")
	t.Setenv("TTSU_SERVER_LISTEN_ADDR", ":9999")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}
}

func TestLoad_CABundleFromRequestsEnv(t *testing.T) {
	t.Setenv("REQUESTS_CA_BUNDLE", "/etc/ssl/proxy.pem")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.CABundle != "/etc/ssl/proxy.pem" {
		t.Errorf("Fetch.CABundle = %q; want %q", cfg.Fetch.CABundle, "/etc/ssl/proxy.pem")
	}
}

func TestLoad_HFTokenFromEnv(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_secret")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.HFToken != "hf_secret" {
		t.Errorf("Remote.HFToken = %q; want %q", cfg.Remote.HFToken, "hf_secret")
	}
}

func TestLoad_ConfigFileExists_NoError(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "ttsunlimited.yaml")

	err := os.WriteFile(cfgFile, []byte("log_level: warn\n"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/ttsunlimited.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestLoad_RejectsUnknownTransport(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	if err := binder.fs.Parse([]string{"--remote-transport=carrier-pigeon"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err == nil {
		t.Error("Load() = nil; want error for unknown transport")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty base url", mutate: func(c *Config) { c.Remote.BaseURL = " " }},
		{name: "negative concurrency", mutate: func(c *Config) { c.Server.MaxConcurrent = -1 }},
		{name: "negative retries", mutate: func(c *Config) { c.Remote.Retries = -1 }},
		{name: "zero fetch timeout", mutate: func(c *Config) { c.Fetch.Timeout = 0 }},
		{name: "negative ttl", mutate: func(c *Config) { c.Storage.TTL = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil; want error")
			}
		})
	}
}

func TestLoad_WellKnownEnvWithFlags(t *testing.T) {
	t.Setenv("REQUESTS_CA_BUNDLE", "/etc/ssl/proxy.pem")
	t.Setenv("HF_TOKEN", "hf_secret")

	defaults := DefaultConfig()
	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.CABundle != "/etc/ssl/proxy.pem" {
		t.Errorf("Fetch.CABundle = %q; want %q", cfg.Fetch.CABundle, "/etc/ssl/proxy.pem")
	}

	if cfg.Remote.HFToken != "hf_secret" {
		t.Errorf("Remote.HFToken = %q; want %q", cfg.Remote.HFToken, "hf_secret")
	}
}

func TestLoad_PrefixedEnvWithFlags(t *testing.T) {
	t.Setenv("TTSU_FETCH_CA_BUNDLE", "/x.pem")
	t.Setenv("TTSU_STORAGE_TTL", "5m")

	defaults := DefaultConfig()
	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.CABundle != "/x.pem" {
		t.Errorf("Fetch.CABundle = %q; want %q", cfg.Fetch.CABundle, "/x.pem")
	}

	if cfg.Storage.TTL != 5*time.Minute {
		t.Errorf("Storage.TTL = %v; want 5m", cfg.Storage.TTL)
	}
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	t.Setenv("HF_TOKEN", "from-env")

	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Parse([]string{"--remote-hf-token=from-flag"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.HFToken != "from-flag" {
		t.Errorf("Remote.HFToken = %q; want %q", cfg.Remote.HFToken, "from-flag")
	}
}

func TestLoad_ConfigFileNestedValues(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "ttsunlimited.yaml")

	body := "server:\n  listen_addr: \":8088\"\nremote:\n  transport: ws\n"
	if err := os.WriteFile(cfgFile, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(defaults), ConfigFile: cfgFile, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8088" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8088")
	}

	if cfg.Remote.Transport != TransportWS {
		t.Errorf("Remote.Transport = %q; want %q", cfg.Remote.Transport, TransportWS)
	}

	if cfg.Remote.BaseURL != defaults.Remote.BaseURL {
		t.Errorf("Remote.BaseURL = %q; want default", cfg.Remote.BaseURL)
	}
}
