package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Remote transports understood by the remote client.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Server   ServerConfig  `mapstructure:"server"`
	Remote   RemoteConfig  `mapstructure:"remote"`
	Fetch    FetchConfig   `mapstructure:"fetch"`
	Storage  StorageConfig `mapstructure:"storage"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	MaxPromptBytes  int    `mapstructure:"max_prompt_bytes"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIName      string        `mapstructure:"api_name"`
	APIPrefix    string        `mapstructure:"api_prefix"`
	Transport    string        `mapstructure:"transport"`
	FnIndex      int           `mapstructure:"fn_index"`
	HFToken      string        `mapstructure:"hf_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CABundle string        `mapstructure:"ca_bundle"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

type StorageConfig struct {
	Dir           string        `mapstructure:"dir"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":7860",
			MaxConcurrent:   30,
			MaxPromptBytes:  4096,
			ShutdownTimeout: 30,
		},
		Remote: RemoteConfig{
			BaseURL:      "https://nihalgazi-text-to-speech-unlimited.hf.space",
			APIName:      "/text_to_speech_app",
			APIPrefix:    "/gradio_api",
			Transport:    TransportSSE,
			FnIndex:      0,
			HFToken:      "",
			Timeout:      120 * time.Second,
			Retries:      2,
			RetryBackoff: 500 * time.Millisecond,
		},
		Fetch: FetchConfig{
			Timeout:  60 * time.Second,
			CABundle: "",
			MaxBytes: 50 << 20,
		},
		Storage: StorageConfig{
			Dir:           "",
			TTL:           time.Hour,
			SweepInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			Namespace: "ttsunlimited",
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-concurrent", defaults.Server.MaxConcurrent, "Max in-flight generation requests")
	fs.Int("server-max-prompt-bytes", defaults.Server.MaxPromptBytes, "Max prompt size in bytes")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.String("remote-base-url", defaults.Remote.BaseURL, "Base URL of the hosted TTS app")
	fs.String("remote-api-name", defaults.Remote.APIName, "Endpoint name of the TTS function")
	fs.String("remote-api-prefix", defaults.Remote.APIPrefix, "Path prefix of the call API (empty for older servers)")
	fs.String("remote-transport", defaults.Remote.Transport, "Remote transport (sse|ws)")
	fs.Int("remote-fn-index", defaults.Remote.FnIndex, "Function index used by the ws transport")
	fs.String("remote-hf-token", defaults.Remote.HFToken, "Bearer token sent to the remote app")
	fs.Duration("remote-timeout", defaults.Remote.Timeout, "Deadline for one remote call including retries")
	fs.Int("remote-retries", defaults.Remote.Retries, "Retries after a retryable remote failure")
	fs.Duration("remote-retry-backoff", defaults.Remote.RetryBackoff, "Base backoff between remote retries")
	fs.Duration("fetch-timeout", defaults.Fetch.Timeout, "Timeout for downloading audio URLs")
	fs.String("fetch-ca-bundle", defaults.Fetch.CABundle, "PEM bundle trusted when downloading audio")
	fs.Int64("fetch-max-bytes", defaults.Fetch.MaxBytes, "Max downloaded audio size in bytes")
	fs.String("storage-dir", defaults.Storage.Dir, "Directory for generated audio (default: OS temp dir)")
	fs.Duration("storage-ttl", defaults.Storage.TTL, "Age after which generated audio is deleted (0 keeps files)")
	fs.Duration("storage-sweep-interval", defaults.Storage.SweepInterval, "Interval between expired-file sweeps")
	fs.String("metrics-namespace", defaults.Metrics.Namespace, "Prometheus metric namespace")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TTSU")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("fetch.ca_bundle", "TTSU_FETCH_CA_BUNDLE", "REQUESTS_CA_BUNDLE"); err != nil {
		return Config{}, fmt.Errorf("bind ca bundle env vars: %w", err)
	}
	if err := v.BindEnv("remote.hf_token", "TTSU_REMOTE_HF_TOKEN", "HF_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind token env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("ttsunlimited")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if _, err := NormalizeTransport(c.Remote.Transport); err != nil {
		return err
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Server.MaxConcurrent < 0 {
		return fmt.Errorf("server.max_concurrent must be >= 0")
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("remote.retries must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Storage.TTL < 0 {
		return fmt.Errorf("storage.ttl must be >= 0")
	}
	return nil
}

// NormalizeTransport lower-cases and validates a remote transport name.
// An empty string selects TransportSSE.
func NormalizeTransport(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", TransportSSE:
		return TransportSSE, nil
	case TransportWS, "websocket":
		return TransportWS, nil
	default:
		return "", fmt.Errorf("unknown remote transport %q (want sse|ws)", s)
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_concurrent", c.Server.MaxConcurrent)
	v.SetDefault("server.max_prompt_bytes", c.Server.MaxPromptBytes)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("remote.base_url", c.Remote.BaseURL)
	v.SetDefault("remote.api_name", c.Remote.APIName)
	v.SetDefault("remote.api_prefix", c.Remote.APIPrefix)
	v.SetDefault("remote.transport", c.Remote.Transport)
	v.SetDefault("remote.fn_index", c.Remote.FnIndex)
	v.SetDefault("remote.hf_token", c.Remote.HFToken)
	v.SetDefault("remote.timeout", c.Remote.Timeout)
	v.SetDefault("remote.retries", c.Remote.Retries)
	v.SetDefault("remote.retry_backoff", c.Remote.RetryBackoff)
	v.SetDefault("fetch.timeout", c.Fetch.Timeout)
	v.SetDefault("fetch.ca_bundle", c.Fetch.CABundle)
	v.SetDefault("fetch.max_bytes", c.Fetch.MaxBytes)
	v.SetDefault("storage.dir", c.Storage.Dir)
	v.SetDefault("storage.ttl", c.Storage.TTL)
	v.SetDefault("storage.sweep_interval", c.Storage.SweepInterval)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)
}

// flagKeys maps each config key to the flag registered by RegisterFlags.
var flagKeys = map[string]string{
	"log_level":               "log-level",
	"server.listen_addr":      "server-listen-addr",
	"server.max_concurrent":   "server-max-concurrent",
	"server.max_prompt_bytes": "server-max-prompt-bytes",
	"server.shutdown_timeout": "server-shutdown-timeout",
	"remote.base_url":         "remote-base-url",
	"remote.api_name":         "remote-api-name",
	"remote.api_prefix":       "remote-api-prefix",
	"remote.transport":        "remote-transport",
	"remote.fn_index":         "remote-fn-index",
	"remote.hf_token":         "remote-hf-token",
	"remote.timeout":          "remote-timeout",
	"remote.retries":          "remote-retries",
	"remote.retry_backoff":    "remote-retry-backoff",
	"fetch.timeout":           "fetch-timeout",
	"fetch.ca_bundle":         "fetch-ca-bundle",
	"fetch.max_bytes":         "fetch-max-bytes",
	"storage.dir":             "storage-dir",
	"storage.ttl":             "storage-ttl",
	"storage.sweep_interval":  "storage-sweep-interval",
	"metrics.namespace":       "metrics-namespace",
}

// bindFlags binds flags to their nested config keys, so defaults, env
// bindings and config file values all resolve under the same key. Flags
// missing from fs are skipped.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
