package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"netmon/pkg/retry"
)

type BandwidthConfig struct {
	Type        string
	Interval    time.Duration
	ServerIDs   []int
	DownloadURL string
	UploadURL   string
	UploadBytes int64
}

type LatencyConfig struct {
	Type        string
	Interval    time.Duration
	Targets     []string
	Timeout     time.Duration
	Count       int
	Privileged  bool
	DNSQuery    string
	DNSProtocol string
}

type RetryConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase float64
}

type OutputConfig struct {
	Name   string            `mapstructure:"name"`
	Type   string            `mapstructure:"type"`
	Listen string            `mapstructure:"listen,omitempty"`
	URL    string            `mapstructure:"url,omitempty"`
	Token  string            `mapstructure:"token,omitempty"`
	Org    string            `mapstructure:"org,omitempty"`
	Bucket string            `mapstructure:"bucket,omitempty"`
	Path   string            `mapstructure:"path,omitempty"`
	Tags   map[string]string `mapstructure:"tags,omitempty"`
}

// Config is read once at startup and treated as immutable afterwards.
type Config struct {
	Tick          time.Duration
	Bandwidth     BandwidthConfig
	Latency       LatencyConfig
	Retry         RetryConfig
	Outputs       []OutputConfig
	MetricsListen string
	PIDFile       string
	LogLevel      string
	LogFormat     string
}

// keys that may be supplied through the environment, in lower case (as
// existing .env files use) or upper case.
var envKeys = []string{
	"tick",
	"speedtest_interval", "latency_interval", "latency_servers",
	"influx_url", "influx_token", "influx_org", "influx_bucket",
	"retry_max_attempts", "retry_timeout", "retry_backoff_base",
	"bandwidth_probe", "bandwidth_server_ids",
	"bandwidth_download_url", "bandwidth_upload_url", "bandwidth_upload_bytes",
	"latency_probe", "latency_timeout", "latency_count", "latency_privileged",
	"dns_query", "dns_protocol",
	"metrics_listen", "pid_file", "log_level", "log_format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick", "1s")
	v.SetDefault("speedtest_interval", 300)
	v.SetDefault("latency_interval", 30)
	v.SetDefault("latency_servers", "")
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_timeout", 120)
	v.SetDefault("retry_backoff_base", 2.0)
	v.SetDefault("bandwidth_probe", "speedtest")
	v.SetDefault("bandwidth_upload_bytes", 10<<20)
	v.SetDefault("latency_probe", "icmp")
	v.SetDefault("latency_timeout", 2)
	v.SetDefault("latency_count", 1)
	v.SetDefault("latency_privileged", false)
	v.SetDefault("dns_query", "example.com")
	v.SetDefault("dns_protocol", "udp")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads the optional YAML file at path, then the .env file at envFile
// (overriding the process environment; a missing file is ignored), then the
// environment, and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for _, key := range envKeys {
		if err := v.BindEnv(key, strings.ToUpper(key), key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var problems []string

	var serverIDs []int
	for _, raw := range v.GetStringSlice("bandwidth_server_ids") {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, fmt.Sprintf("bandwidth_server_ids: %q is not an integer", raw))
			continue
		}
		serverIDs = append(serverIDs, id)
	}

	tick, err := parseTick(v.Get("tick"))
	if err != nil {
		problems = append(problems, fmt.Sprintf("tick: %v", err))
	}

	cfg := &Config{
		Tick: tick,
		Bandwidth: BandwidthConfig{
			Type:        strings.ToLower(v.GetString("bandwidth_probe")),
			Interval:    seconds(v.GetInt("speedtest_interval")),
			ServerIDs:   serverIDs,
			DownloadURL: v.GetString("bandwidth_download_url"),
			UploadURL:   v.GetString("bandwidth_upload_url"),
			UploadBytes: v.GetInt64("bandwidth_upload_bytes"),
		},
		Latency: LatencyConfig{
			Type:        strings.ToLower(v.GetString("latency_probe")),
			Interval:    seconds(v.GetInt("latency_interval")),
			Targets:     v.GetStringSlice("latency_servers"),
			Timeout:     seconds(v.GetInt("latency_timeout")),
			Count:       v.GetInt("latency_count"),
			Privileged:  v.GetBool("latency_privileged"),
			DNSQuery:    v.GetString("dns_query"),
			DNSProtocol: strings.ToLower(v.GetString("dns_protocol")),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry_max_attempts"),
			Timeout:     seconds(v.GetInt("retry_timeout")),
			BackoffBase: v.GetFloat64("retry_backoff_base"),
		},
		MetricsListen: v.GetString("metrics_listen"),
		PIDFile:       v.GetString("pid_file"),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
	}

	if err := v.UnmarshalKey("outputs", &cfg.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}

	// The influx_* keys describe the default output. It is required unless
	// an explicit outputs list is configured.
	influx := OutputConfig{
		Name:   "influxdb",
		Type:   "influxdb",
		URL:    v.GetString("influx_url"),
		Token:  v.GetString("influx_token"),
		Org:    v.GetString("influx_org"),
		Bucket: v.GetString("influx_bucket"),
	}
	if len(cfg.Outputs) == 0 || influx.URL != "" {
		cfg.Outputs = append([]OutputConfig{influx}, cfg.Outputs...)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// MinTick is the shortest scheduler polling period accepted.
const MinTick = 100 * time.Millisecond

// parseTick accepts a duration string ("500ms", "1s") or a bare number of
// seconds, like the other interval keys.
func parseTick(raw any) (time.Duration, error) {
	if f, err := cast.ToFloat64E(raw); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := cast.ToDurationE(raw)
	if err != nil {
		return 0, fmt.Errorf("%v is neither a duration nor a number of seconds", raw)
	}
	return d, nil
}

// ValidationError lists every configuration problem found at startup.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the whole configuration and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Tick < MinTick {
		add("tick must be at least %s", MinTick)
	}
	if c.Bandwidth.Interval <= 0 {
		add("speedtest_interval must be a positive number of seconds")
	}
	if c.Latency.Interval <= 0 {
		add("latency_interval must be a positive number of seconds")
	}
	if c.Latency.Timeout <= 0 {
		add("latency_timeout must be a positive number of seconds")
	}
	if c.Latency.Count < 1 {
		add("latency_count must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > retry.MaxAttemptsLimit {
		add("retry_max_attempts must be between 1 and %d", retry.MaxAttemptsLimit)
	}
	if c.Retry.Timeout <= 0 {
		add("retry_timeout must be a positive number of seconds")
	}
	if c.Retry.BackoffBase <= 0 {
		add("retry_backoff_base must be positive")
	}
	if c.Bandwidth.Type == "http" && c.Bandwidth.DownloadURL == "" {
		add("missing bandwidth_download_url")
	}

	for i, o := range c.Outputs {
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("outputs[%d]", i)
		}
		switch o.Type {
		case "influxdb":
			prefix := name + "."
			if o.Name == "influxdb" && i == 0 {
				prefix = "influx_"
			}
			for _, f := range []struct{ key, val string }{
				{"url", o.URL}, {"token", o.Token}, {"org", o.Org}, {"bucket", o.Bucket},
			} {
				if f.val == "" {
					add("missing %s%s", prefix, f.key)
				}
			}
		case "file":
			if o.Path == "" {
				add("missing %s.path", name)
			}
		case "ws", "zmq":
			if o.Listen == "" {
				add("missing %s.listen", name)
			}
		case "":
			add("missing %s.type", name)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// MarshalZerologObject logs the effective configuration with secrets hidden.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Dur("tick", c.Tick).
		Str("bandwidth_probe", c.Bandwidth.Type).
		Dur("speedtest_interval", c.Bandwidth.Interval).
		Str("latency_probe", c.Latency.Type).
		Dur("latency_interval", c.Latency.Interval).
		Strs("latency_servers", c.Latency.Targets).
		Int("retry_max_attempts", c.Retry.MaxAttempts).
		Dur("retry_timeout", c.Retry.Timeout).
		Float64("retry_backoff_base", c.Retry.BackoffBase)

	outputs := zerolog.Arr()
	for _, o := range c.Outputs {
		token := "None"
		if o.Token != "" {
			token = "<hidden>"
		}
		outputs.Dict(zerolog.Dict().
			Str("name", o.Name).
			Str("type", o.Type).
			Str("url", o.URL).
			Str("org", o.Org).
			Str("bucket", o.Bucket).
			Str("token", token).
			Str("path", o.Path).
			Str("listen", o.Listen))
	}
	e.Array("outputs", outputs)
}
