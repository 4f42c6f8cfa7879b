package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ActionType names one measurement a scenario can request.
type ActionType string

const (
	ActionLatency   ActionType = "latency"
	ActionDownload  ActionType = "download"
	ActionUpload    ActionType = "upload"
	ActionStreaming ActionType = "streaming"
)

// Known reports whether t is one of the supported action types.
func (t ActionType) Known() bool {
	switch t {
	case ActionLatency, ActionDownload, ActionUpload, ActionStreaming:
		return true
	}
	return false
}

// Server describes the measurement endpoint shared by every action of a run.
type Server struct {
	URL           string `mapstructure:"url" json:"url" yaml:"url"`
	WebSocketPort int    `mapstructure:"websocket_port" json:"websocketPort,omitempty" yaml:"websocket_port,omitempty"`
}

// MeasurementConfig holds the per-action parameters. It is treated as
// immutable once a measurement starts.
type MeasurementConfig struct {
	Threads          int           `mapstructure:"threads"`
	Timeout          time.Duration `mapstructure:"timeout"`
	WarmupMaxTime    time.Duration `mapstructure:"warmup_maxtime"`
	TransferMaxTime  time.Duration `mapstructure:"transfer_maxtime"`
	Datagrams        int           `mapstructure:"datagrams"`
	InterPacketTime  time.Duration `mapstructure:"inter_packet_time"`
	DelayTimeout     time.Duration `mapstructure:"delay_timeout"`
	FileSize         int64         `mapstructure:"file_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Resource         string        `mapstructure:"resource"`
	BitrateKbps      int           `mapstructure:"bitrate_kbps"`
	StartupBuffer    time.Duration `mapstructure:"startup_buffer"`
}

// Action is one entry of a scenario.
type Action struct {
	Type        ActionType        `mapstructure:"type"`
	Measurement MeasurementConfig `mapstructure:",squash"`
}

// AuthConfig selects the credentials attached to scenario and measurement requests.
type AuthConfig struct {
	Token      string `mapstructure:"token"`
	HMACKeyID  string `mapstructure:"hmac_key_id"`
	HMACSecret string `mapstructure:"hmac_secret"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   bool    `mapstructure:"propagate"`
	// Actions limits exported traces to these action types; empty traces all.
	Actions []ActionType `mapstructure:"actions"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers go out on measurement requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && t.Propagate
}

type Config struct {
	Server      Server        `mapstructure:"server"`
	Actions     []Action      `mapstructure:"actions"`
	Retries     int           `mapstructure:"retries"`
	Thresholds  []string      `mapstructure:"thresholds"`
	JSONOutput  bool          `mapstructure:"json_output"`
	YAMLOutput  bool          `mapstructure:"yaml_output"`
	Dashboard   bool          `mapstructure:"dashboard"`
	LogLevel    string        `mapstructure:"log_level"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	ScenarioURL string        `mapstructure:"scenario_url"`
	ConfigFile  string        `mapstructure:"-"`
}

const (
	defaultTimeout          = 15 * time.Second
	defaultWarmup           = 2 * time.Second
	defaultTransfer         = 5 * time.Second
	defaultDatagrams        = 20
	defaultInterPacketTime  = 100 * time.Millisecond
	defaultDelayTimeout     = 2 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultLatencyPacket    = 64
	defaultUploadChunk      = 1 << 20
	defaultDownloadSize     = 100 << 20
	defaultStreamSize       = 8 << 20
	defaultBitrateKbps      = 2500
	defaultStartupBuffer    = 2 * time.Second

	// MinProbePacketSize covers sequence, timestamp and marker.
	MinProbePacketSize = 20
)

// DefaultMeasurementConfig returns the parameters applied when a scenario
// omits a field for the given action type.
func DefaultMeasurementConfig(kind ActionType) MeasurementConfig {
	m := MeasurementConfig{
		Threads:          1,
		Timeout:          defaultTimeout,
		WarmupMaxTime:    defaultWarmup,
		TransferMaxTime:  defaultTransfer,
		Datagrams:        defaultDatagrams,
		InterPacketTime:  defaultInterPacketTime,
		DelayTimeout:     defaultDelayTimeout,
		HandshakeTimeout: defaultHandshakeTimeout,
		BitrateKbps:      defaultBitrateKbps,
		StartupBuffer:    defaultStartupBuffer,
	}
	switch kind {
	case ActionLatency:
		m.FileSize = defaultLatencyPacket
	case ActionUpload:
		m.FileSize = defaultUploadChunk
	case ActionDownload:
		m.FileSize = defaultDownloadSize
	case ActionStreaming:
		m.FileSize = defaultStreamSize
	}
	return m
}

// NewAction builds an action of the given type with default parameters.
func NewAction(kind ActionType) Action {
	return Action{Type: kind, Measurement: DefaultMeasurementConfig(kind)}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateServer(c.Server)...)

	if len(c.Actions) == 0 {
		issues = append(issues, "at least one action is required")
	}
	for i, action := range c.Actions {
		for _, issue := range validateAction(action) {
			issues = append(issues, fmt.Sprintf("actions[%d]: %s", i, issue))
		}
	}

	if c.Retries < 0 {
		issues = append(issues, "retries must be non-negative")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json_output and yaml_output are mutually exclusive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0 and 1")
	}
	for _, a := range c.Tracing.Actions {
		if !a.Known() {
			issues = append(issues, fmt.Sprintf("tracing.actions: unknown action %q", a))
		}
	}
	if c.Auth.HMACSecret != "" && strings.TrimSpace(c.Auth.HMACKeyID) == "" {
		issues = append(issues, "auth.hmac_key_id is required with auth.hmac_secret")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateServer(s Server) []string {
	var issues []string
	raw := strings.TrimSpace(s.URL)
	if raw == "" {
		issues = append(issues, "server.url is required")
	} else if u, err := url.Parse(raw); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		issues = append(issues, fmt.Sprintf("server.url %q must be an absolute http(s) URL", raw))
	}
	if s.WebSocketPort < 0 || s.WebSocketPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.websocket_port %d is out of range", s.WebSocketPort))
	}
	return issues
}

func validateAction(a Action) []string {
	var issues []string
	m := a.Measurement
	if m.Timeout <= 0 {
		issues = append(issues, "timeout must be greater than zero")
	}
	switch a.Type {
	case ActionDownload, ActionUpload:
		if m.Threads < 1 {
			issues = append(issues, "threads must be at least 1")
		}
		if m.WarmupMaxTime < 0 {
			issues = append(issues, "warmup_maxtime must be non-negative")
		}
		if m.TransferMaxTime <= 0 {
			issues = append(issues, "transfer_maxtime must be greater than zero")
		}
		if m.FileSize <= 0 {
			issues = append(issues, "file_size must be greater than zero")
		}
	case ActionLatency:
		if m.Datagrams < 1 {
			issues = append(issues, "datagrams must be at least 1")
		}
		if m.InterPacketTime < 0 {
			issues = append(issues, "inter_packet_time must be non-negative")
		}
		if m.DelayTimeout <= 0 {
			issues = append(issues, "delay_timeout must be greater than zero")
		}
		if m.HandshakeTimeout <= 0 {
			issues = append(issues, "handshake_timeout must be greater than zero")
		}
		if m.FileSize < MinProbePacketSize {
			issues = append(issues, fmt.Sprintf("file_size must be at least %d bytes for latency probes", MinProbePacketSize))
		}
	case ActionStreaming:
		if m.BitrateKbps <= 0 {
			issues = append(issues, "bitrate_kbps must be greater than zero")
		}
		if m.StartupBuffer < 0 {
			issues = append(issues, "startup_buffer must be non-negative")
		}
	default:
		issues = append(issues, fmt.Sprintf("unsupported action type %q", a.Type))
	}
	return issues
}
