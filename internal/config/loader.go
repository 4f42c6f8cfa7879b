package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/auth"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
)

const (
	scenarioFetchTimeout = 30 * time.Second
	maxScenarioBytes     = 1 << 20
)

// Loader handles loading configuration from files, scenario documents and
// command-line arguments.
type Loader struct {
	client *http.Client
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{client: httpclient.NewClient(scenarioFetchTimeout)}
}

// Load parses command-line arguments, the optional config file and the
// optional scenario document into a Config. Precedence, lowest first:
// defaults, config file, scenario document, flags.
func (l *Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		LogLevel:   "warn",
		ConfigFile: configPath,
		Tracing:    TracingConfig{Protocol: "grpc", SampleRate: 1},
	}

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if flagSet.Changed("scenario-url") {
		val, _ := flagSet.GetString("scenario-url")
		cfg.ScenarioURL = strings.TrimSpace(val)
	}
	if flagSet.Changed("auth-token") {
		val, _ := flagSet.GetString("auth-token")
		cfg.Auth.Token = strings.TrimSpace(val)
	}
	if cfg.ScenarioURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), scenarioFetchTimeout)
		defer cancel()
		scenario, err := l.FetchScenario(ctx, cfg.ScenarioURL, auth.New(cfg.Auth.Token, cfg.Auth.HMACKeyID, cfg.Auth.HMACSecret))
		if err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		scenario.applyTo(cfg)
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Server.URL = strings.TrimRight(strings.TrimSpace(cfg.Server.URL), "/")
	return cfg, nil
}

// FetchScenario retrieves and parses a scenario document.
func (l *Loader) FetchScenario(ctx context.Context, target string, provider auth.Provider) (Scenario, error) {
	client := l.client
	if client == nil {
		client = httpclient.NewClient(scenarioFetchTimeout)
	}
	data, err := httpclient.Fetch(ctx, client, httpclient.NewRequestBuilder(provider, false), target, maxScenarioBytes)
	if err != nil {
		return Scenario{}, err
	}
	return ParseScenario(data)
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "server"); ok {
		server, err := parseServer(raw)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		cfg.Server = server
	}

	if raw, ok := lookupSetting(settings, "actions"); ok {
		actions, err := parseActions(raw)
		if err != nil {
			return fmt.Errorf("actions: %w", err)
		}
		cfg.Actions = actions
	}

	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = vals
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "yamloutput", "yaml_output", "yaml-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("yamlOutput: %w", err)
		}
		cfg.YAMLOutput = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "scenariourl", "scenario_url", "scenario-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("scenarioURL: %w", err)
		}
		cfg.ScenarioURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "auth"); ok {
		a, err := parseAuth(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		cfg.Auth = a
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(raw, &cfg.Tracing); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func parseServer(raw interface{}) (Server, error) {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return Server{}, err
	}
	var server Server
	if v, ok := lookupSetting(settings, "url"); ok {
		s, err := asString(v)
		if err != nil {
			return Server{}, fmt.Errorf("url: %w", err)
		}
		server.URL = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(settings, "websocketport", "websocket_port", "websocket-port"); ok {
		port, err := asInt(v)
		if err != nil {
			return Server{}, fmt.Errorf("websocketPort: %w", err)
		}
		server.WebSocketPort = port
	}
	return server, nil
}

func parseActions(raw interface{}) ([]Action, error) {
	items, err := toInterfaceSlice(raw)
	if err != nil {
		return nil, err
	}
	actions := make([]Action, 0, len(items))
	for i, item := range items {
		action, err := parseAction(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// parseAction starts from the defaults of the action's type and overrides
// the fields present in raw.
func parseAction(raw interface{}) (Action, error) {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return Action{}, err
	}
	typeRaw, ok := lookupSetting(settings, "type", "action")
	if !ok {
		return Action{}, errors.New("type is required")
	}
	typ, err := asString(typeRaw)
	if err != nil {
		return Action{}, fmt.Errorf("type: %w", err)
	}
	action := NewAction(ActionType(strings.ToLower(strings.TrimSpace(typ))))

	// Scenario documents may nest the parameters under "config".
	if nested, ok := lookupSetting(settings, "config", "parameters"); ok {
		inner, err := toStringKeyMap(nested)
		if err != nil {
			return Action{}, fmt.Errorf("config: %w", err)
		}
		if err := applyMeasurementSettings(&action.Measurement, inner); err != nil {
			return Action{}, err
		}
	}
	if err := applyMeasurementSettings(&action.Measurement, settings); err != nil {
		return Action{}, err
	}
	return action, nil
}

func applyMeasurementSettings(m *MeasurementConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "threads"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("threads: %w", err)
		}
		m.Threads = val
	}

	durations := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"timeout"}, &m.Timeout},
		{[]string{"warmup_maxtime", "warmup-maxtime", "warmupmaxtime"}, &m.WarmupMaxTime},
		{[]string{"transfer_maxtime", "transfer-maxtime", "transfermaxtime"}, &m.TransferMaxTime},
		{[]string{"inter_packet_time", "inter-packet-time", "interpackettime"}, &m.InterPacketTime},
		{[]string{"delay_timeout", "delay-timeout", "delaytimeout"}, &m.DelayTimeout},
		{[]string{"handshake_timeout", "handshake-timeout", "handshaketimeout"}, &m.HandshakeTimeout},
		{[]string{"startup_buffer", "startup-buffer", "startupbuffer"}, &m.StartupBuffer},
	}
	for _, d := range durations {
		raw, ok := lookupSetting(settings, d.keys...)
		if !ok {
			continue
		}
		val, err := asMillis(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.keys[0], err)
		}
		*d.dst = val
	}

	if raw, ok := lookupSetting(settings, "datagrams"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("datagrams: %w", err)
		}
		m.Datagrams = val
	}
	if raw, ok := lookupSetting(settings, "file_size", "file-size", "filesize"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("file_size: %w", err)
		}
		m.FileSize = val
	}
	if raw, ok := lookupSetting(settings, "resource", "path", "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("resource: %w", err)
		}
		m.Resource = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "bitrate_kbps", "bitrate-kbps", "bitratekbps"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("bitrate_kbps: %w", err)
		}
		m.BitrateKbps = val
	}
	return nil
}

func parseAuth(raw interface{}) (AuthConfig, error) {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return AuthConfig{}, err
	}
	var a AuthConfig
	fields := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"token"}, &a.Token},
		{[]string{"hmac_key_id", "hmac-key-id", "hmackeyid"}, &a.HMACKeyID},
		{[]string{"hmac_secret", "hmac-secret", "hmacsecret"}, &a.HMACSecret},
	}
	for _, f := range fields {
		if v, ok := lookupSetting(settings, f.keys...); ok {
			s, err := asString(v)
			if err != nil {
				return AuthConfig{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(s)
		}
	}
	return a, nil
}

func parseTracing(raw interface{}, t *TracingConfig) error {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(settings, "endpoint"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(settings, "protocol"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(settings, "insecure"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = b
	}
	if v, ok := lookupSetting(settings, "propagate"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = b
	}
	if v, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		f, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = f
	}
	if v, ok := lookupSetting(settings, "actions"); ok {
		vals, err := asStringSlice(v)
		if err != nil {
			return fmt.Errorf("actions: %w", err)
		}
		t.Actions = toActionTypes(vals)
	}
	return nil
}
