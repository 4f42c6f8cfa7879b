package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webtester",
		Short:         "Measure latency, throughput and streaming quality against a test server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Scenario source
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("scenario-url", "", "URL of a scenario document to fetch before running")
	flags.String("server", "", "Base URL of the measurement server")
	flags.Int("websocket-port", 0, "Port of the WebSocket latency/signaling endpoint (defaults to the server port)")
	flags.StringSlice("action", nil, "Action to run: latency, download, upload or streaming (repeatable)")

	// Measurement parameters, applied to every action they are relevant for
	flags.IntP("threads", "n", 1, "Concurrent transfer threads for download and upload")
	flags.Duration("timeout", defaultTimeout, "Hard time limit for each action")
	flags.Duration("warmup", defaultWarmup, "Warmup phase excluded from throughput")
	flags.Duration("transfer", defaultTransfer, "Measurement phase counted in throughput")
	flags.Int("datagrams", defaultDatagrams, "Latency probe packets to send")
	flags.Duration("inter-packet-time", defaultInterPacketTime, "Interval between latency probe packets")
	flags.Duration("delay-timeout", defaultDelayTimeout, "Per-packet reply timeout")
	flags.Duration("handshake-timeout", defaultHandshakeTimeout, "Datagram tier signaling timeout")
	flags.Int64("file-size", 0, "Probe packet size, upload chunk or download size in bytes (0 keeps the action default)")
	flags.String("resource", "", "Resource path or URL overriding the action's default endpoint")
	flags.Int("bitrate-kbps", defaultBitrateKbps, "Media bitrate assumed for progressive streams")

	// Run control
	flags.Int("retries", 0, "Times to re-run an action that ends with a terminal error")
	flags.StringSlice("threshold", nil, "Pass/fail assertion (repeatable, e.g. 'latency:jitter < 10')")

	// Output
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("yaml-output", false, "Emit YAML formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")

	// Auth
	flags.String("auth-token", "", "Bearer token for the scenario and measurement server")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1, "Trace sampling ratio between 0 and 1")
	flags.Bool("tracing-propagate", false, "Inject W3C trace headers into measurement requests")
	flags.StringSlice("tracing-action", nil, "Trace only this action type (repeatable; default all)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and the scenario document.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("server") {
		val, err := fs.GetString("server")
		if err != nil {
			return err
		}
		cfg.Server.URL = strings.TrimSpace(val)
	}
	if fs.Changed("websocket-port") {
		val, err := fs.GetInt("websocket-port")
		if err != nil {
			return err
		}
		cfg.Server.WebSocketPort = val
	}
	if fs.Changed("action") {
		vals, err := fs.GetStringSlice("action")
		if err != nil {
			return err
		}
		actions := make([]Action, 0, len(vals))
		for _, v := range vals {
			actions = append(actions, NewAction(ActionType(strings.ToLower(strings.TrimSpace(v)))))
		}
		cfg.Actions = actions
	}

	for i := range cfg.Actions {
		if err := applyMeasurementFlags(&cfg.Actions[i], fs); err != nil {
			return err
		}
	}

	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("threshold") {
		vals, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append(cfg.Thresholds, vals...)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("yaml-output") {
		val, err := fs.GetBool("yaml-output")
		if err != nil {
			return err
		}
		cfg.YAMLOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.TrimSpace(val)
	}
	if fs.Changed("auth-token") {
		val, err := fs.GetString("auth-token")
		if err != nil {
			return err
		}
		cfg.Auth.Token = strings.TrimSpace(val)
	}
	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyMeasurementFlags(action *Action, fs *pflag.FlagSet) error {
	m := &action.Measurement
	bandwidth := action.Type == ActionDownload || action.Type == ActionUpload

	if fs.Changed("threads") && bandwidth {
		val, err := fs.GetInt("threads")
		if err != nil {
			return err
		}
		m.Threads = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		m.Timeout = val
	}
	if fs.Changed("warmup") && bandwidth {
		val, err := fs.GetDuration("warmup")
		if err != nil {
			return err
		}
		m.WarmupMaxTime = val
	}
	if fs.Changed("transfer") && bandwidth {
		val, err := fs.GetDuration("transfer")
		if err != nil {
			return err
		}
		m.TransferMaxTime = val
	}
	if action.Type == ActionLatency {
		if fs.Changed("datagrams") {
			val, err := fs.GetInt("datagrams")
			if err != nil {
				return err
			}
			m.Datagrams = val
		}
		if fs.Changed("inter-packet-time") {
			val, err := fs.GetDuration("inter-packet-time")
			if err != nil {
				return err
			}
			m.InterPacketTime = val
		}
		if fs.Changed("delay-timeout") {
			val, err := fs.GetDuration("delay-timeout")
			if err != nil {
				return err
			}
			m.DelayTimeout = val
		}
		if fs.Changed("handshake-timeout") {
			val, err := fs.GetDuration("handshake-timeout")
			if err != nil {
				return err
			}
			m.HandshakeTimeout = val
		}
	}
	if fs.Changed("file-size") {
		val, err := fs.GetInt64("file-size")
		if err != nil {
			return err
		}
		if val > 0 {
			m.FileSize = val
		}
	}
	if fs.Changed("resource") {
		val, err := fs.GetString("resource")
		if err != nil {
			return err
		}
		m.Resource = strings.TrimSpace(val)
	}
	if fs.Changed("bitrate-kbps") && action.Type == ActionStreaming {
		val, err := fs.GetInt("bitrate-kbps")
		if err != nil {
			return err
		}
		m.BitrateKbps = val
	}
	return nil
}

func applyTracingFlags(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = val
	}
	if fs.Changed("tracing-action") {
		vals, err := fs.GetStringSlice("tracing-action")
		if err != nil {
			return err
		}
		t.Actions = toActionTypes(vals)
	}
	return nil
}

func toActionTypes(vals []string) []ActionType {
	out := make([]ActionType, 0, len(vals))
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, ActionType(v))
		}
	}
	return out
}
