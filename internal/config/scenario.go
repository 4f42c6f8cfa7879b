package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Scenario is the measurement plan published by a scenario service.
type Scenario struct {
	ID      string
	Server  Server
	Actions []Action
}

// ParseScenario decodes a scenario document of the form
//
//	{"id": "...", "server": {"url": "...", "websocketPort": 8081},
//	 "actions": [{"type": "latency", "datagrams": 20}, ...]}
//
// Timing fields are milliseconds.
func ParseScenario(data []byte) (Scenario, error) {
	if !gjson.ValidBytes(data) {
		return Scenario{}, errors.New("scenario document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	var sc Scenario
	sc.ID = doc.Get("id").String()

	server := doc.Get("server")
	if server.Exists() {
		sc.Server.URL = strings.TrimSpace(server.Get("url").String())
		for _, key := range []string{"websocketPort", "websocket_port", "wsPort"} {
			if port := server.Get(key); port.Exists() {
				sc.Server.WebSocketPort = int(port.Int())
				break
			}
		}
	}

	actions := doc.Get("actions")
	if !actions.IsArray() {
		return Scenario{}, errors.New("scenario document has no actions array")
	}
	var parseErr error
	idx := 0
	actions.ForEach(func(_, value gjson.Result) bool {
		defer func() { idx++ }()
		if !value.IsObject() {
			parseErr = fmt.Errorf("actions[%d]: expected object", idx)
			return false
		}
		action, err := parseAction(value.Value())
		if err != nil {
			parseErr = fmt.Errorf("actions[%d]: %w", idx, err)
			return false
		}
		sc.Actions = append(sc.Actions, action)
		return true
	})
	if parseErr != nil {
		return Scenario{}, parseErr
	}
	return sc, nil
}

// applyTo copies the scenario's server and actions into cfg. An empty
// server URL keeps the configured one.
func (s Scenario) applyTo(cfg *Config) {
	if s.Server.URL != "" {
		cfg.Server = s.Server
	}
	if len(s.Actions) > 0 {
		cfg.Actions = s.Actions
	}
}
