package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Resolve returns the absolute URL for a measurement resource. An absolute
// resource is returned unchanged; anything else is joined to the server URL.
func (s Server) Resolve(resource string) string {
	resource = strings.TrimSpace(resource)
	if u, err := url.Parse(resource); err == nil && u.Scheme != "" && u.Host != "" {
		return resource
	}
	base := strings.TrimRight(s.URL, "/")
	if resource == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(resource, "/")
}

// WebSocketURL returns the ws(s) URL for path on the signaling port. When no
// port is configured the port of the server URL is used.
func (s Server) WebSocketURL(path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server url %q", s.URL)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	host := u.Host
	if s.WebSocketPort > 0 {
		host = net.JoinHostPort(u.Hostname(), strconv.Itoa(s.WebSocketPort))
	}
	return (&url.URL{Scheme: scheme, Host: host, Path: "/" + strings.TrimLeft(path, "/")}).String(), nil
}

// Host returns the host name of the server URL without a port.
func (s Server) Host() string {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
