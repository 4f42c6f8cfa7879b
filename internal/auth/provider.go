// Package auth attaches credentials to requests sent to scenario and
// measurement servers.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Provider decorates an outgoing request with credentials.
type Provider interface {
	// InjectHeader adds the provider's credentials to req.
	InjectHeader(ctx context.Context, req *http.Request) error
}

// New returns the provider matching the given credentials. A bearer token
// and an HMAC key may both be set; the signer then runs after the token is
// attached. It returns nil when no credentials are configured.
func New(token, keyID, secret string) Provider {
	var providers []Provider
	if strings.TrimSpace(token) != "" {
		providers = append(providers, NewStaticTokenProvider(token))
	}
	if secret != "" {
		providers = append(providers, NewHMACSigner(keyID, []byte(secret)))
	}
	switch len(providers) {
	case 0:
		return nil
	case 1:
		return providers[0]
	default:
		return chain(providers)
	}
}

type chain []Provider

func (c chain) InjectHeader(ctx context.Context, req *http.Request) error {
	for _, p := range c {
		if err := p.InjectHeader(ctx, req); err != nil {
			return err
		}
	}
	return nil
}
