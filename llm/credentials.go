package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SecretProvider supplies the provider API key at call time.
type SecretProvider interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticSecret is a fixed key, usually loaded from configuration.
type StaticSecret string

// APIKey implements SecretProvider.
func (s StaticSecret) APIKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", NewAuthenticationError("", "api key is not configured")
	}
	return key, nil
}

// String masks the key.
func (s StaticSecret) String() string {
	if s == "" {
		return "StaticSecret{}"
	}
	return "StaticSecret{***}"
}

// EnvSecret reads the key from an environment variable on every call,
// so rotating the variable takes effect without a restart.
type EnvSecret struct {
	Var string
}

// APIKey implements SecretProvider.
func (e EnvSecret) APIKey(context.Context) (string, error) {
	key := strings.TrimSpace(os.Getenv(e.Var))
	if key == "" {
		return "", NewAuthenticationError("", fmt.Sprintf("environment variable %s is empty", e.Var))
	}
	return key, nil
}

// ChainSecret returns the first provider that yields a key.
type ChainSecret []SecretProvider

// APIKey implements SecretProvider.
func (c ChainSecret) APIKey(ctx context.Context) (string, error) {
	var lastErr error
	for _, p := range c {
		if p == nil {
			continue
		}
		key, err := p.APIKey(ctx)
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewAuthenticationError("", "no secret provider configured")
	}
	return "", lastErr
}

// SecretFunc adapts a function to SecretProvider.
type SecretFunc func(ctx context.Context) (string, error)

// APIKey implements SecretProvider.
func (f SecretFunc) APIKey(ctx context.Context) (string, error) {
	return f(ctx)
}
