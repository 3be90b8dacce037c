package cabinet

import (
	"context"
	"os"
)

// DefaultIdentityHeader carries the Telegram WebApp init data.
const DefaultIdentityHeader = "X-Telegram-Init-Data"

// IdentitySource yields the live platform identity data, or "" when the
// platform does not provide it right now.
type IdentitySource interface {
	IdentityData(ctx context.Context) (string, error)
}

// IdentityFunc adapts a function to IdentitySource.
type IdentityFunc func(ctx context.Context) (string, error)

func (f IdentityFunc) IdentityData(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticIdentity always returns the same data.
type StaticIdentity string

func (s StaticIdentity) IdentityData(context.Context) (string, error) {
	return string(s), nil
}

// EnvIdentity reads the data from an environment variable on every request.
type EnvIdentity string

func (e EnvIdentity) IdentityData(context.Context) (string, error) {
	return os.Getenv(string(e)), nil
}

// resolveIdentity prefers the live value and remembers it in the store; when
// the platform has nothing, the last remembered value is used.
func (c *Client) resolveIdentity(ctx context.Context) string {
	if c.identity != nil {
		live, err := c.identity.IdentityData(ctx)
		if err != nil {
			c.logger.Warn("Identity source failed", "error", err.Error())
		}
		if live != "" {
			if err := c.store.SetIdentityData(ctx, live); err != nil {
				c.logger.Warn("Failed to persist identity data", "error", err.Error())
			}
			return live
		}
	}

	stored, err := c.store.IdentityData(ctx)
	if err != nil {
		c.logger.Warn("Failed to read identity data", "error", err.Error())
		return ""
	}
	return stored
}
