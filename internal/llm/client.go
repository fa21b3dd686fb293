package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrTimeout = errors.New("model call exceeded its time budget")

const (
	DefaultCallTimeout = 60 * time.Second
	DefaultMaxAttempts = 2
)

// Client adds the operational wrapper around a Provider: a wall-clock
// timeout per call and a small retry on transport failure. Model output
// that merely looks wrong is not retried here; the critique loop owns that.
type Client struct {
	provider    Provider
	callTimeout time.Duration
	maxAttempts int
	logger      *slog.Logger
}

type ClientOptions struct {
	CallTimeout time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

func NewClient(provider Provider, opts ClientOptions) (*Client, error) {
	if provider == nil {
		return nil, errors.New("nil provider")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		provider:    provider,
		callTimeout: opts.CallTimeout,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		out, err := c.provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrTimeout, c.callTimeout)
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
		c.logger.Warn("model call failed", "attempt", attempt, "err", err)
	}
	return "", lastErr
}
