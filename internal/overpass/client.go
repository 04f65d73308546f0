package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
)

// Fetcher performs one GET against the interpreter.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

const maxErrorBody = 8 << 10

type Client struct {
	logger    *slog.Logger
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	startNow  func() time.Time // for tests
}

type ClientOption func(*Client)

// WithRateLimit spaces outbound requests; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(logger *slog.Logger, client *http.Client, opts ...ClientOption) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		logger:    logger,
		client:    client,
		userAgent: "overpass-layer/1.0",
		startNow:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch issues the GET. The caller bounds it with a context deadline; hitting
// that deadline is reported as ErrTimeout.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.mapCtxErr(ctx, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.mapCtxErr(ctx, fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("overpass", dur.Seconds())
	c.logger.Debug("overpass response", "status", resp.StatusCode, "duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.mapCtxErr(ctx, fmt.Errorf("read body: %w", err))
	}
	return b, nil
}

func (c *Client) mapCtxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
