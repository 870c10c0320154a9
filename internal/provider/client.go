// Package provider fetches the upstream XML event catalog and maps it to
// domain events. One call passes through, outermost first: a wall-clock
// timeout, exponential-backoff retries, and a circuit breaker.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/config"
	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
)

const eventsPath = "/api/events"

// breakerName identifies the per-client breaker state in logs and metrics.
const breakerName = "external-provider"

// Client fetches online events from the upstream provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	retry      config.Retry
	breaker    *gobreaker.CircuitBreaker
	mapper     *Mapper
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient builds a Client with its own breaker state; nothing is
// registered globally.
func NewClient(cfg config.Provider, m *metrics.Metrics, logger *zap.Logger) *Client {
	logger = logger.Named("provider")

	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: uint32(cfg.Breaker.HalfOpenMax),
		// gobreaker keeps a rolling count cleared every Interval rather
		// than a fixed-size call window; the open duration doubles as the
		// closed-state counting period.
		Interval: cfg.Breaker.OpenFor,
		Timeout:  cfg.Breaker.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.Breaker.MinCalls) {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return failureRate >= float64(cfg.Breaker.ThresholdPct)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		mapper:     NewMapper(logger),
		metrics:    m,
		logger:     logger,
	}
}

// FetchOnlineEvents fetches and maps the catalog. An open breaker fails
// fast with an empty slice and nil error — at this layer it is
// indistinguishable from an upstream with no online events. Other failures
// surface after retries are exhausted.
func (c *Client) FetchOnlineEvents(ctx context.Context) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.Wait
	bo.Multiplier = c.retry.Multiplier
	bo.MaxElapsedTime = 0

	events, err := backoff.RetryWithData(func() ([]event.Event, error) {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetchOnce(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Retrying against an open breaker is pointless.
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result.([]event.Event), nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("circuit open, failing fast with empty catalog")
		return []event.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching online events: %w", err)
	}
	return events, nil
}

// fetchOnce performs a single HTTP attempt. 5xx, transport, and decode
// failures are retryable; other HTTP statuses are permanent.
func (c *Client) fetchOnce(ctx context.Context) ([]event.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+eventsPath, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("upstream returned %d", resp.StatusCode))
	}

	doc, err := decodePlanList(resp.Body)
	if err != nil {
		return nil, err
	}

	events := c.mapper.MapOnlineEvents(doc)
	c.logger.Debug("fetched upstream catalog",
		zap.Int("base_plans", len(doc.Output.BasePlans)), zap.Int("online_events", len(events)))
	return events, nil
}
