package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codyseavey/card-pricing/internal/metrics"
)

const (
	priceTrackerService        = "pokemonpricetracker"
	priceTrackerDefaultTimeout = 30 * time.Second
	maxResponseBytes           = 10 << 20

	dailyRemainingHeader = "X-Ratelimit-Daily-Remaining"
)

// RequestOptions describes one call to the pricing API
type RequestOptions struct {
	Method string // defaults to GET
	Query  url.Values
	Body   any // JSON-encoded when non-nil
}

// PriceTrackerClientConfig configures PriceTrackerClient
type PriceTrackerClientConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// PriceTrackerClient sends authenticated requests to the PokemonPriceTracker
// API. Every request spends one unit of the daily budget before anything
// else happens; requests are also paced to RequestsPerSecond.
type PriceTrackerClient struct {
	client  *http.Client
	apiKey  string
	baseURL string
	budget  *RateBudget
	pacer   *rate.Limiter
	logger  *zap.Logger
}

// NewPriceTrackerClient creates a client spending from budget
func NewPriceTrackerClient(cfg PriceTrackerClientConfig, budget *RateBudget, logger *zap.Logger) *PriceTrackerClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: priceTrackerDefaultTimeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PriceTrackerClient{
		client:  httpClient,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		budget:  budget,
		pacer:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// Budget exposes the daily quota for status reporting
func (c *PriceTrackerClient) Budget() *RateBudget {
	return c.budget
}

// Request performs one API call and returns the raw JSON body.
// A 404 returns (nil, nil). Budget exhaustion returns ErrRateLimitExceeded,
// non-2xx returns *UpstreamError and network failures return *TransportError.
func (c *PriceTrackerClient) Request(ctx context.Context, endpoint string, opts RequestOptions) (json.RawMessage, error) {
	label := endpointLabel(endpoint)

	window, ok := c.budget.TryAcquire()
	if !ok {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "rate_limited").Inc()
		return nil, ErrRateLimitExceeded
	}
	sent := false
	defer func() {
		if !sent {
			c.budget.Release(window)
		}
	}()

	req, err := c.newRequest(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}

	if err := c.pacer.Wait(ctx); err != nil {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "transport_error").Inc()
		return nil, &TransportError{Service: priceTrackerService, Err: err}
	}

	sent = true
	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.PriceTrackerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "transport_error").Inc()
		return nil, &TransportError{Service: priceTrackerService, Err: err}
	}
	defer resp.Body.Close()

	c.syncBudget(resp.Header)

	if resp.StatusCode == http.StatusNotFound {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "not_found").Inc()
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "upstream_error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{
			Service: priceTrackerService,
			Status:  resp.StatusCode,
			Message: upstreamMessage(resp.Status, body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "transport_error").Inc()
		return nil, &TransportError{Service: priceTrackerService, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	metrics.PriceTrackerRequestsTotal.WithLabelValues(label, "ok").Inc()
	return json.RawMessage(body), nil
}

func (c *PriceTrackerClient) newRequest(ctx context.Context, endpoint string, opts RequestOptions) (*http.Request, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(opts.Query) > 0 {
		reqURL += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// syncBudget tightens the local budget from the upstream's own count
func (c *PriceTrackerClient) syncBudget(h http.Header) {
	v := h.Get(dailyRemainingHeader)
	if v == "" {
		return
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.logger.Debug("ignoring malformed quota header", zap.String("value", v))
		return
	}
	c.budget.SyncRemaining(remaining)
}

// upstreamMessage extracts {"error": ...} or {"message": ...} from an error
// body, falling back to the HTTP status text
func upstreamMessage(status string, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return status
}

// endpointLabel keeps metric cardinality bounded: "/history/123" -> "history"
func endpointLabel(endpoint string) string {
	endpoint = strings.Trim(endpoint, "/")
	if i := strings.IndexAny(endpoint, "/?"); i >= 0 {
		endpoint = endpoint[:i]
	}
	if endpoint == "" {
		return "root"
	}
	return endpoint
}
