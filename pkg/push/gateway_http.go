package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/resilience"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Endpoint         string
	APIKey           string
	OperationTimeout time.Duration
	// RatePerSecond caps outgoing requests; 0 disables the limit.
	RatePerSecond float64
	Burst         int
	// Breaker stops calling a failing relay; a zero MaxFailures disables it.
	Breaker    resilience.Config
	HTTPClient *http.Client
}

// HTTPGateway posts multicast requests to a push relay as JSON.
//
// Request:  {"tokens": [...], "notification": {"title", "body"}, "data": {...}}
// Response: {"successCount": n, "failureCount": n, "failedTokens": [...]}
type HTTPGateway struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     logger.Logger
}

// NewHTTPGateway builds an HTTP gateway.
func NewHTTPGateway(cfg HTTPConfig, log logger.Logger) (*HTTPGateway, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("push http endpoint is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.OperationTimeout}
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "push-http"
	}
	g := &HTTPGateway{cfg: cfg, client: client, log: logger.OrNop(log), breaker: resilience.New(cfg.Breaker, log)}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g, nil
}

type httpRequest struct {
	Tokens       []string          `json:"tokens"`
	Notification httpNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type httpNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type httpResponse struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	FailedTokens []string `json:"failedTokens"`
}

// Send posts one multicast request.
func (g *HTTPGateway) Send(ctx context.Context, tokens []string, n Notification) (Report, error) {
	if len(tokens) == 0 {
		return Report{}, nil
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Report{}, fmt.Errorf("push rate limiter: %w", err)
		}
	}
	raw, err := json.Marshal(httpRequest{
		Tokens:       tokens,
		Notification: httpNotification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
	})
	if err != nil {
		return Report{}, err
	}

	var out httpResponse
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.post(ctx, raw, &out)
	})
	if err != nil {
		return Report{}, err
	}
	g.log.Debug("push relay accepted", "tokens", len(tokens), "success", out.SuccessCount, "failure", out.FailureCount)
	return Report{SuccessCount: out.SuccessCount, FailureCount: out.FailureCount, FailedTokens: out.FailedTokens}, nil
}

func (g *HTTPGateway) post(ctx context.Context, raw []byte, out *httpResponse) error {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.OperationTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push relay responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode push relay response: %w", err)
	}
	return nil
}

// Close releases resources.
func (g *HTTPGateway) Close() error { return nil }
