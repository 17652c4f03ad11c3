package telnyxclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	defaultUserAgent = "medspa-sms-coordinator/0.1"
)

var tracer = otel.Tracer("medspa.internal.messaging.telnyxclient")

// Config controls how the Telnyx client behaves.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	MaxSkew       time.Duration
	// RatePerSecond caps outbound sends. Zero disables the limiter.
	RatePerSecond float64
	// MaxRetryAfter caps how long a 429 Retry-After may stall a send.
	MaxRetryAfter time.Duration
	// OnRetry is called with the response status (0 for transport errors)
	// before each retry.
	OnRetry    func(status int)
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client sends SMS through the Telnyx messaging API and verifies its webhooks.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	maxRetryAfter time.Duration
	maxSkew       time.Duration
	limiter       *rate.Limiter
	onRetry       func(status int)
	logger        *logging.Logger
	userAgent     string
	now           func() time.Time
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyxclient: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	maxRetryAfter := cfg.MaxRetryAfter
	if maxRetryAfter <= 0 {
		maxRetryAfter = 5 * time.Second
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		backoff:       backoff,
		maxRetryAfter: maxRetryAfter,
		maxSkew:       maxSkew,
		limiter:       limiter,
		onRetry:       cfg.OnRetry,
		logger:        logger.WithComponent("telnyx"),
		userAgent:     userAgent,
		now:           time.Now,
	}, nil
}

// SendMessage triggers an SMS send request.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		From               string `json:"from"`
		To                 string `json:"to"`
		Text               string `json:"text"`
		MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	}{
		From:               req.From,
		To:                 req.To,
		Text:               req.Body,
		MessagingProfileID: req.MessagingProfileID,
	})
	if err != nil {
		return nil, fmt.Errorf("telnyxclient: marshal send body: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("telnyxclient: rate limit wait: %w", err)
		}
	}
	data, err := c.post(ctx, "/messages", body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[MessageResponse](data)
}

// VerifyWebhookSignature validates Telnyx webhook signatures.
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("telnyxclient: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telnyxclient: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telnyxclient: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := c.now().Sub(sentAt); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("telnyxclient: signature timestamp skew %s exceeds limit", diff)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telnyxclient: missing signature header")
	}
	if !hmac.Equal([]byte(Sign(c.webhookSecret, ts, payload)), []byte(actual)) {
		return errors.New("telnyxclient: signature mismatch")
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of "timestamp.payload".
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// post sends body to path, retrying transport failures, 429s and 5xx with
// exponential backoff. A Retry-After header on a 429 overrides the backoff.
func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "telnyx.post", trace.WithAttributes(attribute.String("telnyx.path", path)))
	defer span.End()

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	for attempt := 0; ; attempt++ {
		data, status, wait, err := c.attempt(ctx, endpoint, body)
		if err == nil {
			span.SetAttributes(attribute.Int("telnyx.attempts", attempt+1))
			return data, nil
		}
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			return nil, ctx.Err()
		}
		if attempt >= c.maxRetries || !shouldRetry(status, transportErr(status, err)) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "telnyx request failed")
			return nil, err
		}
		c.logger.Warn("telnyx retry", "path", path, "attempt", attempt+1, "status", status, "error", err)
		if c.onRetry != nil {
			c.onRetry(status)
		}
		if wait <= 0 {
			wait = c.backoff * time.Duration(1<<attempt)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs one request. status is zero when no response arrived.
func (c *Client) attempt(ctx context.Context, endpoint string, body []byte) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("telnyxclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("telnyxclient: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("telnyxclient: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, resp.StatusCode, 0, nil
	}
	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		wait = retryAfter(resp.Header.Get("Retry-After"), c.maxRetryAfter)
	}
	return nil, resp.StatusCode, wait, decodeAPIError(resp.StatusCode, data)
}

func transportErr(status int, err error) error {
	if status != 0 {
		return nil
	}
	return err
}

// retryAfter parses a delay-seconds Retry-After value, capped at limit.
func retryAfter(v string, limit time.Duration) time.Duration {
	sec, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || sec <= 0 {
		return 0
	}
	d := time.Duration(sec) * time.Second
	if d > limit {
		return limit
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

type apiError struct {
	StatusCode int             `json:"-"`
	Title      string          `json:"title,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

func (e *apiError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("telnyxclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &apiError{StatusCode: status, Detail: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
