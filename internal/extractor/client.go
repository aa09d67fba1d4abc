// Package extractor is the HTTP client for the external named-entity
// recognition service.
package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/mention"
	"github.com/onnwee/genetarget/internal/tracing"
)

// Defaults applied by NewClient.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxTextLength = 50000
	DefaultCacheTTL      = 10 * time.Minute
	extractPath          = "/extract"
	maxResponseBytes     = 8 << 20
)

// ErrMissingURL is returned when no service URL is configured.
var ErrMissingURL = errors.New("extractor URL is required")

// Extractor returns the entity mentions found in text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]mention.Mention, error)
}

// Config configures the NER client.
type Config struct {
	URL           string
	Timeout       time.Duration
	MaxTextLength int // runes; longer texts are truncated

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// CacheTTL bounds how long responses are memoized by text digest.
	// Negative disables the memo.
	CacheTTL time.Duration

	// Breaker settings. FailureThreshold consecutive failures open the breaker
	// for BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration

	Metrics *Metrics
	Logger  *slog.Logger

	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// Client calls POST {URL}/extract.
type Client struct {
	endpoint string
	maxLen   int
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	memo     *gocache.Cache
	metrics  *Metrics
	logger   *slog.Logger
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errkind.Wrap(errkind.ConfigError, "extractor.NewClient", ErrMissingURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		endpoint: base + extractPath,
		maxLen:   cfg.MaxTextLength,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ner-extractor",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Payload rejections say nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil || errkind.Is(err, errkind.DataError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if c.metrics != nil {
				c.metrics.SetBreakerState(to)
			}
		},
	})

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.CacheTTL > 0 {
		c.memo = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return c, nil
}

type extractRequest struct {
	Text string `json:"text"`
}

type entity struct {
	Type         string   `json:"type"`
	Label        string   `json:"label"`
	Text         string   `json:"text"`
	Start        int      `json:"start"`
	End          int      `json:"end"`
	Score        *float64 `json:"score"`
	NormalizedID string   `json:"normalized_id"`
}

type extractResponse struct {
	Entities *[]entity `json:"entities"`
}

// Extract sends text to the service and returns the parsed mentions.
// Failures are classified TransientIO (network, timeout, 5xx, 429, open
// breaker) or DataError (other 4xx, malformed body).
func (c *Client) Extract(ctx context.Context, text string) ([]mention.Mention, error) {
	const op = "extractor.Extract"
	text = Truncate(text, c.maxLen)

	var key string
	if c.memo != nil {
		key = digest(text)
		if v, ok := c.memo.Get(key); ok {
			c.metrics.observe(OutcomeCached, 0)
			tracing.AddEvent(ctx, "ner.memo_hit")
			return v.([]mention.Mention), nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errkind.Wrap(errkind.TransientIO, op, err)
		}
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, text)
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errkind.Wrap(errkind.TransientIO, op, err)
		}
		c.metrics.observe(outcomeFor(err), elapsed)
		return nil, err
	}
	mentions := res.([]mention.Mention)
	c.metrics.observe(OutcomeSuccess, elapsed)
	if c.memo != nil {
		c.memo.SetDefault(key, mentions)
	}
	return mentions, nil
}

func (c *Client) do(ctx context.Context, text string) ([]mention.Mention, error) {
	const op = "extractor.Extract"

	body, err := json.Marshal(extractRequest{Text: text})
	if err != nil {
		return nil, errkind.Wrap(errkind.DataError, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, payload)
	}
	return parseEntities(op, payload)
}

func statusError(op string, status int, payload []byte) error {
	snippet := strings.TrimSpace(string(payload))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	err := fmt.Errorf("unexpected status %d: %s", status, snippet)
	if status == http.StatusTooManyRequests || status >= 500 {
		return errkind.Wrap(errkind.TransientIO, op, err)
	}
	return errkind.Wrap(errkind.DataError, op, err)
}

func parseEntities(op string, payload []byte) ([]mention.Mention, error) {
	var resp extractResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errkind.Wrap(errkind.DataError, op, fmt.Errorf("decode response: %w", err))
	}
	if resp.Entities == nil {
		return nil, errkind.New(errkind.DataError, op, "response has no entities field")
	}

	out := make([]mention.Mention, 0, len(*resp.Entities))
	for _, e := range *resp.Entities {
		label := e.Type
		if label == "" {
			label = e.Label
		}
		confidence := mention.DefaultConfidence
		if e.Score != nil {
			confidence = *e.Score
		}
		out = append(out, mention.Mention{
			Type:         mention.ParseEntityType(label),
			Text:         e.Text,
			Start:        e.Start,
			End:          e.End,
			Confidence:   confidence,
			NormalizedID: e.NormalizedID,
		})
	}
	return out, nil
}

// Truncate cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i]
		}
		n++
	}
	return text
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func outcomeFor(err error) string {
	switch errkind.Of(err) {
	case errkind.DataError:
		return OutcomeRejected
	default:
		return OutcomeUnavailable
	}
}
