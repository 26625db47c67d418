// Package relayclient calls a promptrelay endpoint from Go programs.
//
// A Client is created once from deployment configuration and may be shared
// between goroutines:
//
//	c, err := relayclient.New(os.Getenv("PROMPTRELAY_BASE_URL"))
//	if err != nil {
//		return err
//	}
//	text, err := c.GenerateTextWithOpenAI(ctx, "Write a haiku about Go")
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GenerateTextPath is the relay route appended to the base URL.
const GenerateTextPath = "/openai/generate-text"

const (
	DefaultTimeout   = 90 * time.Second
	maxResponseBytes = 16 << 20
)

var (
	// ErrMissingBaseURL is returned by New when no base URL is configured.
	ErrMissingBaseURL = errors.New("relayclient: base URL is required")
	// ErrInvalidBaseURL is returned by New for relative or non-http URLs.
	ErrInvalidBaseURL = errors.New("relayclient: base URL must be an absolute http(s) URL")
)

// StatusError reports a non-2xx answer from the relay endpoint. Body holds
// the endpoint's message verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Body)
}

// Client sends prompts to a relay endpoint. It holds no per-call state.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the overall request timeout. It applies to the client
// given by WithHTTPClient regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New validates baseURL and returns a Client for it. The relay path is
// appended to any path already present in baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	endpoint, err := url.JoinPath(u.String(), GenerateTextPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: DefaultTimeout},
		log:      log.With().Str("component", "relayclient").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c, nil
}

// Endpoint returns the full URL requests are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateTextWithOpenAI relays prompt and returns the completion text.
//
// On a transport failure the error from the HTTP client is returned as is;
// on a non-2xx answer a *StatusError is returned. Either way exactly one
// diagnostic is logged and no retry is attempted.
func (c *Client) GenerateTextWithOpenAI(ctx context.Context, prompt string) (string, error) {
	b, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		c.log.Error().Err(err).Msg("Error generating text with OpenAI")
		return "", err
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("request_id", reqID).Msg("Error generating text with OpenAI")
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.log.Error().Err(err).Str("request_id", reqID).Msg("Error generating text with OpenAI")
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.log.Error().Err(serr).Str("request_id", reqID).Int("status", resp.StatusCode).Msg("Error generating text with OpenAI")
		return "", serr
	}

	// the endpoint answers with a JSON string; anything else is passed through
	var text string
	if err := json.Unmarshal(body, &text); err == nil {
		return text, nil
	}
	return string(body), nil
}
