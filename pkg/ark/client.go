package ark

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

const (
	headerSign      = "x-s"
	headerTimestamp = "x-t"
	headerTrace     = "X-B3-Traceid"

	traceAlphabet = "abcdef0123456789"
	userAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
)

// Envelope is the uniform result of one upstream call. A well-formed
// error response is not an error: Success is false and Message/Code
// carry what the platform said. Raw is set when the body was not JSON.
type Envelope struct {
	Success bool
	Code    int
	Message string
	Raw     string
	Body    json.RawMessage
}

// Decode unmarshals the full JSON body into v.
func (e *Envelope) Decode(v any) error {
	if e == nil || len(e.Body) == 0 {
		return errors.New(errors.CodeProtocol, "response body is not json")
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return errors.Wrap(errors.CodeProtocol, err, "decoding response body")
	}
	return nil
}

// Client is the signed, rate-limited HTTP client for the note
// platform. The last-request timestamp is the only shared mutable
// state and is guarded by mu; holding mu across the pre-request gate
// serializes concurrent callers so spacing is preserved.
type Client struct {
	httpClient *http.Client
	cfg        config.ArkConfig
	logg       *logger.Logger

	mu          sync.Mutex
	lastRequest time.Time

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// ClientParams carries the dependencies for NewClient.
type ClientParams struct {
	Config     config.ArkConfig
	Logger     *logger.Logger
	HTTPClient *http.Client
}

// NewClient builds a Client. The HTTP client is optional.
func NewClient(params ClientParams) (*Client, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		timeout := params.Config.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		cfg:        params.Config,
		logg:       params.Logger,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}, nil
}

// EdithBaseURL returns the configured publish API origin.
func (c *Client) EdithBaseURL() string {
	return c.cfg.EdithBaseURL
}

// Post issues a signed POST. A nil payload signs over "null" the same
// way the web client does.
func (c *Client) Post(ctx context.Context, baseURL, path string, payload any) (*Envelope, error) {
	return c.do(ctx, http.MethodPost, baseURL, path, payload)
}

// Get issues a signed GET with no request body.
func (c *Client) Get(ctx context.Context, baseURL, path string) (*Envelope, error) {
	return c.do(ctx, http.MethodGet, baseURL, path, nil)
}

func (c *Client) do(ctx context.Context, method, baseURL, path string, payload any) (*Envelope, error) {
	body, err := EncodeBody(payload)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "serializing request payload")
	}

	if baseURL == "" {
		baseURL = c.cfg.CreatorBaseURL
	}
	url := strings.TrimSuffix(baseURL, "/") + path

	c.gate(ctx)

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	trace := newTraceID()
	ctx = c.logg.WithTraceID(ctx, trace)

	var envelope *Envelope
	backoff := retry.WithMaxRetries(uint64(c.maxRetries()), retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reqBody io.Reader
		if method != http.MethodGet {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		c.setHeaders(req, timestamp, path, body, trace)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isTransportError(err) {
				c.logg.Warn(ctx, fmt.Sprintf("transport failure calling %s, retrying", path))
				return retry.RetryableError(err)
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		envelope, err = parseEnvelope(resp)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransport, err, fmt.Sprintf("calling %s", path))
	}

	if !envelope.Success {
		c.logg.Warn(ctx, fmt.Sprintf("upstream rejected %s: %s", path, envelope.Message))
	}

	return envelope, nil
}

// gate enforces the jittered minimum inter-request interval.
func (c *Client) gate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	minGap := c.cfg.MinRequestGap
	maxGap := c.cfg.MaxRequestGap
	if minGap <= 0 {
		c.lastRequest = c.now()
		return
	}

	elapsed := c.now().Sub(c.lastRequest)
	if !c.lastRequest.IsZero() && elapsed < minGap {
		low := minGap - elapsed
		high := maxGap - elapsed
		if high < low {
			high = low
		}
		wait := low
		if high > low {
			wait += time.Duration(rand.Int63n(int64(high - low)))
		}
		c.sleep(ctx, wait)
	}
	c.lastRequest = c.now()
}

func (c *Client) setHeaders(req *http.Request, timestamp, path string, body []byte, trace string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.cfg.CreatorBaseURL)
	req.Header.Set("Referer", c.cfg.CreatorBaseURL+"/app-item/list/shelf?from=ark-login")
	req.Header.Set(headerTrace, trace)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSign, Sign(timestamp, path, body))
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
	if c.cfg.Authorization != "" {
		req.Header.Set("Authorization", c.cfg.Authorization)
	}
}

func (c *Client) maxRetries() int {
	if c.cfg.TransportRetry > 0 {
		return c.cfg.TransportRetry
	}
	return 3
}

func parseEnvelope(resp *http.Response) (*Envelope, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	var parsed struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Non-JSON bodies degrade to a raw-text envelope.
		return &Envelope{
			Success: false,
			Code:    resp.StatusCode,
			Raw:     string(raw),
		}, nil
	}

	envelope := &Envelope{
		Success: parsed.Success,
		Code:    resp.StatusCode,
		Body:    json.RawMessage(raw),
	}
	if !parsed.Success {
		envelope.Message = parsed.Msg
		if envelope.Message == "" {
			envelope.Message = parsed.Message
		}
		if parsed.Code != 0 {
			envelope.Code = parsed.Code
		}
	}
	return envelope, nil
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}

func newTraceID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = traceAlphabet[rand.Intn(len(traceAlphabet))]
	}
	return string(b)
}
