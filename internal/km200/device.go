package km200

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Device request defaults.
const (
	// DefaultUserAgent is allow-listed by gateway firmware.
	DefaultUserAgent = "TeleHeater/2.2.3"

	defaultRequestTimeout = 10 * time.Second

	// maxResponseSize bounds a single response body.
	maxResponseSize = 1 << 20
)

// Device is the gateway's HTTP API.
type Device interface {
	// Get returns the raw (still encrypted) response body for path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Post sends an encrypted body to path.
	Post(ctx context.Context, path string, body []byte) error
}

// DeviceOptions configures a DeviceClient.
type DeviceOptions struct {
	// Host is "host", "host:port" or a full http:// base URL.
	Host string

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// Timeout bounds each request round-trip. Zero means 10s.
	Timeout time.Duration

	// RequestInterval is the minimum spacing between requests. Zero disables it.
	RequestInterval time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DeviceClient talks to the gateway with at most one request in flight.
//
// The gateway is a small embedded server that becomes unstable under
// concurrent connections, so every request, including reading its body,
// runs under a single mutex shared by polling and write-back.
type DeviceClient struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter

	mu sync.Mutex
}

// NewDeviceClient creates a client for the gateway at opts.Host.
func NewDeviceClient(opts DeviceOptions) *DeviceClient {
	base := strings.TrimRight(opts.Host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	c := &DeviceClient{
		baseURL:    base,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = defaultRequestTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if opts.RequestInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.RequestInterval), 1)
	}
	return c
}

// Get fetches path. Transport errors and any status other than 200 wrap ErrFetch.
func (c *DeviceClient) Get(ctx context.Context, path string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrFetch, path, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrFetch, path, status)
	}
	return body, nil
}

// Post writes body to path. Transport errors and non-2xx statuses wrap ErrWriteTransport.
func (c *DeviceClient) Post(ctx context.Context, path string, body []byte) error {
	status, _, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %w", ErrWriteTransport, path, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: POST %s: status %d", ErrWriteTransport, path, status)
	}
	return nil
}

func (c *DeviceClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
