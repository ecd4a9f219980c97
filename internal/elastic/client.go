// Package elastic is the sidecar's admin client for the managed
// Elasticsearch node: snapshot repositories, snapshots and node fs stats.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/time/rate"

	logx "escar/pkg/logx"
)

const (
	defaultAddress        = "http://127.0.0.1:9200"
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4 << 10
)

type Config struct {
	Addresses []string
	Username  string
	Password  string

	// RatePerSec bounds admin calls; 0 disables limiting.
	RatePerSec     float64
	RequestTimeout time.Duration

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// APIError is a non-2xx answer from Elasticsearch.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elasticsearch %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	es      *elasticsearch.Client
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 {
		addrs = []string{defaultAddress}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	var rt http.RoundTripper = cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	if cfg.RatePerSec > 0 {
		burst := max(1, int(cfg.RatePerSec))
		rt = &limitedTransport{next: rt, lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addrs,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Client{es: es, timeout: timeout, log: log}, nil
}

// limitedTransport waits on a token bucket before every request.
type limitedTransport struct {
	next http.RoundTripper
	lim  *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.lim.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// decode consumes res. A non-2xx status becomes *APIError; a nil out skips
// decoding.
func decode(op string, res *esapi.Response, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &APIError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
