package webclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/permafind/internal/logging"
)

var ErrNilRequest = errors.New("webclient: request cannot be nil")

// net/http backed implementation of WebClient.
type NetHTTPClient struct {
	client *http.Client
	cfg    Config
	logger logging.Logger
}

func NewNetHTTPClient(cfg Config, logger logging.Logger, httpClient *http.Client) (*NetHTTPClient, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	componentLogger := logger.With(logging.F("component", "webclient"), logging.F("backend", "nethttp"))

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("webclient: negative max body bytes %d", cfg.MaxBodyBytes)
	}

	componentLogger.Debug("created nethttp webclient",
		logging.F("timeout", httpClient.Timeout.String()),
		logging.F("max_body_bytes", cfg.MaxBodyBytes))

	return &NetHTTPClient{
		client: httpClient,
		cfg:    cfg,
		logger: componentLogger,
	}, nil
}

// Do executes req. Non-2xx statuses are not errors; callers inspect
// StatusCode.
func (nhc *NetHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	nhc.logger.Debug("sending http request",
		logging.F("method", method),
		logging.F("url", req.URL))

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if nhc.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", nhc.cfg.UserAgent)
	}

	resp, err := nhc.client.Do(httpReq)
	if err != nil {
		nhc.logger.Warn("http request failed",
			logging.F("method", method),
			logging.F("url", req.URL),
			logging.F("error", err))
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if nhc.cfg.MaxBodyBytes > 0 {
		// one extra byte tells a body of exactly the cap from a longer one
		reader = io.LimitReader(resp.Body, nhc.cfg.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		nhc.logger.Warn("failed to read response body",
			logging.F("method", method),
			logging.F("url", req.URL),
			logging.F("error", err))
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := false
	if nhc.cfg.MaxBodyBytes > 0 && int64(len(body)) > nhc.cfg.MaxBodyBytes {
		body = body[:nhc.cfg.MaxBodyBytes]
		truncated = true
	}

	return &Response{
		Request:    req,
		Body:       body,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		Truncated:  truncated,
		FetchedAt:  time.Now(),
	}, nil
}

// Get is a convenience method for simple GET requests
func (nhc *NetHTTPClient) Get(ctx context.Context, url string) (*Response, error) {
	return nhc.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

func (nhc *NetHTTPClient) Close() error {
	nhc.client.CloseIdleConnections()
	return nil
}
