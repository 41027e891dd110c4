package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
)

// Request is a transport-agnostic HTTP request
type Request struct {
	Method  string
	BaseURL string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Response captures the status and body of a completed request
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type httpClient struct {
	client *retryablehttp.Client
	logger *logger.Logger
}

// NewDefaultClient returns a client with retries and a 30 second timeout
func NewDefaultClient(log *logger.Logger) Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	return &httpClient{client: rc, logger: log}
}

func (c *httpClient) Send(ctx context.Context, req *Request) (*Response, error) {
	target := req.BaseURL + req.Path
	if len(req.Query) > 0 {
		target = fmt.Sprintf("%s?%s", target, req.Query.Encode())
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to build HTTP request").
			Mark(ierr.ErrHTTPClient)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Request to %s failed", target).
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read response body").
			Mark(ierr.ErrHTTPClient)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warnw("http request failed",
			"method", req.Method,
			"url", target,
			"status", resp.StatusCode,
		)
		return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header},
			ierr.NewErrorf("unexpected status %d from %s", resp.StatusCode, target).
				Mark(ierr.ErrHTTPClient)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
}
