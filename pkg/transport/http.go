package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP is an Executor on net/http.
type HTTP struct {
	client *http.Client
	logger *zap.Logger
}

// HTTPOptions configures the HTTP executor.
type HTTPOptions struct {
	// Client is optional; the default client carries a 30s timeout.
	Client *http.Client
	// Logger is optional.
	Logger *zap.Logger
}

// NewHTTP creates an HTTP executor.
func NewHTTP(opts HTTPOptions) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{client: client, logger: logger}
}

// Execute performs the request and classifies the outcome.
func (h *HTTP) Execute(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, NewError(KindClient, 0, fmt.Errorf("failed to build request: %w", err))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		kind := KindNetwork
		if ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			kind = KindTimeout
		}
		h.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, NewError(kind, 0, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError(KindNetwork, httpResp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}

	if kind, failed := classifyStatus(httpResp.StatusCode); failed {
		return resp, NewError(kind, httpResp.StatusCode, fmt.Errorf("server returned %s", httpResp.Status))
	}
	return resp, nil
}

// classifyStatus maps an HTTP status to a failure kind. 409 and 412 signal
// remote divergence, 408 and 429 are worth retrying, the rest of 4xx is not.
func classifyStatus(status int) (ErrorKind, bool) {
	switch {
	case status >= 200 && status < 400:
		return 0, false
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindConflict, true
	case status == http.StatusRequestTimeout:
		return KindTimeout, true
	case status == http.StatusTooManyRequests:
		return KindServer, true
	case status >= 500:
		return KindServer, true
	default:
		return KindClient, true
	}
}
