package httpclient

import (
	"net/http"
	"time"

	"github.com/example/commerce/internal/logger"

	"go.uber.org/zap"
)

// LoggingRoundTripper logs every outbound request with its outcome and latency.
type LoggingRoundTripper struct {
	Proxied http.RoundTripper
	Service string
}

// RoundTrip executes the request and logs details.
func (lrt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	l := logger.Get().With(
		zap.String("service", lrt.Service),
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
	)

	l.Debug("outbound request started")

	resp, err := lrt.Proxied.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		l.Error("outbound request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	l.Debug("outbound request completed",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	return resp, nil
}

// NewClient returns an http.Client with logging middleware and a hard deadline.
func NewClient(service string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &LoggingRoundTripper{
			Proxied: http.DefaultTransport,
			Service: service,
		},
		Timeout: timeout,
	}
}
