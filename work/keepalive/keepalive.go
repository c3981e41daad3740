package keepalive

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ott-proxy/work/logger"
	"ott-proxy/work/metrics"
	"ott-proxy/work/tokens"
)

const pingTimeout = 10 * time.Second

// Pinger periodically requests the service's own health endpoint so hosts
// that idle out quiet instances keep this one awake.
type Pinger struct {
	url      string
	interval time.Duration
	pool     tokens.Submitter
	client   *http.Client
}

// New creates a Pinger for url. Pings run on pool.
func New(url string, interval time.Duration, pool tokens.Submitter) *Pinger {
	return &Pinger{
		url:      url,
		interval: interval,
		pool:     pool,
		client:   &http.Client{Timeout: pingTimeout},
	}
}

// Run pings every interval until ctx is cancelled. The first ping happens
// one interval after start.
func (p *Pinger) Run(ctx context.Context) {
	if p.interval <= 0 {
		logger.Debug("{keepalive - Run} Disabled (interval %s)", p.interval)
		return
	}

	logger.Info("{keepalive - Run} Pinging %s every %s", p.url, p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("{keepalive - Run} Stopped")
			return
		case <-ticker.C:
			if err := p.pool.Submit(func() { p.Ping(ctx) }); err != nil {
				metrics.KeepAlivePings.WithLabelValues("error").Inc()
				logger.Warn("{keepalive - Run} Failed to submit ping: %v", err)
			}
		}
	}
}

// Ping issues one health request. Failures are logged and otherwise ignored.
func (p *Pinger) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		metrics.KeepAlivePings.WithLabelValues("error").Inc()
		logger.Warn("{keepalive - Ping} Bad ping URL %s: %v", p.url, err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.KeepAlivePings.WithLabelValues("error").Inc()
		logger.Warn("{keepalive - Ping} Ping failed: %v", err)
		return false
	}
	resp.Body.Close()

	metrics.KeepAlivePings.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	logger.Debug("{keepalive - Ping} Pinged %s - Status: %d", p.url, resp.StatusCode)
	return resp.StatusCode < http.StatusBadRequest
}
