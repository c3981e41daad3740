package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"ott-proxy/work/buffer"
	"ott-proxy/work/client"
	"ott-proxy/work/config"
	"ott-proxy/work/logger"
	"ott-proxy/work/metrics"
	"ott-proxy/work/telemetry"
	"ott-proxy/work/utils"
)

// defaultContentType is used when the upstream does not describe its body
const defaultContentType = "video/mp4"

// Engine relays upstream media to clients. It is agnostic to how the upstream
// URL was obtained; token resolution is the caller's job. One Engine is shared
// by all routes and is safe for concurrent use.
type Engine struct {
	client      *client.HeaderSettingClient             // upstream client carrying the impersonation headers
	buffers     *buffer.BufferPool                      // relay chunk buffers
	limiters    *xsync.MapOf[string, ratelimit.Limiter] // per upstream host request pacing
	rateLimit   int                                     // requests per second per host, 0 is unlimited
	readTimeout time.Duration                           // longest allowed gap between upstream reads
	slots       chan struct{}                           // admission semaphore for concurrent transfers
	active      atomic.Int64                            // transfers currently relaying
	obfuscate   bool                                    // hide upstream URLs in logs
}

// New creates an Engine sized by cfg.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, bufferPool *buffer.BufferPool) *Engine {
	logger.Debug("{proxy/proxy - New} Engine: %d slots, %s chunks, %s read timeout",
		cfg.MaxConcurrentStreams, utils.FormatBytes(cfg.ChunkSize), cfg.StreamTimeout)

	return &Engine{
		client:      httpClient,
		buffers:     bufferPool,
		limiters:    xsync.NewMapOf[string, ratelimit.Limiter](),
		rateLimit:   cfg.UpstreamRateLimit,
		readTimeout: cfg.StreamTimeout,
		slots:       make(chan struct{}, cfg.MaxConcurrentStreams),
		obfuscate:   cfg.ObfuscateUrls,
	}
}

// ActiveTransfers returns the number of transfers currently relaying.
func (e *Engine) ActiveTransfers() int64 {
	return e.active.Load()
}

// Serve proxies upstreamURL to w on behalf of r. The route label only feeds
// metrics and logs.
//
// Failures before the response header is committed are written to w as a JSON
// error with the status from StatusFor. Failures after that truncate the body.
// Either way the error is returned so callers can observe it; the response is
// complete by the time Serve returns.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, upstreamURL, route string) error {
	target, err := validateURL(upstreamURL)
	if err != nil {
		e.reject(w, route, "bad_request", err)
		return err
	}

	// acquire a transfer slot without queueing
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	default:
		logger.Warn("{proxy/proxy - Serve} Max concurrent streams reached (%d), rejecting %s", cap(e.slots), r.RemoteAddr)
		e.reject(w, route, "capacity", ErrAtCapacity)
		return ErrAtCapacity
	}

	e.limiterFor(target.Host).Take()
	if r.Context().Err() != nil {
		metrics.StreamErrors.WithLabelValues(route, "client_gone").Inc()
		logger.Debug("{proxy/proxy - Serve} [%s] Client left while waiting for the rate limiter", route)
		return ErrClientGone
	}

	// the transfer context dies with the client request or the read watchdog
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		badRequest := &BadRequestError{Reason: err.Error()}
		e.reject(w, route, "bad_request", badRequest)
		return badRequest
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	logger.Debug("{proxy/proxy - Serve} [%s] Opening upstream %s (range %q)",
		route, utils.LogURLWithFlag(e.obfuscate, target.String()), req.Header.Get("Range"))

	resp, err := e.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			metrics.StreamErrors.WithLabelValues(route, "client_gone").Inc()
			logger.Debug("{proxy/proxy - Serve} [%s] Client left before upstream answered", route)
			return ErrClientGone
		}

		upstreamErr := &UpstreamError{Err: unwrapURLError(err)}
		logger.Error("{proxy/proxy - Serve} [%s] Upstream %s failed: %v",
			route, utils.LogURLWithFlag(e.obfuscate, target.String()), upstreamErr.Err)
		telemetry.CaptureError(upstreamErr, map[string]string{"route": route, "stage": "connect"})
		e.reject(w, route, "upstream", upstreamErr)
		return upstreamErr
	}
	defer resp.Body.Close()

	metrics.UpstreamStatus.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	return e.relay(ctx, cancel, w, r, resp, route)
}

// relay commits the response header and copies the upstream body chunk by chunk.
func (e *Engine) relay(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, r *http.Request, resp *http.Response, route string) error {
	e.active.Add(1)
	metrics.ActiveTransfers.WithLabelValues(route).Inc()
	defer func() {
		e.active.Add(-1)
		metrics.ActiveTransfers.WithLabelValues(route).Dec()
	}()

	crw := client.NewCustomResponseWriter(w)
	copyHeaders(crw.Header(), resp.Header)
	crw.WriteHeader(resp.StatusCode)
	crw.Flush()

	// a single upstream read blocking for readTimeout cancels the transfer.
	// Client writes are not timed, so a paused player keeps its stream.
	var idle atomic.Bool
	watchdog := time.AfterFunc(e.readTimeout, func() {
		idle.Store(true)
		cancel()
	})
	watchdog.Stop()
	defer watchdog.Stop()

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)
	chunk := e.buffers.Chunk(buf)

	bytesOut := metrics.BytesTransferred.WithLabelValues(route)

	for {
		watchdog.Reset(e.readTimeout)
		n, readErr := resp.Body.Read(chunk)
		watchdog.Stop()

		if n > 0 {
			if _, writeErr := crw.Write(chunk[:n]); writeErr != nil {
				// stop pulling; the deferred cancel and Close release the upstream
				metrics.StreamErrors.WithLabelValues(route, "client_gone").Inc()
				logger.Debug("{proxy/proxy - relay} [%s] Client %s went away after %s: %v",
					route, r.RemoteAddr, utils.FormatBytes(crw.BytesWritten()), writeErr)
				return ErrClientGone
			}
			crw.Flush()
			bytesOut.Add(float64(n))
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			logger.Debug("{proxy/proxy - relay} [%s] Transfer complete: %d, %s to %s",
				route, crw.StatusCode(), utils.FormatBytes(crw.BytesWritten()), r.RemoteAddr)
			return nil
		}

		if r.Context().Err() != nil {
			metrics.StreamErrors.WithLabelValues(route, "client_gone").Inc()
			logger.Debug("{proxy/proxy - relay} [%s] Client %s disconnected after %s",
				route, r.RemoteAddr, utils.FormatBytes(crw.BytesWritten()))
			return ErrClientGone
		}

		if idle.Load() || ctx.Err() != nil {
			readErr = errors.New("upstream idle for " + e.readTimeout.String())
		}

		midErr := &MidStreamError{Written: crw.BytesWritten(), Err: readErr}
		metrics.StreamErrors.WithLabelValues(route, "mid_stream").Inc()
		logger.Error("{proxy/proxy - relay} [%s] %v", route, midErr)
		telemetry.CaptureError(midErr, map[string]string{"route": route, "stage": "relay"})
		return midErr
	}
}

// reject counts and writes an error that happened before the header was committed.
func (e *Engine) reject(w http.ResponseWriter, route, errorType string, err error) {
	metrics.StreamErrors.WithLabelValues(route, errorType).Inc()
	WriteError(w, StatusFor(err), Detail(err))
}

// limiterFor returns the request pacer for host, creating it on first use.
func (e *Engine) limiterFor(host string) ratelimit.Limiter {
	limiter, _ := e.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		if e.rateLimit <= 0 {
			return ratelimit.NewUnlimited()
		}
		logger.Debug("{proxy/proxy - limiterFor} Created rate limiter for %s: %d req/sec", host, e.rateLimit)
		return ratelimit.New(e.rateLimit)
	})
	return limiter
}

// copyHeaders copies the response headers a player needs and nothing else.
func copyHeaders(dst, src http.Header) {
	contentType := src.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	dst.Set("Content-Type", contentType)

	if v := src.Get("Content-Length"); v != "" {
		dst.Set("Content-Length", v)
	}
	if v := src.Get("Content-Range"); v != "" {
		dst.Set("Content-Range", v)
	}
	dst.Set("Accept-Ranges", "bytes")
}

// validateURL accepts absolute http and https URLs only.
func validateURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, &BadRequestError{Reason: "unparseable"}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, &BadRequestError{Reason: "unsupported scheme " + strconv.Quote(target.Scheme)}
	}
	if target.Host == "" {
		return nil, &BadRequestError{Reason: "missing host"}
	}
	return target, nil
}

// unwrapURLError drops the *url.Error wrapper so the upstream URL never
// appears in client facing messages.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return errors.New("upstream timeout: " + urlErr.Err.Error())
		}
		return urlErr.Err
	}
	return err
}
