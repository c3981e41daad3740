package client

import (
	"errors"
	"net"
	"net/http"
	"time"

	"ott-proxy/work/config"
)

// maxRedirects mirrors net/http's default redirect budget
const maxRedirects = 10

// HeaderSettingClient wraps http.Client so every upstream request, including
// each redirect hop, carries the impersonation headers the CDN expects.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// CustomResponseWriter wraps http.ResponseWriter to track headers and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader  bool
	statusCode   int
	bytesWritten int64
}

// NewHeaderSettingClient builds the shared upstream client. Dials and TLS
// handshakes are bounded by ConnectTimeout, the wait for response headers by
// StreamTimeout. There is no overall timeout because bodies are long lived.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	hsc := &HeaderSettingClient{config: cfg}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.StreamTimeout,
		ForceAttemptHTTP2:     true,
		// Content-Length must describe the bytes we relay, so no transparent gunzip
		DisableCompression: true,
	}

	hsc.Client = &http.Client{
		Timeout:       0, // No overall timeout for streaming
		Transport:     transport,
		CheckRedirect: hsc.checkRedirect,
	}

	return hsc
}

// Do applies the impersonation headers and sends req.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// checkRedirect re-applies the impersonation set and the original Range on every hop.
func (hsc *HeaderSettingClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}
	hsc.setHeaders(req)
	if rng := via[0].Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	return nil
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}

// CustomResponseWriter implementation
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.bytesWritten += int64(n)
	return n, err
}

// StatusCode returns the status sent to the client, or 0 before WriteHeader.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// BytesWritten returns the number of body bytes handed to the client.
func (crw *CustomResponseWriter) BytesWritten() int64 {
	return crw.bytesWritten
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (crw *CustomResponseWriter) Unwrap() http.ResponseWriter {
	return crw.ResponseWriter
}
