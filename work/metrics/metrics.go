package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveTransfers tracks the number of proxied transfers currently relaying bytes.
// The "route" label distinguishes the secure, token and legacy entry points.
var ActiveTransfers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ott_proxy_active_transfers",
	Help: "Number of proxied transfers in flight",
}, []string{"route"})

// BytesTransferred counts bytes relayed from upstream to clients.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ott_proxy_bytes_transferred",
	Help: "Total bytes relayed to clients",
}, []string{"route"})

// StreamErrors counts proxy failures by category: bad_request, capacity,
// upstream, mid_stream and client_gone.
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ott_proxy_stream_errors",
	Help: "Number of stream errors",
}, []string{"route", "error_type"})

// UpstreamStatus counts upstream responses by status code.
var UpstreamStatus = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ott_proxy_upstream_responses",
	Help: "Upstream responses by status code",
}, []string{"code"})

// TokensIssued counts tokens handed out by the token store.
var TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ott_proxy_tokens_issued",
	Help: "Number of stream tokens issued",
})

// TokenMisses counts lookups for unknown or expired tokens.
var TokenMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ott_proxy_token_misses",
	Help: "Number of token lookups that found nothing",
})

// CacheRequests counts metadata cache lookups by result (hit or miss).
var CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ott_proxy_cache_requests",
	Help: "Metadata cache lookups",
}, []string{"result"})

// KeepAlivePings counts self-pings by outcome: the HTTP status code of the
// reply, or "error" when no reply arrived.
var KeepAlivePings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ott_proxy_keepalive_pings",
	Help: "Keep-alive self pings by HTTP status code, or error when the request failed",
}, []string{"outcome"})
