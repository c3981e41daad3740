package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"ott-proxy/work/logger"
	"ott-proxy/work/proxy"
	"ott-proxy/work/securelink"
	"ott-proxy/work/tokens"
)

// Messages returned when a token cannot be resolved. Unknown, revoked and
// expired tokens all read the same.
const (
	SecureLinkExpired = "Secure link expired"
	StreamLinkExpired = "Stream link expired"
)

// Resolver looks up the upstream URL behind a token. *tokens.Store satisfies it.
type Resolver interface {
	Resolve(token string) (string, error)
}

// Streamer relays an upstream URL to the client. *proxy.Engine satisfies it.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, upstreamURL, route string) error
}

// HandleSecureStream serves /v/{token}/{filename}. The filename is decorative.
// When links are signed, the exp and sig query fields must verify as well.
func HandleSecureStream(store Resolver, engine Streamer, links *securelink.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]

		if !links.Verify(token, r.URL.Query()) {
			logger.Debug("{handlers - HandleSecureStream} Signature check failed for token %s", token)
			proxy.WriteError(w, http.StatusNotFound, SecureLinkExpired)
			return
		}

		streamToken(w, r, store, engine, token, "secure", SecureLinkExpired)
	}
}

// HandleTokenStream serves /stream/{token} and /stream/{token}/{filename}.
func HandleTokenStream(store Resolver, engine Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamToken(w, r, store, engine, mux.Vars(r)["token"], "token", StreamLinkExpired)
	}
}

// HandleLegacyProxy serves /proxy_video?url=, which bypasses token indirection.
func HandleLegacyProxy(engine Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine.Serve(w, r, r.URL.Query().Get("url"), "legacy")
	}
}

func streamToken(w http.ResponseWriter, r *http.Request, store Resolver, engine Streamer, token, route, expired string) {
	upstreamURL, err := store.Resolve(token)
	if err != nil {
		if !errors.Is(err, tokens.ErrTokenNotFound) {
			logger.Error("{handlers - streamToken} Token lookup failed: %v", err)
		}
		proxy.WriteError(w, http.StatusNotFound, expired)
		return
	}

	if err := engine.Serve(w, r, upstreamURL, route); err != nil {
		logger.Debug("{handlers - streamToken} [%s] Transfer for %s ended: %v", route, r.RemoteAddr, err)
	}
}

// Register wires the streaming routes onto router.
func Register(router *mux.Router, store Resolver, engine Streamer, links *securelink.Builder, legacy bool) {
	router.HandleFunc("/v/{token}/{filename}", HandleSecureStream(store, engine, links)).Methods("GET")
	router.HandleFunc("/stream/{token}", HandleTokenStream(store, engine)).Methods("GET")
	router.HandleFunc("/stream/{token}/{filename}", HandleTokenStream(store, engine)).Methods("GET")

	if legacy {
		router.HandleFunc("/proxy_video", HandleLegacyProxy(engine)).Methods("GET")
	}
}
