package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ott-proxy/work/buffer"
	"ott-proxy/work/client"
	"ott-proxy/work/config"
	"ott-proxy/work/proxy"
	"ott-proxy/work/securelink"
	"ott-proxy/work/tokens"
)

type fixture struct {
	router   *mux.Router
	store    *tokens.Store
	links    *securelink.Builder
	upstream *httptest.Server
	hits     int
}

func newFixture(t *testing.T, signingKey string, legacy bool) *fixture {
	t.Helper()
	f := &fixture{}

	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits++
		w.Header().Set("Content-Type", "video/mp4")
		if r.Header.Get("Range") == "bytes=0-3" {
			w.Header().Set("Content-Range", "bytes 0-3/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("0123"))
			return
		}
		w.Write([]byte("0123456789"))
	}))
	t.Cleanup(f.upstream.Close)

	cfg := config.Default()
	engine := proxy.New(cfg, client.NewHeaderSettingClient(cfg), buffer.NewBufferPool(cfg.ChunkSize))
	f.store = tokens.NewStore(time.Hour)
	f.links = securelink.NewBuilder(time.Hour, signingKey)
	f.router = mux.NewRouter()
	Register(f.router, f.store, engine, f.links, legacy)
	return f
}

func (f *fixture) get(t *testing.T, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestUnknownTokenIsNotFoundOnEveryRoute(t *testing.T) {
	f := newFixture(t, "", true)
	unknown := "ffffffffffffffffffffffffffffffff"

	cases := map[string]string{
		"/v/" + unknown + "/Film.720p.mp4": SecureLinkExpired,
		"/stream/" + unknown:               StreamLinkExpired,
		"/stream/" + unknown + "/Film.mp4": StreamLinkExpired,
	}
	for path, want := range cases {
		rec := f.get(t, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, want, detail(t, rec), path)
		assert.Contains(t, detail(t, rec), "expired")
	}
	assert.Zero(t, f.hits, "no upstream call for unknown tokens")
}

func TestSecureLinkStreamsResolvedURL(t *testing.T) {
	f := newFixture(t, "", true)
	token := f.store.Issue(f.upstream.URL + "/film.mp4")
	link := f.links.Build(token, "The Movie: Part 2!", "720p")

	rec := f.get(t, link, http.Header{"Range": {"bytes=0-3"}})

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-3/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "0123", rec.Body.String())
}

func TestBareTokenRoutes(t *testing.T) {
	f := newFixture(t, "", true)
	token := f.store.Issue(f.upstream.URL)

	for _, path := range []string{"/stream/" + token, "/stream/" + token + "/anything.mp4"} {
		rec := f.get(t, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "0123456789", rec.Body.String(), path)
	}
}

func TestRevokedTokenLooksExpired(t *testing.T) {
	f := newFixture(t, "", true)
	token := f.store.Issue(f.upstream.URL)
	f.store.Revoke(token)

	rec := f.get(t, "/stream/"+token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLegacyProxy(t *testing.T) {
	f := newFixture(t, "", true)

	rec := f.get(t, "/proxy_video?url="+url.QueryEscape(f.upstream.URL), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())

	rec = f.get(t, "/proxy_video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing URL", detail(t, rec))
}

func TestLegacyProxyCanBeDisabled(t *testing.T) {
	f := newFixture(t, "", false)

	rec := f.get(t, "/proxy_video?url="+url.QueryEscape(f.upstream.URL), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, f.hits)
}

func TestSignedLinksMustVerify(t *testing.T) {
	f := newFixture(t, "s3cret", true)
	token := f.store.Issue(f.upstream.URL)
	link := f.links.Build(token, "Film", "1080p")

	rec := f.get(t, link, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/v/"+token+"/Film.1080p.mp4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, SecureLinkExpired, detail(t, rec))

	// bare token routes are not signed
	rec = f.get(t, "/stream/"+token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
