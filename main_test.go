package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ott-proxy/work/catalog"
	"ott-proxy/work/config"
)

func newTestApp(t *testing.T) (*app, http.Handler) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprintf(w, "media:%s", r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	catalogFile := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(catalogFile, []byte(fmt.Sprintf(`[
		{"subjectId": "heat", "title": "Heat", "releaseDate": "1995-12-15", "downloads": [
			{"resolution": 480, "url": "%[1]s/480"},
			{"resolution": 1080, "size": 4096, "url": "%[1]s/1080"}
		]},
		{"id": "live", "name": "Live Feed", "url": "%[1]s/live"}
	]`, upstream.URL)), 0644))

	cfg := config.Default()
	cfg.CatalogFile = catalogFile

	a, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)

	return a, a.routes()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStreamLinksThroughToMedia(t *testing.T) {
	_, h := newTestApp(t)

	rec := get(t, h, "/api/stream/heat?quality=480P")
	require.Equal(t, http.StatusOK, rec.Code)

	var info catalog.StreamInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Heat", info.Title)
	assert.Equal(t, "480p", info.Quality)
	require.Len(t, info.Qualities, 2)
	assert.Equal(t, "1080p", info.Qualities[0].Label)
	assert.NotContains(t, rec.Body.String(), "/480\"", "upstream URLs stay hidden")

	media := get(t, h, info.URL)
	assert.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, "media:/480", media.Body.String())
	assert.Equal(t, "bytes", media.Header().Get("Accept-Ranges"))
}

func TestStreamLinksAutoAndMissing(t *testing.T) {
	_, h := newTestApp(t)

	rec := get(t, h, "/api/stream/live")
	require.Equal(t, http.StatusOK, rec.Code)
	var info catalog.StreamInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Auto", info.Quality)
	assert.Equal(t, "media:/live", get(t, h, info.URL).Body.String())

	rec = get(t, h, "/api/stream/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No content found")
}

func TestSearchEndpoint(t *testing.T) {
	_, h := newTestApp(t)

	rec := get(t, h, "/api/search?q=feed")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []catalog.Item `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "live", body.Results[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/search").Code)
}

func TestStatsAndHealth(t *testing.T) {
	a, h := newTestApp(t)
	a.tokens.Issue("https://cdn.example/a.mp4")

	rec := get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.LiveTokens)
	assert.Equal(t, 2, stats.CatalogItems)
	assert.Equal(t, a.cfg.WorkerThreads, stats.WorkerThreads)
	assert.Equal(t, Version, stats.Version)

	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}

func TestAPIIsCompressedAndCORS(t *testing.T) {
	_, h := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(body), "liveTokens")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/stream/heat", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMediaRoutesAreNotCompressed(t *testing.T) {
	a, h := newTestApp(t)
	info, err := a.catalog.StreamLinks(t.Context(), "heat", "1080P")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, info.URL, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "media:/1080", rec.Body.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 30m", formatDuration(150*time.Minute))
	assert.Equal(t, "3d 4h", formatDuration(76*time.Hour))
}
