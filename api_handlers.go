package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ott-proxy/work/catalog"
	"ott-proxy/work/logger"
	"ott-proxy/work/middleware"
	"ott-proxy/work/proxy"
	"ott-proxy/work/utils"
)

// StatsResponse is the live operational snapshot served by /api/stats.
type StatsResponse struct {
	LiveTokens      int    `json:"liveTokens"`
	ActiveTransfers int64  `json:"activeTransfers"`
	CachedListings  int    `json:"cachedListings"`
	CatalogItems    int    `json:"catalogItems"`
	Uptime          string `json:"uptime"`
	MemoryUsage     string `json:"memoryUsage"`
	WorkerThreads   int    `json:"workerThreads"`
	RunningWorkers  int    `json:"runningWorkers"`
	SignedLinks     bool   `json:"signedLinks"`
	Version         string `json:"version"`
}

// startTime anchors the uptime reported by /api/stats.
var startTime = time.Now()

// setupAPIRoutes registers the JSON API. Every endpoint gets CORS and gzip;
// the media routes are registered elsewhere and never compressed.
func setupAPIRoutes(router *mux.Router, a *app) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.CORS, middleware.Gzip)

	api.HandleFunc("/stream/{item}", handleStreamLinks(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/search", handleSearch(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/stats", handleGetStats(a)).Methods("GET", "OPTIONS")

	router.Handle("/health", middleware.CORS(http.HandlerFunc(handleHealth))).Methods("GET", "OPTIONS")
}

// handleStreamLinks issues secure links for every quality of an item.
func handleStreamLinks(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := mux.Vars(r)["item"]
		quality := r.URL.Query().Get("quality")
		if quality == "" {
			quality = "720P"
		}

		info, err := a.catalog.StreamLinks(r.Context(), itemID, quality)
		if err != nil {
			switch {
			case errors.Is(err, catalog.ErrItemNotFound):
				proxy.WriteError(w, http.StatusNotFound, fmt.Sprintf("No content found for '%s'", itemID))
			case errors.Is(err, catalog.ErrNoStream):
				proxy.WriteError(w, http.StatusNotFound, "No stream found")
			default:
				logger.Error("{api_handlers - handleStreamLinks} Failed to build links for %s: %v", itemID, err)
				proxy.WriteError(w, http.StatusBadGateway, "Catalog error")
			}
			return
		}

		logger.Debug("{api_handlers - handleStreamLinks} Issued %d links for %s (%s)", max(len(info.Qualities), 1), itemID, info.Quality)
		writeJSON(w, info)
	}
}

// handleSearch finds catalog items by title.
func handleSearch(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			proxy.WriteError(w, http.StatusBadRequest, "Missing query")
			return
		}

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 20
		}

		items, err := a.catalog.Search(r.Context(), query, limit)
		if err != nil {
			logger.Error("{api_handlers - handleSearch} Search for %q failed: %v", query, err)
			proxy.WriteError(w, http.StatusBadGateway, "Catalog error")
			return
		}
		if items == nil {
			items = []catalog.Item{}
		}

		writeJSON(w, map[string]any{"results": items})
	}
}

// handleGetStats reports live counters for monitoring.
func handleGetStats(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		stats := StatsResponse{
			LiveTokens:      a.tokens.Len(),
			ActiveTransfers: a.engine.ActiveTransfers(),
			CachedListings:  a.listings.Len(),
			CatalogItems:    a.resolver.Len(),
			Uptime:          formatDuration(time.Since(startTime)),
			MemoryUsage:     utils.FormatBytes(int64(m.Alloc)),
			WorkerThreads:   a.pool.Cap(),
			RunningWorkers:  a.pool.Running(),
			SignedLinks:     a.links.Signed(),
			Version:         Version,
		}

		writeJSON(w, stats)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{api_handlers - writeJSON} Failed to encode response: %v", err)
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
