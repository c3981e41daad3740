package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ott-proxy/work/buffer"
	"ott-proxy/work/cache"
	"ott-proxy/work/catalog"
	"ott-proxy/work/client"
	"ott-proxy/work/config"
	"ott-proxy/work/handlers"
	"ott-proxy/work/keepalive"
	"ott-proxy/work/logger"
	"ott-proxy/work/proxy"
	"ott-proxy/work/securelink"
	"ott-proxy/work/telemetry"
	"ott-proxy/work/tokens"
	"ott-proxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// shutdownTimeout bounds graceful shutdown after SIGINT or SIGTERM
const shutdownTimeout = 10 * time.Second

// app holds the long lived components shared by the routes.
type app struct {
	cfg      *config.Config
	pool     *ants.Pool
	tokens   *tokens.Store
	listings cache.Cache[[]catalog.Quality]
	links    *securelink.Builder
	engine   *proxy.Engine
	resolver *catalog.StaticResolver
	catalog  *catalog.Service
}

// newApp wires every component from cfg. Nothing is started.
func newApp(cfg *config.Config) (*app, error) {
	pool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	resolver, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		pool.Release()
		return nil, err
	}

	bufferPool := buffer.NewBufferPool(cfg.ChunkSize)
	httpClient := client.NewHeaderSettingClient(cfg)

	a := &app{
		cfg:      cfg,
		pool:     pool,
		tokens:   tokens.NewStore(cfg.TokenTTL),
		listings: cache.New[[]catalog.Quality](cfg.CacheMaxEntries, cfg.CacheDuration),
		links:    securelink.NewBuilder(cfg.LinkLifetime, cfg.LinkSigningKey),
		engine:   proxy.New(cfg, httpClient, bufferPool),
		resolver: resolver,
	}
	a.catalog = catalog.NewService(resolver, a.tokens, a.links, a.listings, pool)

	return a, nil
}

// routes builds the router. Media routes stay outside the compressed API.
func (a *app) routes() *mux.Router {
	router := mux.NewRouter()

	handlers.Register(router, a.tokens, a.engine, a.links, a.cfg.LegacyProxyEnabled)

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	setupAPIRoutes(router, a)

	return router
}

// startBackground launches the janitor, the pinger and catalog warmup. They
// all stop when ctx is cancelled.
func (a *app) startBackground(ctx context.Context) {
	go a.tokens.StartJanitor(ctx, a.cfg.TokenSweepInterval, a.pool)

	if a.cfg.KeepAlive.Enabled {
		go keepalive.New(a.cfg.KeepAlive.URL, a.cfg.KeepAlive.Interval, a.pool).Run(ctx)
	}

	warm := a.cfg.WarmupItems
	if len(warm) == 1 && warm[0] == "*" {
		warm = a.resolver.IDs()
	}
	if len(warm) > 0 {
		go a.catalog.Warmup(ctx, warm)
	}
}

func (a *app) close() {
	a.pool.Release()
}

var configPath string

// rootCmd runs the proxy server.
var rootCmd = &cobra.Command{
	Use:           "ott-proxy",
	Short:         "Token indirected media streaming proxy",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), config.LoadConfig(configPath))
	},
}

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config <path>",
	Short: "Write an example config file and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateExampleConfig(args[0]); err != nil {
			return err
		}
		logger.Info("{main - exampleConfigCmd} Example config written to %s", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the JSON config file (default $OTT_PROXY_CONFIG or "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(exampleConfigCmd, versionCmd)
}

// our main app worker
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		logger.Error("{main - main} %v", err)
		os.Exit(1)
	}
}

// serve runs the proxy until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config) error {
	logger.SetLogLevel(cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.Environment, Version); err != nil {
		logger.Warn("{main - serve} Sentry disabled: %v", err)
	}
	defer telemetry.Flush()

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.close()

	a.startBackground(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("{main - serve} Starting OTT Proxy %s", Version)
	logger.Info("{main - serve} Server configuration:")
	logger.Info("{main - serve}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - serve}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - serve}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - serve}   - Chunk Size: %s", utils.FormatBytes(cfg.ChunkSize))
	logger.Info("{main - serve}   - Max Concurrent Streams: %d", cfg.MaxConcurrentStreams)
	logger.Info("{main - serve}   - Token TTL: %s", cfg.TokenTTL)
	logger.Info("{main - serve}   - Signed Links: %v", a.links.Signed())
	logger.Info("{main - serve}   - Legacy Proxy: %v", cfg.LegacyProxyEnabled)
	logger.Info("{main - serve}   - Catalog Items: %d", a.resolver.Len())
	logger.Info("{main - serve}   - Keep-Alive: %v", cfg.KeepAlive.Enabled)
	logger.Info("{main - serve}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		telemetry.CaptureError(err, map[string]string{"stage": "listen"})
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("{main - serve} Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// open transfers past the deadline are cut off
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("{main - serve} Graceful shutdown incomplete: %v", err)
	}
	logger.Info("{main - serve} Stopped")
	return nil
}
