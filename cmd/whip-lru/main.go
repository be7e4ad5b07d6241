// Command whip-lru runs the WHIP asset cache server: it loads the INI
// configuration, wires a StorageManager around the local cache and write
// journal, and serves the WHIP TCP protocol until terminated.
//
// Grounded on cuemby-warren's cmd/warren/main.go: a single cobra root
// command, persistent flags, signal-driven graceful shutdown, and a PID
// file written at process-lifecycle boundaries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kf6kjg/whip-lru/internal/config"
	"github.com/kf6kjg/whip-lru/internal/metrics"
	"github.com/kf6kjg/whip-lru/internal/remote"
	"github.com/kf6kjg/whip-lru/internal/server"
	"github.com/kf6kjg/whip-lru/internal/storagemgr"
	"github.com/kf6kjg/whip-lru/internal/store"
	"github.com/kf6kjg/whip-lru/internal/wlog"
)

// Version information, set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	iniFilePath string
	logConfPath string
	pidFilePath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "whip-lru",
	Short:   "WHIP asset cache: an LRU-bounded local cache in front of a remote asset store",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("whip-lru version %s (%s)\n", Version, Commit))

	rootCmd.Flags().StringVar(&iniFilePath, "inifile", "whip-lru.ini", "path to the core INI configuration file")
	rootCmd.Flags().StringVar(&logConfPath, "logconfig", "", "path to an INI file configuring logging (optional)")
	rootCmd.Flags().StringVar(&pidFilePath, "pidfile", "", "path to write the process PID file (optional)")
}

func run(cmd *cobra.Command, args []string) error {
	logCfg := wlog.Config{Level: wlog.InfoLevel}
	if logConfPath != "" {
		level, jsonOutput, err := config.LoadLogging(logConfPath)
		if err != nil {
			return fmt.Errorf("loading log config: %w", err)
		}
		logCfg.Level = wlog.Level(level)
		logCfg.JSONOutput = jsonOutput
	}
	log := wlog.Init(logCfg)

	pf := config.NewPIDFile(pidFilePath)
	if err := pf.Write(config.StatusInit); err != nil {
		log.Warn().Err(err).Msg("whip-lru: failed to write pid file")
	}
	defer pf.Remove()

	cfg, err := config.Load(iniFilePath)
	if err != nil {
		return err
	}

	ls := store.Config{
		Path:         cfg.Cache.DatabaseFolderPath,
		MapSizeBytes: cfg.Cache.DatabaseMaxSizeBytes,
	}

	recorder := metrics.NewCollector()

	mgr, err := storagemgr.New(storagemgr.Config{
		Store:        ls,
		JournalPath:  cfg.Cache.WriteCacheFilePath,
		JournalSlots: cfg.Cache.WriteCacheMaxRecordCount,
		Provider:     remote.NoProvider{},
		Recorder:     recorder,
		Log:          wlog.WithComponent(log, "storagemgr"),
	})
	if err != nil {
		return fmt.Errorf("opening storage manager: %w", err)
	}
	defer mgr.Close()

	bindAddr := cfg.Server.Address
	if bindAddr == "*" || bindAddr == "" {
		bindAddr = server.DefaultBindAddress
	}

	srv := server.New(server.Config{
		Address:  bindAddr,
		Port:     cfg.Server.Port,
		Password: cfg.Server.Password,
		Manager:  mgr,
		Recorder: recorder,
		Log:      wlog.WithComponent(log, "server"),
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsSrv = startMetricsServer(cfg.Server.MetricsAddress, log)
	}

	if err := pf.Write(config.StatusReady); err != nil {
		log.Warn().Err(err).Msg("whip-lru: failed to update pid file")
	}
	_ = pf.Write(config.StatusRunning)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("whip-lru: shutting down")

	shutdownStart := time.Now()
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("whip-lru: error during server shutdown")
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("whip-lru: error during metrics server shutdown")
		}
		cancel()
	}
	log.Info().Dur("elapsed", time.Since(shutdownStart)).Msg("whip-lru: stopped")

	return nil
}

// startMetricsServer serves the Prometheus registry over HTTP on addr in a
// background goroutine, matching cuemby-warren's pattern of starting its
// metrics listener alongside the main server rather than blocking startup
// on it.
func startMetricsServer(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("whip-lru: metrics server stopped unexpectedly")
		}
	}()

	log.Info().Str("addr", addr).Msg("whip-lru: serving /metrics")
	return srv
}
