// engine is the infinitymix mix-production server: it owns the Catalog,
// ObjectStore, pipeline stages and ExternalAPI, wired together by
// Supervisor, and serves HTTP until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/infinitymix/engine/internal/catalog"
	"github.com/infinitymix/engine/internal/config"
	"github.com/infinitymix/engine/internal/domain"
	"github.com/infinitymix/engine/internal/httpapi"
	"github.com/infinitymix/engine/internal/jobqueue"
	"github.com/infinitymix/engine/internal/objectstore"
	"github.com/infinitymix/engine/internal/pcm"
	"github.com/infinitymix/engine/internal/quota"
	"github.com/infinitymix/engine/internal/renderer"
	"github.com/infinitymix/engine/internal/stemengine"
	"github.com/infinitymix/engine/internal/supervisor"
)

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "infinitymix mix-production server",
	}
	v := config.BindFlags(root)

	root.AddCommand(serveCmd(v))
	root.AddCommand(migrateCmd(v))
	root.AddCommand(workerCmd(v))
	root.AddCommand(statusCmd(v))
	root.RunE = func(cmd *cobra.Command, args []string) error { return serve(v) }

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP ExternalAPI and the JobQueue worker loop together",
		RunE:  func(cmd *cobra.Command, args []string) error { return serve(v) },
	}
}

func migrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "open the Catalog, applying any pending schema migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)
			logger := newLogger(cfg)
			db, err := catalog.Open(cfg.DataDir, logger)
			if err != nil {
				return fmt.Errorf("engine: open catalog: %w", err)
			}
			defer db.Close()
			logger.Info("migrations applied", "data_dir", cfg.DataDir)
			return nil
		},
	}
}

func workerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run only the JobQueue dispatch loop, without the HTTP ExternalAPI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)
			logger := newLogger(cfg)

			db, _, sup, queue, err := wire(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := sup.Resume(ctx); err != nil {
				logger.Error("resume failed", "error", err)
			}
			logger.Info("worker loop starting", "concurrency", cfg.QueueConcurrency)
			queue.Run(ctx)
			return nil
		},
	}
}

func statusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print pending job counts per kind and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)
			logger := newLogger(cfg)
			db, err := catalog.Open(cfg.DataDir, logger)
			if err != nil {
				return fmt.Errorf("engine: open catalog: %w", err)
			}
			defer db.Close()

			for _, kind := range jobKinds() {
				n, err := db.PendingJobCount(domain.JobKind(kind))
				if err != nil {
					return fmt.Errorf("engine: pending job count for %s: %w", kind, err)
				}
				fmt.Printf("%-10s %d\n", kind, n)
			}
			return nil
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// wire builds every collaborator and returns a ready Supervisor. serve and
// worker both call this so the two entrypoints can never drift apart.
func wire(cfg *config.Config, logger *slog.Logger) (*catalog.DB, objectstore.Store, *supervisor.Supervisor, *jobqueue.Queue, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	db, err := catalog.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	store, err := objectstore.NewDisk(cfg.DataDir+"/blobs", logger)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("engine: open object store: %w", err)
	}

	decoder := pcm.NewDecoder(cfg.TranscoderPath, cfg.AnalysisSampleRate)

	engines := buildStemEngines(cfg)
	stems := stemengine.New(logger, engines...)

	renderCfg := renderer.Config{
		EncoderPath:       cfg.TranscoderPath,
		OutputBitrateKbps: bitrateKbps(cfg.OutputBitrate),
		RenderTimeout:     time.Duration(cfg.RenderTimeoutSeconds) * time.Second,
	}

	queue := jobqueue.New(db, logger, int64(cfg.QueueConcurrency))

	// Billing accounting is an external collaborator; the quota gate here
	// only enforces a monthly render-seconds ceiling when explicitly enabled.
	usage := func(ctx context.Context, userID string) (int, error) { return 0, nil }
	gate := quota.NewGate(quota.Config{Enabled: cfg.AuthEnabled, MonthlySecondsLimit: 36000}, usage)

	sup := supervisor.New(db, store, decoder, stems, renderCfg, queue, gate, logger)
	return db, store, sup, queue, nil
}

func buildStemEngines(cfg *config.Config) []stemengine.Engine {
	var engines []stemengine.Engine
	for _, id := range cfg.StemEngines {
		switch id {
		case "local-ai":
			engines = append(engines, stemengine.NewLocalEngine(cfg.TranscoderPath+"-stems", pcm.NewDecoder(cfg.TranscoderPath, cfg.AnalysisSampleRate)))
		case "remote":
			if addr := os.Getenv("INFINITYMIX_REMOTE_STEM_URL"); addr != "" {
				engines = append(engines, stemengine.NewRemoteEngine(addr))
			}
		case "frequency-band":
			// the always-available fallback is appended automatically by stemengine.New
		}
	}
	return engines
}

func bitrateKbps(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 192
	}
	return n
}

func jobKinds() []string {
	return []string{"analyze", "separate", "plan", "render"}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serve(v *viper.Viper) error {
	cfg := config.FromViper(v)
	logger := newLogger(cfg)

	db, store, sup, queue, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := sup.Resume(ctx); err != nil {
		logger.Error("resume failed", "error", err)
	}

	go queue.Run(ctx)

	api := httpapi.New(db, store, sup, logger)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: api}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		logger.Info("shutting down")
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting engine server", "port", cfg.Port, "data_dir", cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("engine: server error: %w", err)
	}
	return nil
}
