package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"onnxd/internal/common/fsutil"
	"onnxd/internal/config"
	"onnxd/internal/engine"
	"onnxd/internal/httpapi"
	"onnxd/internal/registry"
	"onnxd/internal/runtime"
	"onnxd/pkg/types"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	addr        string
	backend     string
	modelsDir   string
	modelPath   string
	corsOrigins string
	timeoutSec  int64
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	sf := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Example: "  onnxd serve --addr :3928 --models-dir ~/models/onnx\n" +
			"  onnxd serve --backend llama --model ~/models/phi3.gguf",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := config.Config{
				Addr:      sf.addr,
				Backend:   sf.backend,
				ModelsDir: sf.modelsDir,
			}
			if origins := splitCSV(sf.corsOrigins); len(origins) > 0 {
				flags.CORS = config.CORS{Enabled: true, Origins: origins}
			}
			if sf.modelPath != "" {
				flags.Model = &types.LoadModelRequest{ModelPath: sf.modelPath}
			}
			cfg, err := loadConfig(rf, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, sf.timeoutSec, newLogger(cfg))
		},
	}
	f := cmd.Flags()
	f.StringVar(&sf.addr, "addr", os.Getenv("ONNXD_ADDR"), "HTTP listen address, e.g. :3928")
	f.StringVar(&sf.backend, "backend", "", "Runtime backend: echo|llama")
	f.StringVar(&sf.modelsDir, "models-dir", "", "Directory to scan for models")
	f.StringVar(&sf.modelPath, "model", "", "Model path to load at startup")
	f.StringVar(&sf.corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins (enables CORS)")
	f.Int64Var(&sf.timeoutSec, "completion-timeout", 0, "Per-request completion timeout in seconds (0 disables)")
	return cmd
}

// runServe runs the engine and HTTP server until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config, timeoutSec int64, log zerolog.Logger) error {
	catalog, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Str("models_dir", cfg.ModelsDir).Msg("model catalog unavailable")
		catalog = nil
	}

	eng := engine.NewWithConfig(engine.Config{
		Backend:        cfg.Backend,
		RuntimeOptions: runtime.Options{ContextSize: cfg.ContextSize, Threads: cfg.Threads},
		Logger:         &log,
	})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCompletionTimeoutSeconds(timeoutSec)
	methods, headers := cfg.CORS.Methods, cfg.CORS.Headers
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", "X-Log-Level"}
	}
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, methods, headers)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(eng, catalog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Int("catalog", len(catalog)).Msg("onnxd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if cfg.Model != nil {
		g.Go(func() error {
			return autoload(gctx, eng, catalog, *cfg.Model, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown error")
		}
		return eng.Close(sctx)
	})
	return g.Wait()
}

// autoload loads the configured startup model. A failed load is logged and
// the server keeps running without a model.
func autoload(ctx context.Context, eng *engine.Engine, catalog []types.Model, req types.LoadModelRequest, log zerolog.Logger) error {
	if req.ModelPath == "" {
		m, ok := registry.Find(catalog, req.Model)
		if !ok {
			log.Error().Str("model", req.Model).Msg("startup model not in catalog")
			return nil
		}
		req.ModelPath = m.Path
	}
	p, err := fsutil.ResolveModelPath(req.ModelPath)
	if err != nil {
		log.Error().Err(err).Msg("startup model path invalid")
		return nil
	}
	req.ModelPath = p
	env := eng.LoadModel(ctx, req)
	if env.Status.HasError {
		log.Error().Int("status", env.Status.StatusCode).Interface("payload", env.Payload).Msg("startup model load failed")
	}
	return nil
}
