package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlabs/vox-core/internal/api"
	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/gateway"
	"github.com/voxlabs/vox-core/internal/natsserver"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/store"
	"github.com/voxlabs/vox-core/internal/worker"
)

// Runtime assembles the daemon: telemetry, transcript store, message bus,
// worker supervisor, websocket gateway, and the management API, all behind
// one HTTP server.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// sink fans transcription results out to the store and the bus. Partials are
// never persisted; the bus client applies its own partial-publishing policy.
type sink struct {
	store *store.Store
	bus   *bus.Client
	log   *slog.Logger
}

func (s *sink) Persist(ctx context.Context, t protocol.Transcript) {
	if !t.Partial {
		if err := s.store.Append(ctx, t); err != nil {
			s.log.Warn("transcript persist failed",
				slog.String("session", t.SessionID), slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		if err := s.bus.PublishTranscript(ctx, t); err != nil {
			s.log.Warn("transcript publish failed",
				slog.String("session", t.SessionID), slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
	}

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("open transcript store: %w", err)
	}

	sup := worker.NewSupervisor(ctx, r.cfg.Supervisor, r.cfg.Models, backend.New, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sup.Run(ctx)
	}()

	gw := gateway.New(r.cfg, sup, &sink{store: st, bus: busClient, log: r.logger}, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.Handle(r.cfg.Gateway.Path, gw)
	api.New(r.cfg, sup, st, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("gateway_path", r.cfg.Gateway.Path),
		slog.Int("models", len(r.cfg.Models)))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	r.wg.Wait()

	if err := st.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}
	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
