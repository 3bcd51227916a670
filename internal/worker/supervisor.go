package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Factory builds the decoder for a model. Injected so tests can substitute
// instrumented backends.
type Factory func(config.ModelConfig) (backend.Decoder, error)

// Supervisor owns the worker registry. Workers are pooled per model and
// shared across sessions; all registry mutations go through the supervisor
// mutex so two sessions never race to spawn duplicate workers for the same
// model.
type Supervisor struct {
	cfg     config.SupervisorConfig
	models  map[string]config.ModelConfig
	factory Factory
	log     *slog.Logger
	clock   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*Worker

	spawns    metric.Int64Counter
	evictions metric.Int64Counter
	crashes   metric.Int64Counter
}

func NewSupervisor(parent context.Context, cfg config.SupervisorConfig, models []config.ModelConfig, factory Factory, log *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	byID := make(map[string]config.ModelConfig, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	s := &Supervisor{
		cfg:     cfg,
		models:  byID,
		factory: factory,
		log:     log,
		clock:   time.Now,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*Worker),
	}
	meter := otel.Meter("vox.worker")
	s.spawns, _ = meter.Int64Counter("vox.worker.spawns")
	s.evictions, _ = meter.Int64Counter("vox.worker.evictions")
	s.crashes, _ = meter.Int64Counter("vox.worker.crashes")
	return s
}

// Acquire binds a session to the worker for modelID, spawning it lazily on
// first use and transparently respawning a dead one. It blocks until the
// worker is Ready or the load timeout expires. Acquire for an
// already-Ready worker is a no-op beyond reference counting.
func (s *Supervisor) Acquire(ctx context.Context, modelID string) (*Handle, error) {
	s.mu.Lock()
	mcfg, ok := s.models[modelID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	w := s.workers[modelID]
	if w != nil && w.State() == StateDead {
		s.crashes.Add(s.ctx, 1, metric.WithAttributes(attribute.String("model", modelID)))
		s.log.Warn("respawning dead worker", slog.String("model", modelID))
		delete(s.workers, modelID)
		w = nil
	}
	if w == nil {
		var err error
		w, err = s.spawnLocked(mcfg)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	w.refs++
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.LoadTimeoutMS) * time.Millisecond
	select {
	case <-w.readyCh:
		if w.loadErr != nil {
			s.detach(w)
			s.reapIfUnused(w)
			return nil, fmt.Errorf("load model %s: %w", modelID, w.loadErr)
		}
	case <-time.After(timeout):
		s.detach(w)
		s.reapIfUnused(w)
		return nil, fmt.Errorf("model %s: %w", modelID, ErrLoadTimeout)
	case <-ctx.Done():
		s.detach(w)
		return nil, ctx.Err()
	}

	return &Handle{w: w, results: make(chan Result, s.cfg.OutputQueue)}, nil
}

func (s *Supervisor) spawnLocked(mcfg config.ModelConfig) (*Worker, error) {
	dec, err := s.factory(mcfg)
	if err != nil {
		return nil, fmt.Errorf("build backend for %s: %w", mcfg.ID, err)
	}
	strat, err := NewStrategy(mcfg.Strategy, dec)
	if err != nil {
		return nil, err
	}
	w := newWorker(mcfg.ID, mcfg.AlwaysWarm, dec, strat, s.cfg.InputQueue, s.log, s.clock)
	wctx, wcancel := context.WithCancel(s.ctx)
	w.cancel = wcancel
	s.workers[mcfg.ID] = w
	go w.run(wctx)
	s.spawns.Add(s.ctx, 1, metric.WithAttributes(attribute.String("model", mcfg.ID)))
	s.log.Info("worker spawned", slog.String("model", mcfg.ID))
	return w, nil
}

// Release detaches a session from its worker and drains any results still
// queued for it. The worker itself stays warm until idle eviction claims it.
func (s *Supervisor) Release(h *Handle) {
	if h == nil {
		return
	}
	s.detach(h.w)
	for {
		select {
		case <-h.results:
		default:
			return
		}
	}
}

func (s *Supervisor) detach(w *Worker) {
	s.mu.Lock()
	if w.refs > 0 {
		w.refs--
	}
	w.touch()
	s.mu.Unlock()
}

// reapIfUnused removes and stops a worker that failed to become useful,
// unless another session still holds it.
func (s *Supervisor) reapIfUnused(w *Worker) {
	s.mu.Lock()
	if w.refs > 0 {
		s.mu.Unlock()
		return
	}
	if cur, ok := s.workers[w.modelID]; ok && cur == w {
		delete(s.workers, w.modelID)
	}
	s.mu.Unlock()
	s.stop(w)
}

// EvictIdle terminates Ready workers with no bound sessions whose last use
// exceeds the configured TTL. Always-warm workers are spared.
func (s *Supervisor) EvictIdle() {
	ttl := time.Duration(s.cfg.IdleTTLMS) * time.Millisecond
	now := s.clock()

	s.mu.Lock()
	var victims []*Worker
	for id, w := range s.workers {
		if w.alwaysWarm || w.refs > 0 {
			continue
		}
		switch w.State() {
		case StateReady:
			if now.Sub(w.LastUsed()) > ttl {
				victims = append(victims, w)
				delete(s.workers, id)
			}
		case StateDead:
			delete(s.workers, id)
		}
	}
	s.mu.Unlock()

	for _, w := range victims {
		s.log.Info("evicting idle worker", slog.String("model", w.modelID))
		s.evictions.Add(s.ctx, 1, metric.WithAttributes(attribute.String("model", w.modelID)))
		s.stop(w)
	}
}

// TerminateAll stops every worker. Called on shutdown.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	victims := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		victims = append(victims, w)
	}
	s.workers = make(map[string]*Worker)
	s.mu.Unlock()

	for _, w := range victims {
		s.stop(w)
	}
	s.cancel()
}

// stop drains and cancels a worker, waiting briefly for the decode loop to
// exit. An in-flight decode is given until the stop timeout; exec-style
// backends are killed through context cancellation.
func (s *Supervisor) stop(w *Worker) {
	w.state.CompareAndSwap(int32(StateReady), int32(StateTerminating))
	w.state.CompareAndSwap(int32(StateLoading), int32(StateTerminating))
	for {
		select {
		case <-w.in:
			continue
		default:
		}
		break
	}
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		s.log.Error("worker did not terminate in time", slog.String("model", w.modelID))
	}
}

// Run periodically evicts idle workers until the context is cancelled, then
// terminates everything.
func (s *Supervisor) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.EvictIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.TerminateAll()
			return
		case <-ticker.C:
			s.EvictIdle()
		}
	}
}

// WorkerStates reports the lifecycle state of every configured model,
// "unloaded" for models with no live worker.
func (s *Supervisor) WorkerStates() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]string, len(s.models))
	for id := range s.models {
		if w, ok := s.workers[id]; ok {
			states[id] = w.State().String()
		} else {
			states[id] = "unloaded"
		}
	}
	return states
}
