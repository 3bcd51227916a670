package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/segment"
)

// State is the lifecycle position of a worker.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateTerminating
	StateDead
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrLoadTimeout  = errors.New("worker load timeout")
	ErrWorkerDead   = errors.New("worker dead")
	ErrNotReady     = errors.New("worker not ready")
	ErrBacklogFull  = errors.New("decode backlog full")
)

// Request is one segment queued for decoding. The reply channel belongs to
// the session that submitted it, so pooled workers never leak results across
// sessions.
type Request struct {
	SessionID string
	Segment   segment.Segment
	Final     bool
	reply     chan<- Result
	enqueued  time.Time
}

// Result is the outcome of one decode, delivered in submission order.
type Result struct {
	SessionID string
	ModelID   string
	Text      string
	Final     bool
	Latency   time.Duration
	Err       error
}

// Worker owns one inference backend instance and serializes all decodes
// through a single loop goroutine, which guarantees at most one active
// decode per worker regardless of how many sessions share it.
type Worker struct {
	modelID    string
	alwaysWarm bool
	dec        backend.Decoder
	strategy   Strategy

	in      chan Request
	readyCh chan struct{}
	loadErr error
	done    chan struct{}
	cancel  context.CancelFunc

	state    atomic.Int32
	lastUsed atomic.Int64

	// refs counts bound sessions; guarded by the supervisor mutex.
	refs int

	log   *slog.Logger
	clock func() time.Time
}

func newWorker(modelID string, alwaysWarm bool, dec backend.Decoder, strategy Strategy, queue int, log *slog.Logger, clock func() time.Time) *Worker {
	w := &Worker{
		modelID:    modelID,
		alwaysWarm: alwaysWarm,
		dec:        dec,
		strategy:   strategy,
		in:         make(chan Request, queue),
		readyCh:    make(chan struct{}),
		done:       make(chan struct{}),
		log:        log.With(slog.String("model", modelID)),
		clock:      clock,
	}
	w.state.Store(int32(StateLoading))
	w.touch()
	return w
}

func (w *Worker) ModelID() string { return w.modelID }

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) LastUsed() time.Time {
	return time.Unix(0, w.lastUsed.Load())
}

func (w *Worker) touch() {
	w.lastUsed.Store(w.clock().UnixNano())
}

// run is the decode loop. It loads the backend, flips to Ready, then
// serializes decode requests until the context is cancelled. A panic that
// escapes the strategy's own isolation marks the worker Dead; the supervisor
// respawns on the next acquire.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker loop panicked", slog.Any("panic", r))
		}
		w.state.Store(int32(StateDead))
	}()

	if err := w.dec.Load(ctx); err != nil {
		w.loadErr = err
		close(w.readyCh)
		w.log.Warn("backend load failed", slog.String("error", err.Error()))
		return
	}
	w.state.Store(int32(StateReady))
	close(w.readyCh)
	w.log.Info("worker ready", slog.String("strategy", w.strategy.Name()))

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.in:
			w.touch()
			start := w.clock()
			res, emitted, err := w.strategy.Decode(ctx, req.Segment, req.Final)
			w.touch()
			if !emitted && err == nil {
				continue
			}
			out := Result{
				SessionID: req.SessionID,
				ModelID:   w.modelID,
				Text:      res.Text,
				Final:     req.Final,
				Latency:   w.clock().Sub(start),
				Err:       err,
			}
			select {
			case req.reply <- out:
			default:
				// Session stopped draining (released or gone); its results
				// are discarded rather than blocking the decode loop.
				w.log.Warn("result dropped, session not draining",
					slog.String("session", req.SessionID))
			}
		}
	}
}

// Handle is one session's binding to a worker. Results for requests
// submitted through this handle arrive only on this handle's channel, in
// submission order.
type Handle struct {
	w       *Worker
	results chan Result
}

func (h *Handle) ModelID() string { return h.w.modelID }

func (h *Handle) State() State { return h.w.State() }

// Results delivers decode results for this session in FIFO order.
func (h *Handle) Results() <-chan Result { return h.results }

// Submit queues a segment for decoding. When the worker's input channel is
// full the oldest queued request is dropped to make room, so a slow backend
// degrades by losing audio instead of stalling the session loop; dropped
// reports whether that happened. Fails fast with ErrWorkerDead against a
// dead worker.
func (h *Handle) Submit(sessionID string, seg segment.Segment, final bool) (dropped bool, err error) {
	switch h.w.State() {
	case StateReady:
	case StateDead, StateTerminating:
		return false, ErrWorkerDead
	default:
		return false, ErrNotReady
	}

	req := Request{
		SessionID: sessionID,
		Segment:   seg,
		Final:     final,
		reply:     h.results,
		enqueued:  h.w.clock(),
	}
	select {
	case h.w.in <- req:
		return false, nil
	default:
	}
	select {
	case old := <-h.w.in:
		h.w.log.Warn("decode backlog full, dropping oldest segment",
			slog.String("session", old.SessionID),
			slog.Duration("segment", old.Segment.Duration))
	default:
	}
	select {
	case h.w.in <- req:
		return true, nil
	default:
		return true, ErrBacklogFull
	}
}
