package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives every transcription result the gateway relays. Storage and
// bus collaborators sit behind it and decide what to keep or publish.
type Sink interface {
	Persist(ctx context.Context, t protocol.Transcript)
}

// Server upgrades transcription connections and runs one session loop per
// client. Workers are reached only through supervisor handles; the server
// itself holds no per-session state.
type Server struct {
	cfg  config.Config
	sup  *worker.Supervisor
	sink Sink
	log  *slog.Logger

	upgrader websocket.Upgrader

	sessions      metric.Int64UpDownCounter
	frames        metric.Int64Counter
	framesDropped metric.Int64Counter
	flushes       metric.Int64Counter
	decodeLatency metric.Float64Histogram
}

func New(cfg config.Config, sup *worker.Supervisor, sink Sink, log *slog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		sup:  sup,
		sink: sink,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	meter := otel.Meter("vox.gateway")
	s.sessions, _ = meter.Int64UpDownCounter("vox.gateway.active_sessions")
	s.frames, _ = meter.Int64Counter("vox.gateway.frames")
	s.framesDropped, _ = meter.Int64Counter("vox.gateway.frames_dropped")
	s.flushes, _ = meter.Int64Counter("vox.gateway.flushes")
	s.decodeLatency, _ = meter.Float64Histogram("vox.gateway.decode_latency_ms")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	if s.cfg.Gateway.ReadLimitBytes > 0 {
		conn.SetReadLimit(s.cfg.Gateway.ReadLimitBytes)
	}

	sess := &session{
		srv:  s,
		conn: conn,
		id:   uuid.NewString(),
		log:  s.log.With(slog.String("remote", conn.RemoteAddr().String())),
	}
	s.sessions.Add(r.Context(), 1)
	defer s.sessions.Add(context.Background(), -1)

	sess.run(r.Context())
}
