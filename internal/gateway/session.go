package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/segment"
	"github.com/voxlabs/vox-core/internal/worker"
)

type connState int

const (
	stateConnected connState = iota
	stateConfigured
	stateStreaming
	stateClosing
)

type inboundFrame struct {
	kind int
	data []byte
}

// session is the per-connection protocol state machine. All conn writes and
// all state mutations happen on the run loop goroutine; the read pump only
// feeds the inbound channel.
type session struct {
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	id     string
	state  connState
	model  config.ModelConfig
	handle *worker.Handle
	buf    *segment.Buffer
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.teardown()

	inbound := make(chan inboundFrame, s.srv.cfg.Gateway.InboundQueue)
	go s.readPump(inbound)

	for {
		// A nil results channel blocks forever, so an unbound session only
		// selects on client traffic.
		var results <-chan worker.Result
		if s.handle != nil {
			results = s.handle.Results()
		}

		select {
		case <-ctx.Done():
			return
		case fr, ok := <-inbound:
			if !ok {
				s.state = stateClosing
				return
			}
			switch fr.kind {
			case websocket.TextMessage:
				s.handleText(ctx, fr.data)
			case websocket.BinaryMessage:
				s.handleAudio(ctx, fr.data)
			}
		case res := <-results:
			s.relay(ctx, res)
		}
	}
}

func (s *session) readPump(inbound chan<- inboundFrame) {
	defer close(inbound)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		inbound <- inboundFrame{kind: kind, data: data}
	}
}

func (s *session) handleText(ctx context.Context, data []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(protocol.CodeProtocol, "malformed json message")
		return
	}

	switch msg.Type {
	case protocol.TypeConfig:
		s.handleConfig(ctx, msg)
	case protocol.TypeStartSession:
		if msg.SessionID != "" {
			s.id = msg.SessionID
		}
		if s.buf != nil {
			s.buf.Reset()
		}
	case protocol.TypeFlush:
		if s.handle == nil {
			s.sendError(protocol.CodeProtocol, "no model configured")
			return
		}
		s.flush(ctx, true)
	case protocol.TypeEndSession:
		s.endSession(ctx)
	case protocol.TypeReset:
		if s.buf != nil {
			s.buf.Reset()
		}
	case protocol.TypePing:
		s.sendJSON(protocol.PongMessage{Type: protocol.TypePong, Timestamp: msg.Timestamp})
	default:
		s.sendError(protocol.CodeProtocol, "unknown message type "+msg.Type)
	}
}

// handleConfig binds the session to a model worker. Reconfiguring with the
// bound model is a no-op; switching discards buffered audio and fully
// detaches from the previous worker before the new binding takes effect.
func (s *session) handleConfig(ctx context.Context, msg protocol.ClientMessage) {
	if msg.Model == "" {
		s.sendError(protocol.CodeProtocol, "config requires a model")
		return
	}
	if s.handle != nil && s.model.ID == msg.Model {
		s.sendStatus(protocol.StatusReady, s.model.ID)
		return
	}
	mcfg, ok := s.srv.cfg.Model(msg.Model)
	if !ok {
		s.sendError(protocol.CodeUnknownModel, "unknown model "+msg.Model)
		return
	}

	if s.buf != nil {
		s.buf.Reset()
	}
	if s.handle != nil {
		s.srv.sup.Release(s.handle)
		s.handle = nil
	}

	s.sendStatus(protocol.StatusLoading, mcfg.ID)
	h, err := s.srv.sup.Acquire(ctx, mcfg.ID)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrLoadTimeout):
			s.sendError(protocol.CodeLoadTimeout, err.Error())
		case errors.Is(err, worker.ErrUnknownModel):
			s.sendError(protocol.CodeUnknownModel, err.Error())
		default:
			s.sendError(protocol.CodeInternal, err.Error())
		}
		return
	}

	s.handle = h
	s.model = mcfg
	s.buf = segment.NewBuffer(segment.PolicyFromConfig(mcfg.Policy), mcfg.SampleRate)
	s.state = stateConfigured
	s.sendStatus(protocol.StatusReady, mcfg.ID)
}

func (s *session) handleAudio(ctx context.Context, data []byte) {
	if s.handle == nil || (s.state != stateConfigured && s.state != stateStreaming) {
		s.sendError(protocol.CodeProtocol, "audio before config")
		return
	}
	samples, err := pcm.Decode(data)
	if err != nil {
		s.sendError(protocol.CodeProtocol, err.Error())
		return
	}
	s.srv.frames.Add(ctx, 1)
	s.state = stateStreaming

	decision := s.buf.Push(samples)
	if decision.Flush {
		s.flush(ctx, decision.Final)
	}
}

// flush hands the buffered segment to the bound worker. Returns true when a
// segment was actually submitted.
func (s *session) flush(ctx context.Context, final bool) bool {
	seg := s.buf.ForceFlush()
	if len(seg.Samples) == 0 {
		return false
	}
	s.srv.flushes.Add(ctx, 1)

	dropped, err := s.handle.Submit(s.id, seg, final)
	if dropped {
		s.srv.framesDropped.Add(ctx, 1)
		s.log.Warn("segment dropped under decode backlog",
			slog.String("session", s.id), slog.String("model", s.model.ID))
	}
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, worker.ErrWorkerDead):
		s.sendError(protocol.CodeWorkerCrash, "worker died, reloading model")
		s.reacquire(ctx)
	case errors.Is(err, worker.ErrBacklogFull):
		// Transient overload, absorbed: the segment is lost but the
		// session stays up.
		s.log.Warn("decode backlog full, segment lost", slog.String("session", s.id))
	default:
		s.sendError(protocol.CodeInternal, err.Error())
	}
	return false
}

// reacquire respawns the session's worker after a crash. The supervisor
// replaces the dead instance transparently.
func (s *session) reacquire(ctx context.Context) {
	s.srv.sup.Release(s.handle)
	s.handle = nil

	s.sendStatus(protocol.StatusLoading, s.model.ID)
	h, err := s.srv.sup.Acquire(ctx, s.model.ID)
	if err != nil {
		s.sendError(protocol.CodeLoadTimeout, err.Error())
		s.state = stateConnected
		return
	}
	s.handle = h
	s.sendStatus(protocol.StatusReady, s.model.ID)
}

// endSession force-flushes whatever is buffered, relays the closing decode,
// and releases the worker. The connection stays open for a fresh config.
func (s *session) endSession(ctx context.Context) {
	if s.handle != nil {
		submitted := s.flush(ctx, true)
		if submitted {
			s.drainFinal(ctx)
		}
		s.srv.sup.Release(s.handle)
		s.handle = nil
	}
	s.sendStatus(protocol.StatusClosed, s.model.ID)
	s.model = config.ModelConfig{}
	s.buf = nil
	s.state = stateConnected
	s.id = uuid.NewString()
}

// drainFinal relays pending results until the closing final arrives or the
// drain deadline passes.
func (s *session) drainFinal(ctx context.Context) {
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	for {
		select {
		case res := <-s.handle.Results():
			s.relay(ctx, res)
			if res.Final {
				return
			}
		case <-timer.C:
			s.log.Warn("timed out draining final result", slog.String("session", s.id))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) relay(ctx context.Context, res worker.Result) {
	if res.Err != nil {
		s.sendError(protocol.CodeDecode, res.Err.Error())
		return
	}
	if res.Text == "" {
		return
	}
	latencyMS := float64(res.Latency) / float64(time.Millisecond)
	s.srv.decodeLatency.Record(ctx, latencyMS)
	s.sendJSON(protocol.TranscriptionMessage{
		Type:      protocol.TypeTranscription,
		Text:      res.Text,
		IsFinal:   res.Final,
		Model:     res.ModelID,
		SessionID: res.SessionID,
		LatencyMS: latencyMS,
	})
	if s.srv.sink != nil {
		s.srv.sink.Persist(ctx, protocol.Transcript{
			SessionID: res.SessionID,
			ModelID:   res.ModelID,
			Content:   res.Text,
			Partial:   !res.Final,
			LatencyMS: latencyMS,
			CreatedAt: time.Now().UTC(),
		})
	}
}

func (s *session) sendStatus(state, model string) {
	s.sendJSON(protocol.StatusMessage{Type: protocol.TypeStatus, State: state, Model: model})
}

func (s *session) sendError(code, message string) {
	s.sendJSON(protocol.ErrorMessage{Type: protocol.TypeError, Code: code, Message: message})
}

func (s *session) sendJSON(v any) {
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("write failed", slog.String("error", err.Error()))
	}
}

func (s *session) teardown() {
	if s.handle != nil {
		s.srv.sup.Release(s.handle)
		s.handle = nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}
