// Package session multiplexes the dictation and chat websocket sessions.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
	"github.com/mdthorpe/llm-web-chat/internal/service/speech"
	"github.com/mdthorpe/llm-web-chat/internal/service/turn"
)

// Client-facing protocol error messages.
const (
	MsgInvalidJSON       = "Invalid JSON"
	MsgUnsupportedFrame  = "Unsupported frame type"
	MsgUnexpectedBinary  = "Unexpected binary frame"
	MsgBusy              = "busy"
	defaultPingInterval  = 54 * time.Second
	defaultReadTimeout   = 60 * time.Second
	inboundTypePing      = "ping"
	inboundTypeEnd       = "end"
	transcriptionFailure = "transcription failed"
)

// AudioRelay runs one dictation session until the audio ends.
type AudioRelay interface {
	Run(ctx context.Context, audio speech.AudioSource, out ws.Sender) error
}

// TurnRunner runs one chat turn.
type TurnRunner interface {
	Run(ctx context.Context, req turn.Request, out ws.Sender) error
}

// Config wires a Handler.
type Config struct {
	Relay AudioRelay
	Turns TurnRunner
	// CancelOnClose propagates connection close into in-flight capability
	// calls. By default they run to completion on a detached context.
	CancelOnClose bool
	PingInterval  time.Duration
	ReadTimeout   time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Handler upgrades /ws/stt and /ws/chat and runs one session per connection.
type Handler struct {
	relay         AudioRelay
	turns         TurnRunner
	cancelOnClose bool
	pingInterval  time.Duration
	readTimeout   time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	upgrader      websocket.Upgrader

	// work tracks relays and turns that may outlive their connection.
	work sync.WaitGroup
}

func New(cfg Config) *Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = defaultReadTimeout
	}
	return &Handler{
		relay:         cfg.Relay,
		turns:         cfg.Turns,
		cancelOnClose: cfg.CancelOnClose,
		pingInterval:  ping,
		readTimeout:   read,
		logger:        cfg.Logger.With().Str("component", "session").Logger(),
		metrics:       m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{kind}", h.handleWebSocket)
}

// Wait blocks until every relay and turn started by this handler has
// finished, or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.work.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindForPath(chi.URLParam(r, "kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	sessionID := uuid.NewString()
	logger := h.logger.With().
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Str("remote", r.RemoteAddr).
		Logger()
	sess := newSession(sessionID, kind, logger, h.metrics)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	p := newPeer(conn, logger)
	defer p.close(websocket.CloseNormalClosure, "")

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	capCtx := context.WithoutCancel(connCtx)
	if h.cancelOnClose {
		capCtx = connCtx
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(connCtx, p)

	_ = p.Send(ws.Ready())
	sess.transition(StateReady)
	logger.Info().Msg("session opened")

	if kind == KindAudio {
		h.startRelay(capCtx, sess, p)
	}

	h.readLoop(conn, sess, p, capCtx)

	event := logger.Info().Str("last_state", sess.current().String())
	if sess.queue != nil {
		// a socket that drops before END leaves audio the relay may still drain
		event = event.Bool("client_ended", sess.queue.Ended()).Int("pending_chunks", sess.queue.Len())
		sess.queue.End()
	}
	sess.transition(StateClosed)
	event.Msg("session closed")
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session, p *peer, capCtx context.Context) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !p.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sess.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		switch sess.kind {
		case KindAudio:
			h.handleAudioFrame(sess, p, messageType, data)
		case KindChat:
			h.handleChatFrame(capCtx, sess, p, messageType, data)
		}
	}
}

func (h *Handler) startRelay(ctx context.Context, sess *session, p *peer) {
	h.work.Add(1)
	go func() {
		defer h.work.Done()

		err := h.relay.Run(ctx, sess.queue, p)
		if err != nil {
			sess.logger.Warn().Err(err).Msg("dictation ended with error")
			p.close(websocket.CloseInternalServerErr, transcriptionFailure)
			return
		}
		sess.logger.Debug().Msg("dictation drained")
		p.close(websocket.CloseNormalClosure, "")
	}()
}

func (h *Handler) handleAudioFrame(sess *session, p *peer, messageType int, data []byte) {
	if messageType == websocket.BinaryMessage {
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "binary").Inc()
		if len(data) == 0 {
			return
		}
		h.metrics.AudioBytes.Add(float64(len(data)))
		sess.queue.Push(data)
		sess.transition(StateActive)
		return
	}

	text := strings.TrimSpace(string(data))
	switch text {
	case ws.ControlEnd:
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "control").Inc()
		sess.queue.End()
		return
	case ws.ControlPing:
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "control").Inc()
		_ = p.Send(ws.Pong())
		return
	}

	var msg ws.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "invalid").Inc()
		_ = p.Send(ws.Error(MsgInvalidJSON))
		return
	}
	h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "json").Inc()

	switch strings.ToLower(msg.Type) {
	case inboundTypePing:
		_ = p.Send(ws.Pong())
	case inboundTypeEnd:
		sess.queue.End()
	default:
		_ = p.Send(ws.Error(MsgUnsupportedFrame))
	}
}

func (h *Handler) handleChatFrame(ctx context.Context, sess *session, p *peer, messageType int, data []byte) {
	if messageType == websocket.BinaryMessage {
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "binary").Inc()
		_ = p.Send(ws.Error(MsgUnexpectedBinary))
		return
	}

	if strings.TrimSpace(string(data)) == ws.ControlPing {
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "control").Inc()
		_ = p.Send(ws.Pong())
		return
	}

	var msg ws.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "invalid").Inc()
		_ = p.Send(ws.Error(MsgInvalidJSON))
		return
	}
	h.metrics.FramesReceived.WithLabelValues(string(sess.kind), "json").Inc()

	switch msg.Type {
	case ws.TypeChat:
		h.startTurn(ctx, sess, p, turn.Request{ChatID: msg.ChatID, Content: msg.Content})
	case inboundTypePing:
		_ = p.Send(ws.Pong())
	default:
		_ = p.Send(ws.Error(MsgUnsupportedFrame))
	}
}

// startTurn runs the turn off the read loop so pings and further frames are
// still served while the model streams.
func (h *Handler) startTurn(ctx context.Context, sess *session, p *peer, req turn.Request) {
	if !sess.busy.CompareAndSwap(false, true) {
		_ = p.Send(ws.Error(MsgBusy))
		return
	}
	sess.transition(StateActive)

	out := &turnSender{out: p, sess: sess}
	h.work.Add(1)
	go func() {
		defer h.work.Done()
		defer out.release()

		if err := h.turns.Run(ctx, req, out); err != nil {
			sess.logger.Debug().Err(err).Str("chat_id", req.ChatID).Msg("chat turn ended with error")
		}
	}()
}

// turnSender frees the session for the next turn just before the terminal
// frame goes out, so a client reacting to complete or error is never told busy.
type turnSender struct {
	out  ws.Sender
	sess *session
	done atomic.Bool
}

func (s *turnSender) Send(frame ws.Frame) error {
	if frame.Type == ws.TypeComplete || frame.Type == ws.TypeError {
		s.release()
	}
	return s.out.Send(frame)
}

func (s *turnSender) release() {
	if s.done.CompareAndSwap(false, true) {
		s.sess.busy.Store(false)
	}
}

// pingLoop 定期发送 ping 控制帧
func (h *Handler) pingLoop(ctx context.Context, p *peer) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ping(); err != nil {
				return
			}
		}
	}
}
