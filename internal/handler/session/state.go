package session

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	"github.com/mdthorpe/llm-web-chat/internal/service/speech"
)

// Kind 会话类型，由升级路径决定。
type Kind string

const (
	KindAudio Kind = "audio"
	KindChat  Kind = "chat"
)

// kindForPath maps the last path segment of /ws/{kind} to a session kind.
func kindForPath(segment string) (Kind, bool) {
	switch segment {
	case "stt":
		return KindAudio, true
	case "chat":
		return KindChat, true
	default:
		return "", false
	}
}

// State is the connection lifecycle of a session.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the per-connection state owned by one read loop.
type session struct {
	id      string
	kind    Kind
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State

	// audio only
	queue *speech.FrameQueue

	// chat only; set while a turn is in flight
	busy atomic.Bool
}

func newSession(id string, kind Kind, logger zerolog.Logger, m *metrics.Metrics) *session {
	s := &session{
		id:      id,
		kind:    kind,
		logger:  logger,
		metrics: m,
		state:   StateConnecting,
	}
	if kind == KindAudio {
		s.queue = speech.NewFrameQueue()
	}
	return s
}

// transition moves the session forward; states never go backwards.
func (s *session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	if next <= prev {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	label := string(s.kind)
	switch next {
	case StateReady:
		s.metrics.SessionsTotal.WithLabelValues(label).Inc()
		s.metrics.SessionsActive.WithLabelValues(label).Inc()
	case StateClosed:
		if prev >= StateReady {
			s.metrics.SessionsActive.WithLabelValues(label).Dec()
		}
	}
	s.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("session state changed")
}

func (s *session) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
