package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
)

const writeTimeout = 10 * time.Second

// peer serialises every write to one websocket connection. Once closed,
// further frames are dropped silently.
type peer struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ ws.Sender = (*peer)(nil)

func newPeer(conn *websocket.Conn, logger zerolog.Logger) *peer {
	return &peer{conn: conn, logger: logger}
}

// Send writes frame as one JSON text message.
func (p *peer) Send(frame ws.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteJSON(frame); err != nil {
		p.logger.Debug().Err(err).Str("frame", frame.Type).Msg("write frame failed")
		return err
	}
	return nil
}

func (p *peer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return websocket.ErrCloseSent
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// close sends a close frame with code and tears down the connection, which
// also unblocks the read loop. Safe to call more than once.
func (p *peer) close(code int, reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	p.mu.Unlock()

	_ = p.conn.Close()
}

func (p *peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
