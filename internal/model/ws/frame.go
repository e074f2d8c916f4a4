package ws

// Frame types exchanged on the session socket.
const (
	TypeReady    = "ready"
	TypePong     = "pong"
	TypePartial  = "partial"
	TypeFinal    = "final"
	TypeError    = "error"
	TypeChat     = "chat"
	TypeStart    = "start"
	TypeChunk    = "chunk"
	TypeComplete = "complete"
)

// Control strings accepted on the audio socket.
const (
	ControlEnd  = "END"
	ControlPing = "PING"
)

// Frame is the JSON envelope sent from server to client. Only the fields that
// belong to Type are populated.
type Frame struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	ResponseID string `json:"responseId,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Inbound is the JSON envelope the client sends on the chat socket.
type Inbound struct {
	Type    string `json:"type"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// Sender delivers frames to one client connection. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(frame Frame) error
}

func Ready() Frame { return Frame{Type: TypeReady} }

func Pong() Frame { return Frame{Type: TypePong} }

func Partial(text string) Frame { return Frame{Type: TypePartial, Text: text} }

func Final(text string) Frame { return Frame{Type: TypeFinal, Text: text} }

func Error(msg string) Frame { return Frame{Type: TypeError, Error: msg} }

func Start(messageID string) Frame { return Frame{Type: TypeStart, MessageID: messageID} }

func Chunk(messageID, text string) Frame {
	return Frame{Type: TypeChunk, MessageID: messageID, Text: text}
}

func Complete(messageID, responseID, summary string) Frame {
	return Frame{Type: TypeComplete, MessageID: messageID, ResponseID: responseID, Summary: summary}
}
