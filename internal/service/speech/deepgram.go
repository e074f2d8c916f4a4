package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

const (
	defaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultDeepgramModel    = "nova-3"
	deepgramDrainTimeout    = 10 * time.Second
)

// DeepgramConfig configures the live Deepgram transcriber.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	// DrainTimeout bounds how long results are awaited after the audio ends.
	DrainTimeout time.Duration
	Logger       zerolog.Logger
}

// Deepgram streams PCM16 audio to Deepgram's live transcription socket.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	logger zerolog.Logger
}

type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultDeepgramEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepgramModel
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = deepgramDrainTimeout
	}
	return &Deepgram{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		logger: cfg.Logger.With().Str("component", "deepgram").Logger(),
	}
}

func (d *Deepgram) Transcribe(ctx context.Context, audio AudioSource, cfg speechmodel.StreamConfig) (*schema.StreamReader[speechmodel.Result], error) {
	endpoint, err := d.buildURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}
	if resp != nil {
		if requestID := resp.Header.Get("dg-request-id"); requestID != "" {
			d.logger.Debug().Str("request_id", requestID).Msg("deepgram stream connected")
		}
	}

	sr, sw := schema.Pipe[speechmodel.Result](16)
	sendErrCh := make(chan error, 1)

	go d.sendAudio(ctx, conn, audio, sendErrCh)
	go d.receiveResults(conn, sw, sendErrCh)

	return sr, nil
}

func (d *Deepgram) buildURL(cfg speechmodel.StreamConfig) (string, error) {
	endpoint, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram endpoint: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = d.cfg.Model
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}

	q := endpoint.Query()
	q.Set("model", model)
	q.Set("encoding", encoding)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

// sendAudio is the only writer on conn.
func (d *Deepgram) sendAudio(ctx context.Context, conn *websocket.Conn, audio AudioSource, errCh chan<- error) {
	var sent int
	for {
		chunk, err := audio.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errCh <- fmt.Errorf("read audio: %w", err)
			conn.Close()
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			errCh <- fmt.Errorf("failed to send audio chunk: %w", err)
			conn.Close()
			return
		}
		sent += len(chunk)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		errCh <- fmt.Errorf("failed to close deepgram stream: %w", err)
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.DrainTimeout))
	d.logger.Debug().Int("bytes", sent).Msg("audio stream finished, draining results")
	errCh <- nil
}

func (d *Deepgram) receiveResults(conn *websocket.Conn, sw *schema.StreamWriter[speechmodel.Result], sendErrCh <-chan error) {
	defer sw.Close()
	defer conn.Close()

	var (
		sendDone bool
		sendErr  error
	)
	pollSender := func() {
		if sendDone {
			return
		}
		select {
		case sendErr = <-sendErrCh:
			sendDone = true
		default:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			pollSender()
			if sendErr != nil {
				sw.Send(speechmodel.Result{}, sendErr)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			var netErr net.Error
			if sendDone && errors.As(err, &netErr) && netErr.Timeout() {
				d.logger.Warn().Msg("deepgram drain timeout, ending stream")
				return
			}
			sw.Send(speechmodel.Result{}, fmt.Errorf("deepgram stream failed: %w", err))
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			d.logger.Warn().Err(err).Msg("failed to decode deepgram message")
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		result := speechmodel.Result{
			Text:      strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
			IsPartial: !resp.IsFinal,
		}
		if closed := sw.Send(result, nil); closed {
			return
		}
	}
}
