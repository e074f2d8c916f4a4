package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

const (
	// 双向流式模式
	defaultVolcengineEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	// 小时版；并发版为 volc.bigasr.sauc.concurrent
	defaultVolcengineResource = "volc.bigasr.sauc.duration"
	volcengineSuccessCode     = 20000000
	volcengineDrainTimeout    = 10 * time.Second
)

// VolcengineConfig configures the Volcengine streaming ASR transcriber.
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	ResourceID  string
	Endpoint    string
	// DrainTimeout bounds how long results are awaited after the audio ends.
	DrainTimeout time.Duration
	Logger       zerolog.Logger
}

// Volcengine 火山引擎流式语音识别
type Volcengine struct {
	cfg    VolcengineConfig
	dialer *websocket.Dialer
	logger zerolog.Logger
}

type volcRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Format   string `json:"format"`
		Codec    string `json:"codec"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
		Language string `json:"language,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn"`
		EnablePunc     bool   `json:"enable_punc"`
		ShowUtterances bool   `json:"show_utterances"`
		ResultType     string `json:"result_type"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type volcResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string          `json:"text"`
		Utterances []volcUtterance `json:"utterances,omitempty"`
	} `json:"result"`
}

// volcUtterance 是一句话的识别结果；definite 表示该句已结束，不会再变化。
type volcUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

func (r volcResponse) text() string {
	if text := strings.TrimSpace(r.Result.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(r.Result.Utterances))
	for _, u := range r.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func NewVolcengine(cfg VolcengineConfig) *Volcengine {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultVolcengineEndpoint
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = defaultVolcengineResource
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = volcengineDrainTimeout
	}
	return &Volcengine{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		logger: cfg.Logger.With().Str("component", "volcengine_asr").Logger(),
	}
}

func (v *Volcengine) Transcribe(ctx context.Context, audio AudioSource, cfg speechmodel.StreamConfig) (*schema.StreamReader[speechmodel.Result], error) {
	if v.cfg.AppID == "" || v.cfg.AccessToken == "" {
		return nil, errors.New("volcengine asr requires app id and access token")
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", v.cfg.AppID)
	header.Set("X-Api-Access-Key", v.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", v.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := v.dialer.DialContext(ctx, v.cfg.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to volcengine asr: %w", err)
	}
	logger := v.logger.With().Str("connect_id", connectID).Logger()
	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			logger.Debug().Str("logid", logID).Msg("volcengine asr connected")
		}
	}

	if err := v.sendRequest(conn, connectID, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	sr, sw := schema.Pipe[speechmodel.Result](16)
	sendErrCh := make(chan error, 1)

	go v.sendAudio(ctx, conn, audio, sendErrCh, logger)
	go v.receiveResults(conn, sw, sendErrCh, logger)

	return sr, nil
}

func (v *Volcengine) sendRequest(conn *websocket.Conn, uid string, cfg speechmodel.StreamConfig) error {
	var req volcRequest
	req.User.UID = uid
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = cfg.SampleRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = speechmodel.DefaultStreamConfig().SampleRate
	}
	req.Audio.Bits = 16
	req.Audio.Channel = max(cfg.Channels, 1)
	req.Audio.Language = volcLanguage(cfg.Language)
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal asr request: %w", err)
	}
	frame, err := encodeVolcFrame(volcFrame{
		Type:          volcFullClientRequest,
		Flags:         volcNoSequence,
		Serialization: volcSerialJSON,
		Gzip:          true,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send asr request: %w", err)
	}
	return nil
}

// volcLanguage maps short language tags to the locale codes the service
// expects.
func volcLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "":
		return ""
	case "en":
		return "en-US"
	case "zh":
		return "zh-CN"
	default:
		return lang
	}
}

// sendAudio is the only writer on conn. The full request takes sequence 1, so
// audio starts at 2; the end of audio is an empty frame with a negative
// sequence.
func (v *Volcengine) sendAudio(ctx context.Context, conn *websocket.Conn, audio AudioSource, errCh chan<- error, logger zerolog.Logger) {
	sequence := int32(2)
	var sent int

	write := func(f volcFrame) error {
		data, err := encodeVolcFrame(f)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}

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
		if err := write(volcAudioFrame(chunk, sequence, false)); err != nil {
			errCh <- fmt.Errorf("failed to send audio chunk: %w", err)
			conn.Close()
			return
		}
		sequence++
		sent += len(chunk)
	}

	if err := write(volcAudioFrame(nil, sequence, true)); err != nil {
		errCh <- fmt.Errorf("failed to send last audio frame: %w", err)
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(v.cfg.DrainTimeout))
	logger.Debug().Int("bytes", sent).Int32("frames", sequence-1).Msg("audio stream finished, draining results")
	errCh <- nil
}

func (v *Volcengine) receiveResults(conn *websocket.Conn, sw *schema.StreamWriter[speechmodel.Result], sendErrCh <-chan error, logger zerolog.Logger) {
	defer sw.Close()
	defer conn.Close()

	var (
		sendDone bool
		sendErr  error
		tracker  volcTracker
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
			var netErr net.Error
			if sendDone && errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn().Msg("volcengine asr drain timeout, ending stream")
				return
			}
			sw.Send(speechmodel.Result{}, fmt.Errorf("volcengine asr stream failed: %w", err))
			return
		}

		frame, err := decodeVolcFrame(data)
		if err != nil {
			sw.Send(speechmodel.Result{}, fmt.Errorf("failed to decode asr frame: %w", err))
			return
		}

		switch frame.Type {
		case volcErrorMessage:
			sw.Send(speechmodel.Result{}, fmt.Errorf("volcengine asr error %d: %s", frame.ErrorCode, string(frame.Payload)))
			return
		case volcFullServerResponse:
		default:
			continue
		}

		var resp volcResponse
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			logger.Warn().Err(err).Msg("failed to decode asr response")
			continue
		}
		if resp.Code != 0 && resp.Code != volcengineSuccessCode {
			sw.Send(speechmodel.Result{}, fmt.Errorf("volcengine asr error %d: %s", resp.Code, resp.Message))
			return
		}

		for _, result := range tracker.observe(resp, frame.last()) {
			if closed := sw.Send(result, nil); closed {
				return
			}
		}
		if frame.last() {
			return
		}
	}
}

// volcTracker turns result_type=full responses, which repeat the whole
// transcript every time, into incremental results: each utterance becomes
// final once it is definite, and the open tail is reported as a partial only
// when it changes.
type volcTracker struct {
	finalized int
	pending   string
}

func (t *volcTracker) observe(resp volcResponse, last bool) []speechmodel.Result {
	var results []speechmodel.Result
	utterances := resp.Result.Utterances

	var tail string
	if len(utterances) == 0 {
		// without utterances only the plain transcript is known; once
		// sentences were finalized it would repeat them
		if t.finalized == 0 {
			tail = resp.text()
		}
	} else {
		for t.finalized < len(utterances) && utterances[t.finalized].Definite {
			if text := strings.TrimSpace(utterances[t.finalized].Text); text != "" {
				results = append(results, speechmodel.Result{Text: text})
			}
			t.finalized++
			t.pending = ""
		}
		parts := make([]string, 0, len(utterances)-t.finalized)
		for _, u := range utterances[t.finalized:] {
			if text := strings.TrimSpace(u.Text); text != "" {
				parts = append(parts, text)
			}
		}
		tail = strings.Join(parts, " ")
	}

	if last {
		// the stream is over, so whatever is still open is final
		if tail == "" {
			tail = t.pending
		}
		if tail != "" {
			results = append(results, speechmodel.Result{Text: tail})
		}
		t.pending = ""
		return results
	}

	if tail != "" && tail != t.pending {
		t.pending = tail
		results = append(results, speechmodel.Result{Text: tail, IsPartial: true})
	}
	return results
}
