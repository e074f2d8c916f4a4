package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
)

// Relay owns one dictation session: it feeds audio to the transcriber and
// forwards every non-empty result to the client.
type Relay struct {
	transcriber Transcriber
	cfg         speechmodel.StreamConfig
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// RelayConfig wires a Relay.
type RelayConfig struct {
	Transcriber Transcriber
	Stream      speechmodel.StreamConfig
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewRelay(cfg RelayConfig) *Relay {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	stream := cfg.Stream
	if stream.SampleRate == 0 {
		stream = speechmodel.DefaultStreamConfig()
	}
	return &Relay{
		transcriber: cfg.Transcriber,
		cfg:         stream,
		logger:      cfg.Logger.With().Str("component", "stt_relay").Logger(),
		metrics:     m,
	}
}

// Run transcribes audio until the source ends and the backend has drained.
// A backend failure is reported to the client as an error frame and returned;
// the caller is expected to close the session either way.
func (r *Relay) Run(ctx context.Context, audio AudioSource, out ws.Sender) error {
	stream, err := r.transcriber.Transcribe(ctx, audio, r.cfg)
	if err != nil {
		return r.fail(out, fmt.Errorf("transcription failed to start: %w", err))
	}
	defer stream.Close()

	var partials, finals int
	for {
		result, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			r.logger.Debug().Int("partials", partials).Int("finals", finals).Msg("transcription drained")
			return nil
		}
		if err != nil {
			return r.fail(out, err)
		}

		text := strings.TrimSpace(result.Text)
		if text == "" {
			continue
		}

		if result.IsPartial {
			partials++
			r.metrics.TranscriptResults.WithLabelValues(ws.TypePartial).Inc()
			_ = out.Send(ws.Partial(text))
		} else {
			finals++
			r.metrics.TranscriptResults.WithLabelValues(ws.TypeFinal).Inc()
			_ = out.Send(ws.Final(text))
		}
	}
}

func (r *Relay) fail(out ws.Sender, err error) error {
	r.logger.Error().Err(err).Msg("transcription failed")
	r.metrics.TranscriptResults.WithLabelValues(ws.TypeError).Inc()
	_ = out.Send(ws.Error(err.Error()))
	return err
}
