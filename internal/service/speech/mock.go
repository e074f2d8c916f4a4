package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

// MockOptions tunes the MockTranscriber.
type MockOptions struct {
	// PartialEvery emits a partial hypothesis each time this many bytes of
	// audio have been consumed. Zero means one second of audio.
	PartialEvery int
	// FinalText replaces the generated final transcript when set.
	FinalText string
	// FailAfter makes the transcription fail with Err once this many bytes
	// have been consumed. Zero disables the failure.
	FailAfter int
	Err       error
}

// MockTranscriber is a local stand-in for a live speech backend. It never
// inspects the audio content, only its length.
type MockTranscriber struct {
	opts MockOptions
}

func NewMock(opts MockOptions) *MockTranscriber {
	return &MockTranscriber{opts: opts}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio AudioSource, cfg speechmodel.StreamConfig) (*schema.StreamReader[speechmodel.Result], error) {
	if audio == nil {
		return nil, errors.New("mock transcriber: nil audio source")
	}

	if cfg.SampleRate <= 0 {
		cfg = speechmodel.DefaultStreamConfig()
	}
	every := m.opts.PartialEvery
	if every <= 0 {
		every = cfg.BytesPerSecond()
	}
	rate := float64(cfg.BytesPerSecond())

	sr, sw := schema.Pipe[speechmodel.Result](8)
	go func() {
		defer sw.Close()

		var total, nextPartial int
		nextPartial = every
		for {
			chunk, err := audio.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				sw.Send(speechmodel.Result{}, err)
				return
			}
			total += len(chunk)

			if m.opts.FailAfter > 0 && total >= m.opts.FailAfter {
				failure := m.opts.Err
				if failure == nil {
					failure = errors.New("mock transcription failure")
				}
				sw.Send(speechmodel.Result{}, failure)
				return
			}

			for total >= nextPartial {
				text := fmt.Sprintf("[mock] listening %.1fs", float64(nextPartial)/rate)
				if closed := sw.Send(speechmodel.Result{Text: text, IsPartial: true}, nil); closed {
					return
				}
				nextPartial += every
			}
		}

		if total == 0 {
			return
		}
		text := m.opts.FinalText
		if text == "" {
			text = fmt.Sprintf("[mock] transcribed %.1f seconds of audio", float64(total)/rate)
		}
		sw.Send(speechmodel.Result{Text: text}, nil)
	}()

	return sr, nil
}
