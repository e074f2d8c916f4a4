package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
)

// AudioSource is a lazy, finite sequence of audio chunks. Next returns io.EOF
// when the sequence is exhausted.
type AudioSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Transcriber 抽象流式语音识别后端。
//
// Transcribe consumes audio until it returns io.EOF and yields results through
// the returned reader. The reader ends with io.EOF after the backend has
// drained every result belonging to the consumed audio; backend failures are
// surfaced as a non-EOF error from Recv.
type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioSource, cfg speechmodel.StreamConfig) (*schema.StreamReader[speechmodel.Result], error)
}

// Options selects and configures a Transcriber implementation.
type Options struct {
	Provider       string
	DeepgramAPIKey string
	DeepgramModel  string
	DeepgramURL    string

	VolcAppID       string
	VolcAccessToken string
	VolcResourceID  string
	VolcURL         string

	Logger zerolog.Logger
}

// New builds the transcriber named by opts.Provider.
func New(opts Options) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "mock":
		return NewMock(MockOptions{}), nil
	case "deepgram":
		if opts.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("deepgram transcriber requires DEEPGRAM_API_KEY")
		}
		return NewDeepgram(DeepgramConfig{
			APIKey:   opts.DeepgramAPIKey,
			Model:    opts.DeepgramModel,
			Endpoint: opts.DeepgramURL,
			Logger:   opts.Logger,
		}), nil
	case "volcengine":
		if opts.VolcAppID == "" || opts.VolcAccessToken == "" {
			return nil, fmt.Errorf("volcengine transcriber requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
		}
		return NewVolcengine(VolcengineConfig{
			AppID:       opts.VolcAppID,
			AccessToken: opts.VolcAccessToken,
			ResourceID:  opts.VolcResourceID,
			Endpoint:    opts.VolcURL,
			Logger:      opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported speech provider %q", opts.Provider)
	}
}
