// Command sttprobe streams a PCM16 recording through the dictation pipeline
// and prints every frame that comes back. With -mode=server it talks to a
// running /ws/stt endpoint; with -mode=direct it runs the configured
// transcriber in-process.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mdthorpe/llm-web-chat/internal/config"
	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
	"github.com/mdthorpe/llm-web-chat/internal/service/speech"
)

// wavHeaderSize is the canonical RIFF header length skipped for .wav input.
const wavHeaderSize = 44

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()

	mode := flag.String("mode", "server", "server: stream to a running /ws/stt; direct: run the configured transcriber in-process")
	url := flag.String("url", "ws://localhost:8080/ws/stt", "dictation websocket url (server mode)")
	audioPath := flag.String("audio", "", "16 kHz mono PCM16 file (.pcm/.raw, or a canonical .wav)")
	chunkSize := flag.Int("chunk", 3200, "bytes per binary frame (3200 = 100ms)")
	realtime := flag.Bool("realtime", true, "pace frames at the audio's real-time rate")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")
	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		log.Fatal().Msg("-audio is required")
	}
	if *chunkSize <= 0 {
		log.Fatal().Int("chunk", *chunkSize).Msg("-chunk must be positive")
	}

	audio, err := readPCM(*audioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read audio")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := pacer{chunk: *chunkSize, realtime: *realtime, rate: speechmodel.DefaultStreamConfig().BytesPerSecond()}
	log.Info().Str("mode", *mode).Int("bytes", len(audio)).Int("chunk", *chunkSize).Msg("probe starting")

	switch *mode {
	case "server":
		err = runServer(ctx, *url, audio, p)
	case "direct":
		err = runDirect(ctx, audio, p)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown -mode, want server or direct")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}
}

func readPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") && len(data) > wavHeaderSize && bytes.HasPrefix(data, []byte("RIFF")) {
		data = data[wavHeaderSize:]
	}
	return data, nil
}

// pacer splits audio into frames, optionally sleeping so the stream arrives
// no faster than it was recorded.
type pacer struct {
	chunk    int
	realtime bool
	rate     int
}

func (p pacer) each(ctx context.Context, audio []byte, send func([]byte) error) error {
	frameDelay := time.Duration(float64(p.chunk) / float64(p.rate) * float64(time.Second))
	for off := 0; off < len(audio); off += p.chunk {
		end := min(off+p.chunk, len(audio))
		if err := send(audio[off:end]); err != nil {
			return err
		}
		if p.realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(frameDelay):
			}
		}
	}
	return nil
}

func runServer(ctx context.Context, url string, audio []byte, p pacer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		for {
			var frame ws.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
			printFrame(frame)
		}
	}()

	err = p.each(ctx, audio, func(b []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, b)
	})
	if err != nil {
		return fmt.Errorf("stream audio: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ws.ControlEnd)); err != nil {
		return fmt.Errorf("send END: %w", err)
	}
	log.Info().Msg("audio sent, waiting for final transcript")

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runDirect(ctx context.Context, audio []byte, p pacer) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	transcriber, err := speech.New(speech.Options{
		Provider:       cfg.Speech.Provider,
		DeepgramAPIKey: cfg.Speech.DeepgramAPIKey,
		DeepgramModel:  cfg.Speech.DeepgramModel,
		DeepgramURL:    cfg.Speech.DeepgramURL,

		VolcAppID:       cfg.Speech.VolcAppID,
		VolcAccessToken: cfg.Speech.VolcAccessToken,
		VolcResourceID:  cfg.Speech.VolcResourceID,
		VolcURL:         cfg.Speech.VolcURL,

		Logger: log.Logger,
	})
	if err != nil {
		return err
	}

	stream := speechmodel.DefaultStreamConfig()
	stream.Language = cfg.Speech.Language
	stream.Model = cfg.Speech.DeepgramModel
	relay := speech.NewRelay(speech.RelayConfig{
		Transcriber: transcriber,
		Stream:      stream,
		Logger:      log.Logger,
	})

	queue := speech.NewFrameQueue()
	go func() {
		defer queue.End()
		_ = p.each(ctx, audio, func(b []byte) error {
			queue.Push(b)
			return nil
		})
	}()

	return relay.Run(ctx, queue, frameWriter{out: os.Stdout})
}

// frameWriter prints frames as JSON lines.
type frameWriter struct {
	out io.Writer
}

func (w frameWriter) Send(frame ws.Frame) error {
	return json.NewEncoder(w.out).Encode(frame)
}

func printFrame(frame ws.Frame) {
	_ = frameWriter{out: os.Stdout}.Send(frame)
}
