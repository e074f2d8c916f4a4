package speech

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	speechmodel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
	"github.com/mdthorpe/llm-web-chat/internal/model/ws"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []ws.Frame
}

func (r *recordingSender) Send(frame ws.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSender) snapshot() []ws.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ws.Frame(nil), r.frames...)
}

// scriptedTranscriber replays fixed results and ignores the audio.
type scriptedTranscriber struct {
	results  []speechmodel.Result
	err      error
	startErr error
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, audio AudioSource, cfg speechmodel.StreamConfig) (*schema.StreamReader[speechmodel.Result], error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	sr, sw := schema.Pipe[speechmodel.Result](len(s.results) + 1)
	go func() {
		defer sw.Close()
		for _, r := range s.results {
			sw.Send(r, nil)
		}
		if s.err != nil {
			sw.Send(speechmodel.Result{}, s.err)
		}
	}()
	return sr, nil
}

func newTestRelay(tr Transcriber) *Relay {
	return NewRelay(RelayConfig{
		Transcriber: tr,
		Logger:      zerolog.Nop(),
		Metrics:     metrics.New(),
	})
}

func TestRelayForwardsPartialAndFinal(t *testing.T) {
	tr := &scriptedTranscriber{results: []speechmodel.Result{
		{Text: "hel", IsPartial: true},
		{Text: "  ", IsPartial: true},
		{Text: "hello", IsPartial: true},
		{Text: ""},
		{Text: " hello world "},
	}}
	out := &recordingSender{}

	q := NewFrameQueue()
	q.End()
	if err := newTestRelay(tr).Run(context.Background(), q, out); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	want := []ws.Frame{ws.Partial("hel"), ws.Partial("hello"), ws.Final("hello world")}
	got := out.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRelayReportsBackendError(t *testing.T) {
	boom := errors.New("socket reset")
	tr := &scriptedTranscriber{
		results: []speechmodel.Result{{Text: "partial", IsPartial: true}},
		err:     boom,
	}
	out := &recordingSender{}

	q := NewFrameQueue()
	q.End()
	err := newTestRelay(tr).Run(context.Background(), q, out)
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}

	got := out.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected partial then error, got %+v", got)
	}
	if got[1].Type != ws.TypeError || got[1].Error != "socket reset" {
		t.Fatalf("unexpected error frame %+v", got[1])
	}
}

func TestRelayReportsStartFailure(t *testing.T) {
	tr := &scriptedTranscriber{startErr: errors.New("dial failed")}
	out := &recordingSender{}

	err := newTestRelay(tr).Run(context.Background(), NewFrameQueue(), out)
	if err == nil {
		t.Fatalf("expected error")
	}
	got := out.snapshot()
	if len(got) != 1 || got[0].Type != ws.TypeError {
		t.Fatalf("expected single error frame, got %+v", got)
	}
}

func TestRelayWithMockTranscriber(t *testing.T) {
	q := NewFrameQueue()
	out := &recordingSender{}
	relay := newTestRelay(NewMock(MockOptions{FinalText: "done"}))

	errCh := make(chan error, 1)
	go func() { errCh <- relay.Run(context.Background(), q, out) }()

	q.Push(make([]byte, 32000))
	q.End()

	if err := <-errCh; err != nil {
		t.Fatalf("Run err: %v", err)
	}
	got := out.snapshot()
	if len(got) != 2 || got[0].Type != ws.TypePartial || got[1] != ws.Final("done") {
		t.Fatalf("unexpected frames %+v", got)
	}
}
