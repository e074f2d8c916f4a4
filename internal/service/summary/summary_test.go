package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

type fakeSummarizer struct {
	reply    string
	err      error
	calls    int
	modelID  string
	messages []*schema.Message
}

func (f *fakeSummarizer) Generate(_ context.Context, modelID string, messages []*schema.Message) (string, error) {
	f.calls++
	f.modelID = modelID
	f.messages = messages
	return f.reply, f.err
}

func TestExtractLeadingSentence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Hello world. Next part.", want: "Hello world."},
		{in: "no terminator here", want: "no terminator here"},
		{in: "  Is it   ready?\nYes it is.", want: "Is it ready?"},
		{in: "Wow!\n\nMore text follows.", want: "Wow!"},
		{in: "Pi is 3.14 roughly. Right.", want: "Pi is 3.14 roughly."},
		{in: "Single sentence.", want: "Single sentence."},
		{in: "   ", want: ""},
	}

	for _, tc := range cases {
		if got := ExtractLeadingSentence(tc.in); got != tc.want {
			t.Fatalf("ExtractLeadingSentence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsAdequateSummary(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{in: "Here is an overview of async generators.", want: true},
		{in: "ok", want: false},
		{in: "see http://x.com for details.", want: false},
		{in: "lowercase start is not accepted here.", want: false},
		{in: "Use a map { key: value } to store it.", want: false},
		{in: "Run this first; then the rest.", want: false},
		{in: "Here is code ``` inside a fence.", want: false},
		{in: "Too short.", want: false},
		{in: "Two words", want: false},
		{in: "A " + strings.Repeat("word ", 60) + "end.", want: false},
	}

	for _, tc := range cases {
		if got := IsAdequateSummary(tc.in); got != tc.want {
			t.Fatalf("IsAdequateSummary(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSummarizeUsesLeadingSentence(t *testing.T) {
	fake := &fakeSummarizer{reply: "should not be used"}

	got, err := Summarize(context.Background(), "Here is an overview of async generators. They yield values lazily.", "m", fake)
	if err != nil {
		t.Fatalf("Summarize err: %v", err)
	}
	if got.Text != "Here is an overview of async generators." {
		t.Fatalf("unexpected summary %q", got.Text)
	}
	if got.Source != SourceHeuristic {
		t.Fatalf("expected heuristic source, got %s", got.Source)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no model call, got %d", fake.calls)
	}
}

func TestSummarizeHeuristicAddsPeriod(t *testing.T) {
	got, err := Build(context.Background(), "This response has no terminator at all", "m", nil)
	if err != nil {
		t.Fatalf("Build err: %v", err)
	}
	if got != "This response has no terminator at all." {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestSummarizeHeuristicEndsWithPeriod(t *testing.T) {
	cases := map[string]string{
		"Great news for everyone today! More follows.": "Great news for everyone today.",
		"Is this the answer you wanted? Maybe.":        "Is this the answer you wanted.",
		"Nothing more to add here...":                  "Nothing more to add here.",
	}
	for in, want := range cases {
		fake := &fakeSummarizer{}
		got, err := Summarize(context.Background(), in, "m", fake)
		if err != nil {
			t.Fatalf("Summarize(%q) err: %v", in, err)
		}
		if got.Source != SourceHeuristic || got.Text != want {
			t.Fatalf("Summarize(%q) = %+v, want heuristic %q", in, got, want)
		}
		if fake.calls != 0 {
			t.Fatalf("Summarize(%q) called the model", in)
		}
	}
}

func TestSummarizeCallsModelWhenLeadIsInadequate(t *testing.T) {
	fake := &fakeSummarizer{reply: "\"Explains how to configure the server with a JSON file and many more words here.\""}
	text := "```go\nfunc main() {}\n```\nThis configures the server."

	got, err := Summarize(context.Background(), text, "model-a", fake)
	if err != nil {
		t.Fatalf("Summarize err: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected one model call, got %d", fake.calls)
	}
	if fake.modelID != "model-a" {
		t.Fatalf("expected model-a, got %s", fake.modelID)
	}
	if len(fake.messages) != 2 || fake.messages[0].Content != Instruction {
		t.Fatalf("expected instruction as first message, got %+v", fake.messages)
	}
	if cue := fake.messages[1].Content; cue != text[:40] {
		t.Fatalf("expected 40 character cue, got %q", cue)
	}
	if got.Source != SourceModel {
		t.Fatalf("expected model source, got %s", got.Source)
	}
	if got.Text != "Explains how to configure the server with a JSON file and many." {
		t.Fatalf("unexpected coerced summary %q", got.Text)
	}
}

func TestSummarizeFallsBackOnUnusableReply(t *testing.T) {
	fake := &fakeSummarizer{reply: " \"...\" "}

	got, err := Summarize(context.Background(), "ok", "m", fake)
	if err != nil {
		t.Fatalf("Summarize err: %v", err)
	}
	if got.Text != Fallback || got.Source != SourceFallback {
		t.Fatalf("expected fallback, got %+v", got)
	}
}

func TestSummarizePropagatesModelError(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeSummarizer{err: boom}

	if _, err := Build(context.Background(), "ok", "m", fake); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Short and sweet", want: "Short and sweet."},
		{in: "**Bold** summary here!", want: "Bold summary here."},
		{in: "First line.\nSecond line.", want: "First line."},
		{in: "‘Quoted’ text, trailing comma,", want: "Quoted text, trailing comma."},
		{in: "", want: ""},
		{in: "...", want: ""},
	}

	for _, tc := range cases {
		if got := Coerce(tc.in); got != tc.want {
			t.Fatalf("Coerce(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
