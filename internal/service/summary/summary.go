// Package summary produces the one-sentence summary stored with every
// assistant message.
//
// The model's own first sentence is used whenever it already reads like a
// summary; only otherwise is a second, short model call made.
package summary

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// Instruction is the system prompt sent when a summary has to be generated.
	Instruction = "Summarize the assistant reply in exactly one sentence of at most 12 words. No markdown, no quotes. End with a period."
	// Fallback is returned when the generated summary is unusable.
	Fallback = "Here is a summary of the response."

	cueLength       = 40
	maxSummaryWords = 12
)

// Source records how a summary was obtained.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceModel     Source = "model"
	SourceFallback  Source = "fallback"
)

// Summary is a summary together with its origin.
type Summary struct {
	Text   string
	Source Source
}

// Summarizer is the non-streaming half of a generation backend.
type Summarizer interface {
	Generate(ctx context.Context, modelID string, messages []*schema.Message) (string, error)
}

// ExtractLeadingSentence returns the text up to and including the first
// sentence terminator that is followed by whitespace or the end of the text,
// with whitespace collapsed. Without a terminator the whole text is returned.
func ExtractLeadingSentence(text string) string {
	trimmed := strings.TrimSpace(text)
	for i, r := range trimmed {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next == len(trimmed) {
			break
		}
		following, _ := utf8.DecodeRuneInString(trimmed[next:])
		if unicode.IsSpace(following) {
			return normalizeSpace(trimmed[:next])
		}
	}
	return normalizeSpace(trimmed)
}

// IsAdequateSummary is a cheap gate that accepts sentences which read like a
// natural summary. False negatives are acceptable.
func IsAdequateSummary(s string) bool {
	words := len(strings.Fields(s))
	if words < 3 || words > 60 {
		return false
	}
	length := utf8.RuneCountInString(s)
	if length < 15 || length > 300 {
		return false
	}
	if strings.Contains(s, "```") || strings.Contains(s, "http") {
		return false
	}
	if strings.ContainsAny(s, "{};") {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(first)
}

// Build returns a non-empty one-sentence summary of fullText.
func Build(ctx context.Context, fullText, modelID string, s Summarizer) (string, error) {
	sum, err := Summarize(ctx, fullText, modelID, s)
	if err != nil {
		return "", err
	}
	return sum.Text, nil
}

// Summarize is Build with the origin of the summary attached.
func Summarize(ctx context.Context, fullText, modelID string, s Summarizer) (Summary, error) {
	lead := ExtractLeadingSentence(fullText)
	if IsAdequateSummary(lead) {
		return Summary{Text: ensureTerminated(lead), Source: SourceHeuristic}, nil
	}
	if s == nil {
		return Summary{Text: Fallback, Source: SourceFallback}, nil
	}

	messages := []*schema.Message{
		schema.SystemMessage(Instruction),
		schema.UserMessage(cue(fullText)),
	}
	raw, err := s.Generate(ctx, modelID, messages)
	if err != nil {
		return Summary{}, fmt.Errorf("generate summary: %w", err)
	}

	if text := Coerce(raw); text != "" {
		return Summary{Text: text, Source: SourceModel}, nil
	}
	return Summary{Text: Fallback, Source: SourceFallback}, nil
}

// Coerce trims a generated summary to a single plain sentence of at most
// twelve words ending with a period. It returns "" when nothing usable is left.
func Coerce(raw string) string {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '“', '”', '‘', '’', '«', '»', '*', '#', '_':
			return -1
		}
		return r
	}, line)

	words := strings.Fields(line)
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	text := strings.TrimRight(strings.Join(words, " "), " ,;:-.!?")
	if strings.IndexFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
		return ""
	}
	return text + "."
}

func cue(fullText string) string {
	trimmed := strings.TrimSpace(fullText)
	if utf8.RuneCountInString(trimmed) <= cueLength {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[:cueLength])
}

// ensureTerminated ends s with exactly one period; a trailing ! or ? is
// replaced.
func ensureTerminated(s string) string {
	return strings.TrimRight(s, ".!?") + "."
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
