// Package anonymize replaces labeled entity spans in text with bracketed
// category placeholders, e.g. "Barack Obama visited." -> "[PERSON] visited.".
//
// Entity information can be supplied as explicit spans (FromSpans) or as a
// BIO-tagged token sequence (SpansFromBIO, FromTokens). The package performs
// no I/O and holds no mutable state; all functions are safe for concurrent
// use.
package anonymize

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for contract violations on the direct-span path. A
// malformed span list indicates a caller or provider bug, not a transient
// condition, so the whole input is rejected and nothing is retried.
var (
	ErrInvalidSpan      = errors.New("invalid span")
	ErrOverlappingSpans = errors.New("overlapping spans")
)

// Span is a half-open character range [Start, End) over the original text,
// carrying the entity label that replaces it in the output.
type Span struct {
	Start int
	End   int
	Label string
}

// Token is a substring of the original text with its byte offsets and a
// per-token entity tag: "O", "B-<LABEL>" or "I-<LABEL>". SpansFromBIO also
// understands the BIOES/BILOU prefixes "S-", "U-", "E-" and "L-".
type Token struct {
	Text  string
	Start int
	End   int
	Tag   string
}

// FromSpans returns text with every span replaced by "[LABEL]" and all
// uncovered characters preserved verbatim, whitespace and punctuation
// included.
//
// Spans must be ordered by ascending Start and non-overlapping. Zero-width
// spans are skipped without inserting anything. A span whose offsets fall
// outside [0, len(text)] or with Start > End rejects the whole input with
// ErrInvalidSpan; a span that intersects its predecessor rejects it with
// ErrOverlappingSpans.
func FromSpans(text string, spans []Span) (string, error) {
	if len(spans) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	prevEnd := 0
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start > sp.End {
			return "", fmt.Errorf("%w: [%d:%d) on text of length %d", ErrInvalidSpan, sp.Start, sp.End, len(text))
		}
		if sp.Start == sp.End {
			// Zero-width spans are not entities.
			continue
		}
		if sp.Start < prevEnd {
			return "", fmt.Errorf("%w: [%d:%d) intersects span ending at %d", ErrOverlappingSpans, sp.Start, sp.End, prevEnd)
		}
		b.WriteString(text[last:sp.Start])
		b.WriteByte('[')
		b.WriteString(sp.Label)
		b.WriteByte(']')
		last = sp.End
		prevEnd = sp.End
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// FromTokens anonymizes text from a BIO-tagged token sequence in one step.
// The token path never produces contract errors itself; FromTokens can only
// fail when the token offsets fall outside the text.
func FromTokens(text string, tokens []Token) (string, error) {
	return FromSpans(text, SpansFromBIO(tokens))
}
