package anonymize

import "strings"

// SpansFromBIO reconstructs entity spans from a BIO-tagged token sequence.
//
// The scan keeps at most one open span. "B-" closes any open span and starts
// a new one, even when the labels match, so adjacent entities never merge
// silently. "O" closes the open span. "I-" extends the open span when the
// label matches; a dangling continuation (no open span, or a different label)
// is promoted to an implicit begin instead of failing, since upstream tagging
// may be imperfect. BIOES-style tags are accepted too: "S-"/"U-" emit a
// single-token span and "E-"/"L-" close the open span after extending it,
// degrading to a single-token span on label mismatch. Tags that carry no
// recognizable prefix are treated as "O".
//
// The returned spans are ordered by ascending start offset and
// non-overlapping by construction, suitable as input to FromSpans. The scan
// never fails for any finite token sequence.
func SpansFromBIO(tokens []Token) []Span {
	var (
		spans []Span
		cur   Span
		open  bool
	)

	closeOpen := func() {
		if open {
			spans = append(spans, cur)
			open = false
		}
	}

	for _, tok := range tokens {
		prefix, label, found := strings.Cut(tok.Tag, "-")
		if !found || label == "" {
			closeOpen()
			continue
		}

		switch prefix {
		case "B":
			closeOpen()
			cur = Span{Start: tok.Start, End: tok.End, Label: label}
			open = true
		case "S", "U":
			closeOpen()
			spans = append(spans, Span{Start: tok.Start, End: tok.End, Label: label})
		case "I":
			if open && cur.Label == label {
				cur.End = tok.End
			} else {
				closeOpen()
				cur = Span{Start: tok.Start, End: tok.End, Label: label}
				open = true
			}
		case "E", "L":
			if open && cur.Label == label {
				cur.End = tok.End
				closeOpen()
			} else {
				closeOpen()
				spans = append(spans, Span{Start: tok.Start, End: tok.End, Label: label})
			}
		default:
			closeOpen()
		}
	}
	closeOpen()

	return spans
}
