package ner

import (
	"context"
	"regexp"
	"sort"

	"github.com/hannes/textanon/anonymize"
)

// pattern pairs an entity label with its compiled expression. Order matters:
// earlier patterns win when matches tie on start offset and length.
type pattern struct {
	label string
	re    *regexp.Regexp
}

// patterns covers structured identifiers a statistical model tends to miss.
var patterns = []pattern{
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	{"TELEPHONENUM", regexp.MustCompile(`\b(?:\+?1[-.]?)?\(?([0-9]{3})\)?[-.]?([0-9]{3})[-.]?([0-9]{4})\b`)},
	{"SOCIALNUM", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDITCARDNUMBER", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"DATE", regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[-/](?:0?[1-9]|[12][0-9]|3[01])[-/](?:19|20)\d{2}\b`)},
	{"ZIPCODE", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
	{"TAXNUM", regexp.MustCompile(`\b\d{2}-\d{7}\b`)},
	{"URL", regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)},
}

// RegexProvider recognizes structured entities with a fixed pattern table.
// It emits spans directly and is the fallback detector when no model is
// available.
type RegexProvider struct{}

// NewRegexProvider returns the pattern-based provider.
func NewRegexProvider() *RegexProvider {
	return &RegexProvider{}
}

// Name implements Provider.
func (p *RegexProvider) Name() string {
	return "regex"
}

// Recognize implements Provider. The returned spans are ordered by start
// offset and non-overlapping; when matches from different patterns collide,
// the earlier-starting (then longer) match wins.
func (p *RegexProvider) Recognize(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var spans []anonymize.Span
	for _, pat := range patterns {
		for _, m := range pat.re.FindAllStringIndex(text, -1) {
			spans = append(spans, anonymize.Span{Start: m[0], End: m[1], Label: pat.label})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})

	out := spans[:0]
	prevEnd := 0
	for _, sp := range spans {
		if sp.Start < prevEnd {
			continue
		}
		out = append(out, sp)
		prevEnd = sp.End
	}

	return Result{Spans: out}, nil
}

// Close implements Provider.
func (p *RegexProvider) Close() error {
	return nil
}
