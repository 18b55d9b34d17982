package ner

import (
	"context"
	"testing"

	"github.com/hannes/textanon/anonymize"
)

func TestRegexProviderRecognize(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want []anonymize.Span
	}{
		{
			name: "email",
			text: "Contact john@example.com today",
			want: []anonymize.Span{
				{Start: 8, End: 24, Label: "EMAIL"},
			},
		},
		{
			name: "ssn wins over zipcode on the same digits",
			text: "SSN 123-45-6789 on file",
			want: []anonymize.Span{
				{Start: 4, End: 15, Label: "SOCIALNUM"},
			},
		},
		{
			name: "multiple kinds in order",
			text: "mail jane@test.org or dial 555-867-5309",
			want: []anonymize.Span{
				{Start: 5, End: 18, Label: "EMAIL"},
				{Start: 27, End: 39, Label: "TELEPHONENUM"},
			},
		},
		{
			name: "credit card",
			text: "card 4111 1111 1111 1111 expires soon",
			want: []anonymize.Span{
				{Start: 5, End: 24, Label: "CREDITCARDNUMBER"},
			},
		},
		{
			name: "nothing structured",
			text: "John lives in Paris",
			want: []anonymize.Span{},
		},
	}

	ctx := context.Background()
	provider := NewRegexProvider()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := provider.Recognize(ctx, tc.text)
			if err != nil {
				t.Fatalf("Recognize returned error: %v", err)
			}
			if len(result.Spans) != len(tc.want) {
				t.Fatalf("got %d spans (%+v), want %d", len(result.Spans), result.Spans, len(tc.want))
			}
			for i, sp := range result.Spans {
				if sp != tc.want[i] {
					t.Errorf("span %d = %+v, want %+v", i, sp, tc.want[i])
				}
				if tc.text[sp.Start:sp.End] == "" {
					t.Errorf("span %d covers no text", i)
				}
			}
		})
	}
}

// Regex output must be directly usable by the substitution path.
func TestRegexProviderOutputFeedsFromSpans(t *testing.T) {
	text := "reach admin@corp.io, SSN 123-45-6789, zip 94105"
	result, err := NewRegexProvider().Recognize(context.Background(), text)
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}

	got, err := anonymize.FromSpans(text, result.Spans)
	if err != nil {
		t.Fatalf("FromSpans rejected regex spans: %v", err)
	}
	if want := "reach [EMAIL], SSN [SOCIALNUM], zip [ZIPCODE]"; got != want {
		t.Errorf("anonymized = %q, want %q", got, want)
	}
}
