package anonymizer

import (
	"context"
	"errors"
	"testing"

	"github.com/hannes/textanon/anonymize"
	"github.com/hannes/textanon/ner"
	"github.com/hannes/textanon/store"
)

func TestServiceAnonymizeSpanPath(t *testing.T) {
	provider := &ner.StaticProvider{
		Result: ner.Result{
			Spans: []anonymize.Span{
				{Start: 0, End: 4, Label: "PERSON"},
				{Start: 14, End: 19, Label: "LOCATION"},
			},
		},
	}

	svc := NewService(StaticSource(provider), nil, Options{})
	result, err := svc.Anonymize(context.Background(), "John lives in Paris")
	if err != nil {
		t.Fatalf("Anonymize returned error: %v", err)
	}

	if want := "[PERSON] lives in [LOCATION]"; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
	if len(result.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(result.Entities))
	}
	if result.Entities[0].Text != "John" || result.Entities[1].Text != "Paris" {
		t.Errorf("entity texts = %q, %q", result.Entities[0].Text, result.Entities[1].Text)
	}
	if result.RequestID == "" {
		t.Error("RequestID is empty")
	}
}

func TestServiceAnonymizeUnorderedProviderSpans(t *testing.T) {
	provider := &ner.StaticProvider{
		Result: ner.Result{
			Spans: []anonymize.Span{
				{Start: 14, End: 19, Label: "LOCATION"},
				{Start: 0, End: 4, Label: "PERSON"},
			},
		},
	}

	svc := NewService(StaticSource(provider), nil, Options{})
	result, err := svc.Anonymize(context.Background(), "John lives in Paris")
	if err != nil {
		t.Fatalf("Anonymize returned error: %v", err)
	}
	if want := "[PERSON] lives in [LOCATION]"; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestServiceAnonymizeTokenFallback(t *testing.T) {
	provider := &ner.StaticProvider{
		Result: ner.Result{
			Tokens: []anonymize.Token{
				{Text: "John", Start: 0, End: 4, Tag: "B-PERSON"},
				{Text: "lives", Start: 5, End: 10, Tag: "O"},
				{Text: "in", Start: 11, End: 13, Tag: "O"},
				{Text: "Paris", Start: 14, End: 19, Tag: "B-LOCATION"},
			},
		},
	}

	svc := NewService(StaticSource(provider), nil, Options{})
	result, err := svc.Anonymize(context.Background(), "John lives in Paris")
	if err != nil {
		t.Fatalf("Anonymize returned error: %v", err)
	}
	if want := "[PERSON] lives in [LOCATION]"; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestServiceAnonymizeNoEntities(t *testing.T) {
	svc := NewService(StaticSource(&ner.StaticProvider{}), nil, Options{})

	result, err := svc.Anonymize(context.Background(), "nothing sensitive here")
	if err != nil {
		t.Fatalf("Anonymize returned error: %v", err)
	}
	if result.Text != "nothing sensitive here" {
		t.Errorf("Text = %q, want input unchanged", result.Text)
	}
	if len(result.Entities) != 0 {
		t.Errorf("got %d entities, want 0", len(result.Entities))
	}
}

func TestServiceAnonymizeContractViolation(t *testing.T) {
	provider := &ner.StaticProvider{
		Result: ner.Result{
			Spans: []anonymize.Span{
				{Start: 0, End: 5, Label: "A"},
				{Start: 3, End: 8, Label: "B"},
			},
		},
	}

	svc := NewService(StaticSource(provider), nil, Options{})
	if _, err := svc.Anonymize(context.Background(), "0123456789"); !errors.Is(err, anonymize.ErrOverlappingSpans) {
		t.Errorf("error = %v, want ErrOverlappingSpans", err)
	}
}

func TestServiceAnonymizeProviderError(t *testing.T) {
	provider := &ner.StaticProvider{Err: errors.New("model exploded")}

	svc := NewService(StaticSource(provider), nil, Options{})
	if _, err := svc.Anonymize(context.Background(), "text"); err == nil {
		t.Error("expected provider error to surface")
	}
}

func TestServiceAnonymizeRecordsAudit(t *testing.T) {
	provider := &ner.StaticProvider{
		ProviderName: "fixture",
		Result: ner.Result{
			Spans: []anonymize.Span{
				{Start: 0, End: 4, Label: "PERSON"},
				{Start: 14, End: 19, Label: "LOCATION"},
			},
		},
	}
	audit := store.NewMemoryAuditStore()

	svc := NewService(StaticSource(provider), audit, Options{})
	result, err := svc.Anonymize(context.Background(), "John lives in Paris")
	if err != nil {
		t.Fatalf("Anonymize returned error: %v", err)
	}

	entries, err := audit.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}

	e := entries[0]
	if e.ID != result.RequestID {
		t.Errorf("audit ID = %s, want %s", e.ID, result.RequestID)
	}
	if e.Detector != "fixture" {
		t.Errorf("Detector = %s, want fixture", e.Detector)
	}
	if e.EntityCount != 2 {
		t.Errorf("EntityCount = %d, want 2", e.EntityCount)
	}
	if e.Labels["PERSON"] != 1 || e.Labels["LOCATION"] != 1 {
		t.Errorf("Labels = %v", e.Labels)
	}
	if e.TextSHA256 == "" {
		t.Error("TextSHA256 is empty")
	}
	if e.TextSHA256 == "John lives in Paris" {
		t.Error("audit entry stored raw text instead of a digest")
	}
}

func TestServiceAnonymizeSourceError(t *testing.T) {
	m := ner.NewManagerWithProvider(&ner.StaticProvider{})
	if err := m.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	svc := NewService(m, nil, Options{})
	if _, err := svc.Anonymize(context.Background(), "text"); err == nil {
		t.Error("expected error when the provider source is unhealthy")
	}
}
