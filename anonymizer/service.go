// Package anonymizer wires a NER provider to the span substitution core and
// records an audit trail of runs.
package anonymizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hannes/textanon/anonymize"
	"github.com/hannes/textanon/ner"
	"github.com/hannes/textanon/store"
)

// ProviderSource hands out the current NER provider. Using a source instead
// of a fixed provider lets the service pick up hot-reloaded models.
type ProviderSource interface {
	Get() (ner.Provider, error)
}

// Entity is one substituted span with the text it replaced.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result is one anonymization run.
type Result struct {
	RequestID string   `json:"request_id"`
	Text      string   `json:"text"`
	Entities  []Entity `json:"entities"`
}

// Options control service side effects.
type Options struct {
	LogEntities bool // log detected labels per run
	LogVerbose  bool // include offsets in entity logs
}

// Service runs the full anonymization path: recognize, reconstruct spans if
// the provider only tagged tokens, substitute, audit.
type Service struct {
	providers ProviderSource
	audit     store.AuditStore
	opts      Options
}

// NewService creates a service. audit may be nil to disable the trail.
func NewService(providers ProviderSource, audit store.AuditStore, opts Options) *Service {
	return &Service{providers: providers, audit: audit, opts: opts}
}

// Anonymize replaces every recognized entity span in text with its bracketed
// label. Direct provider spans are preferred; when a provider returns none
// it falls back to reconstructing spans from the BIO-tagged tokens. Provider
// contract violations (anonymize.ErrInvalidSpan, anonymize.ErrOverlappingSpans)
// surface unchanged.
func (s *Service) Anonymize(ctx context.Context, text string) (Result, error) {
	started := time.Now()
	requestID := uuid.NewString()

	provider, err := s.providers.Get()
	if err != nil {
		return Result{}, fmt.Errorf("no provider: %w", err)
	}

	recognized, err := provider.Recognize(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("recognition failed: %w", err)
	}

	spans := recognized.Spans
	if len(spans) == 0 {
		spans = anonymize.SpansFromBIO(recognized.Tokens)
	} else {
		// Providers are not required to emit ordered spans.
		spans = append([]anonymize.Span(nil), spans...)
		sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	}

	out, err := anonymize.FromSpans(text, spans)
	if err != nil {
		return Result{}, err
	}

	entities := make([]Entity, 0, len(spans))
	for _, sp := range spans {
		if sp.Start == sp.End {
			continue
		}
		entities = append(entities, Entity{
			Text:  text[sp.Start:sp.End],
			Label: sp.Label,
			Start: sp.Start,
			End:   sp.End,
		})
	}

	if s.opts.LogEntities {
		for _, e := range entities {
			if s.opts.LogVerbose {
				log.Printf("[%s] detected %s at [%d:%d)", requestID, e.Label, e.Start, e.End)
			} else {
				log.Printf("[%s] detected %s", requestID, e.Label)
			}
		}
	}

	s.record(ctx, requestID, provider.Name(), text, entities, time.Since(started))

	return Result{RequestID: requestID, Text: out, Entities: entities}, nil
}

// record writes the audit entry. Audit failures are logged, never surfaced;
// the anonymized text is already produced and the caller should get it.
func (s *Service) record(ctx context.Context, requestID, detector, text string, entities []Entity, elapsed time.Duration) {
	if s.audit == nil {
		return
	}

	labels := make(map[string]int, len(entities))
	for _, e := range entities {
		labels[e.Label]++
	}

	digest := sha256.Sum256([]byte(text))
	entry := store.Entry{
		ID:          requestID,
		TextSHA256:  hex.EncodeToString(digest[:]),
		Detector:    detector,
		EntityCount: len(entities),
		Labels:      labels,
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   time.Now(),
	}

	if err := s.audit.Record(ctx, entry); err != nil {
		log.Printf("[%s] failed to record audit entry: %v", requestID, err)
	}
}

// staticSource wraps a fixed provider as a ProviderSource.
type staticSource struct {
	provider ner.Provider
}

func (s staticSource) Get() (ner.Provider, error) {
	return s.provider, nil
}

// StaticSource adapts a fixed provider (regex, sidecar, fixture) to the
// ProviderSource interface.
func StaticSource(p ner.Provider) ProviderSource {
	return staticSource{provider: p}
}
