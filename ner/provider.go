// Package ner defines the named-entity recognition boundary of textanon and
// the bundled providers behind it: a local ONNX token-classification model,
// a regex pattern matcher and an HTTP sidecar client.
package ner

import (
	"context"

	"github.com/hannes/textanon/anonymize"
)

// Result is one provider response over a single input text. Spans is the
// preferred path. A provider that only produces token-level tags leaves
// Spans empty and fills Tokens; the caller reconstructs spans from them.
type Result struct {
	Spans  []anonymize.Span
	Tokens []anonymize.Token
}

// Provider recognizes named entities in text. All offsets in the result
// refer to the exact text passed in. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, text string) (Result, error)
	Close() error
}
