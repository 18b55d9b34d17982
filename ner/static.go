package ner

import "context"

// StaticProvider returns a fixed result for every input. It backs tests and
// offline fixtures so nothing in the repo depends on actual model inference.
type StaticProvider struct {
	ProviderName string
	Result       Result
	Err          error
}

// Name implements Provider.
func (p *StaticProvider) Name() string {
	if p.ProviderName == "" {
		return "static"
	}
	return p.ProviderName
}

// Recognize implements Provider.
func (p *StaticProvider) Recognize(ctx context.Context, text string) (Result, error) {
	return p.Result, p.Err
}

// Close implements Provider.
func (p *StaticProvider) Close() error {
	return nil
}
