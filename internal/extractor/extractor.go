// Package extractor turns natural-language property queries into search
// filters, either through an LLM or with a deterministic pattern matcher
// for environments without an API key.
package extractor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
)

// Extractor maps a query to a validated, normalized Filter. Failures are
// ExtractionErrors.
type Extractor interface {
	Extract(ctx context.Context, query string) (filter.Filter, error)
}

// New returns the LLM extractor when cfg carries an API key and the
// pattern extractor otherwise.
func New(cfg config.LLMConfig, m *metrics.Metrics) (Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		slog.Default().Warn("no llm api key configured, using pattern extractor")
		return NewPattern(), nil
	}
	llm, err := NewLLM(cfg, m)
	if err != nil {
		return nil, err
	}
	return llm, nil
}
