// Package ai provides the classification fallback for rows the rule engine
// could not confidently classify.
package ai

import (
	"context"
	"fmt"
)

// Request carries one row's context to the provider.
type Request struct {
	Narration string `json:"narration"`
	Amount    string `json:"amount,omitempty"`
	Direction string `json:"direction,omitempty"`
	Datetime  string `json:"datetime,omitempty"`
}

// Result is the provider's classification for one row, same order as the
// request batch.
type Result struct {
	Category      string   `json:"category"`
	Platform      string   `json:"platform"`
	PaymentMethod string   `json:"payment_method"`
	Tags          []string `json:"tags"`
	Confidence    float64  `json:"confidence"`
}

// Classifier sends batches of ambiguous rows to an external model. A failed
// batch returns an error for the whole batch; results are never silently
// partial.
type Classifier interface {
	ClassifyBatch(ctx context.Context, batch []Request) ([]Result, error)
}

// ConfidenceCeiling caps model-reported confidence. AI answers never clear
// the rule auto-accept gate, so every AI-classified row stays in review.
const ConfidenceCeiling = 0.75

// Disabled is the classifier used when no provider is configured. Batches
// fail, which fails sessions that need the fallback tier; rule-only sessions
// are unaffected.
type Disabled struct{}

func (Disabled) ClassifyBatch(_ context.Context, batch []Request) ([]Result, error) {
	return nil, fmt.Errorf("ai classification is not configured (%d rows need review)", len(batch))
}
