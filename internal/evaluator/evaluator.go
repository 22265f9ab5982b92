// Package evaluator scores completed interview sessions. Providers are
// interchangeable backends behind one interface; the Registry applies the
// calling policy (timeout, retry, fallback to the baseline) uniformly.
package evaluator

import (
	"context"

	"interview-pipeline/internal/models"
)

// Input is everything a provider may consider for one session.
type Input struct {
	Session   models.Session
	Responses []models.Response
}

// Provider produces a raw, unvalidated evaluation for a session. External
// providers may be slow or unreliable; the baseline provider is pure local
// computation and never fails.
type Provider interface {
	ID() string
	Evaluate(ctx context.Context, in Input) (models.RawEvaluation, error)
}
