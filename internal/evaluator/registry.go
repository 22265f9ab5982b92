package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"interview-pipeline/internal/models"
	"interview-pipeline/internal/telemetry"
)

// Outcome is the result of one policy-governed evaluation, including the
// provenance a feedback report persists.
type Outcome struct {
	Evaluation       models.Evaluation
	ValidationErrors []string
	Provider         string
	Fallback         bool
	FallbackFrom     string
	AttemptErrors    []string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Registry maps provider ids to instances and applies the calling policy:
// a hard timeout per attempt, bounded retries, and transparent fallback to
// the baseline once a non-baseline provider exhausts its attempts.
type Registry struct {
	providers map[string]Provider
	baseline  Provider
	timeout   time.Duration
	retries   int
	log       *slog.Logger
}

// NewRegistry creates a registry seeded with the baseline provider.
func NewRegistry(baseline Provider, timeout time.Duration, retries int, log *slog.Logger) *Registry {
	r := &Registry{
		providers: map[string]Provider{baseline.ID(): baseline},
		baseline:  baseline,
		timeout:   timeout,
		retries:   retries,
		log:       log,
	}
	return r
}

// Register adds a provider. Registration happens at startup; the map is
// read-only afterwards.
func (r *Registry) Register(p Provider) {
	if p == nil || p.ID() == "" {
		return
	}
	r.providers[p.ID()] = p
}

// Resolve maps an id to a provider. Unknown ids degrade to the baseline with
// a logged warning rather than blocking the pipeline.
func (r *Registry) Resolve(id string) Provider {
	if p, ok := r.providers[id]; ok {
		return p
	}
	r.log.Warn("unknown evaluation provider, using baseline", "provider", id)
	return r.baseline
}

// Evaluate runs the configured provider under the calling policy and returns
// a validated evaluation. It fails only when the baseline itself is the
// configured provider and it exhausts its attempts.
func (r *Registry) Evaluate(ctx context.Context, providerID string, in Input) (Outcome, error) {
	start := time.Now()
	p := r.Resolve(providerID)

	raw, vr, attemptErrs, err := r.callWithRetry(ctx, p, in)
	out := Outcome{Provider: p.ID(), AttemptErrors: attemptErrs}
	if err != nil {
		if p.ID() == r.baseline.ID() {
			// No further fallback exists.
			return Outcome{}, err
		}
		telemetry.ProviderFallbacks.WithLabelValues(p.ID(), r.baseline.ID()).Inc()
		r.log.Warn("provider exhausted retries, substituting baseline",
			"from", p.ID(), "attempt_errors", len(attemptErrs))

		braw, berr := r.baseline.Evaluate(ctx, in)
		if berr != nil {
			return Outcome{}, fmt.Errorf("baseline fallback after %s failed: %w", p.ID(), berr)
		}
		telemetry.ProviderCalls.WithLabelValues(r.baseline.ID(), "ok").Inc()
		raw = braw
		vr = Validate(braw)
		out.Provider = r.baseline.ID()
		out.Fallback = true
		out.FallbackFrom = p.ID()
	}

	out.Evaluation = vr.Evaluation
	out.ValidationErrors = vr.Errors
	out.Latency = time.Since(start)
	out.PromptTokens = raw.PromptTokens
	out.CompletionTokens = raw.CompletionTokens
	return out, nil
}

// callWithRetry makes up to retries+1 attempts. A validation failure counts
// as an attempt failure, same as a timeout or provider error.
func (r *Registry) callWithRetry(ctx context.Context, p Provider, in Input) (models.RawEvaluation, ValidationResult, []string, error) {
	attempts := r.retries + 1
	var errs []string

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptStart := time.Now()
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		raw, err := p.Evaluate(cctx, in)
		cancel()
		telemetry.ProviderLatency.WithLabelValues(p.ID()).Observe(time.Since(attemptStart).Seconds())

		if err != nil {
			telemetry.ProviderCalls.WithLabelValues(p.ID(), "error").Inc()
			errs = append(errs, err.Error())
			r.log.Warn("provider attempt failed",
				"provider", p.ID(), "attempt", attempt, "error", err)
			continue
		}

		vr := Validate(raw)
		if !vr.Valid {
			telemetry.ProviderCalls.WithLabelValues(p.ID(), "invalid").Inc()
			errs = append(errs, "validation: "+strings.Join(vr.Errors, "; "))
			r.log.Warn("provider returned invalid payload",
				"provider", p.ID(), "attempt", attempt, "errors", vr.Errors)
			continue
		}

		telemetry.ProviderCalls.WithLabelValues(p.ID(), "ok").Inc()
		return raw, vr, errs, nil
	}

	return models.RawEvaluation{}, ValidationResult{}, errs,
		fmt.Errorf("provider %s exhausted %d attempts", p.ID(), attempts)
}
