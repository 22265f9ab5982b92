// Package transcriber turns uploaded audio into text transcripts. Like the
// feedback evaluator it hides interchangeable backends behind one interface,
// but there is no guaranteed local fallback: an exhausted provider surfaces
// an error and the job requeues.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"interview-pipeline/internal/models"
	"interview-pipeline/internal/telemetry"
)

// Input is one audio clip to transcribe.
type Input struct {
	ResponseID string
	Audio      []byte
	MimeType   string
	Language   string
}

// Provider converts audio to a transcript.
type Provider interface {
	ID() string
	Transcribe(ctx context.Context, in Input) (models.Transcript, error)
}

// Registry maps provider ids to instances and applies the calling policy:
// a hard timeout per attempt and bounded retries.
type Registry struct {
	providers  map[string]Provider
	defaultPrv Provider
	timeout    time.Duration
	retries    int
	log        *slog.Logger
}

// NewRegistry creates a registry seeded with the default provider.
func NewRegistry(def Provider, timeout time.Duration, retries int, log *slog.Logger) *Registry {
	return &Registry{
		providers:  map[string]Provider{def.ID(): def},
		defaultPrv: def,
		timeout:    timeout,
		retries:    retries,
		log:        log,
	}
}

// Register adds a provider at startup.
func (r *Registry) Register(p Provider) {
	if p == nil || p.ID() == "" {
		return
	}
	r.providers[p.ID()] = p
}

// Resolve maps an id to a provider, degrading to the default with a warning
// on unknown ids.
func (r *Registry) Resolve(id string) Provider {
	if p, ok := r.providers[id]; ok {
		return p
	}
	r.log.Warn("unknown transcription provider, using default", "provider", id)
	return r.defaultPrv
}

// Transcribe runs the provider under the calling policy. On exhaustion it
// returns the collected attempt errors alongside the final error; the caller
// decides between requeue and terminal failure.
func (r *Registry) Transcribe(ctx context.Context, providerID string, in Input) (models.Transcript, []string, error) {
	p := r.Resolve(providerID)
	attempts := r.retries + 1
	var errs []string

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptStart := time.Now()
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		t, err := p.Transcribe(cctx, in)
		cancel()
		latency := time.Since(attemptStart)
		telemetry.ProviderLatency.WithLabelValues(p.ID()).Observe(latency.Seconds())

		if err != nil {
			telemetry.ProviderCalls.WithLabelValues(p.ID(), "error").Inc()
			errs = append(errs, err.Error())
			r.log.Warn("transcription attempt failed",
				"provider", p.ID(), "response", in.ResponseID, "attempt", attempt, "error", err)
			continue
		}

		telemetry.ProviderCalls.WithLabelValues(p.ID(), "ok").Inc()
		t.Provider = p.ID()
		t.LatencyMS = latency.Milliseconds()
		return t, errs, nil
	}

	return models.Transcript{}, errs,
		fmt.Errorf("provider %s exhausted %d attempts", p.ID(), attempts)
}
