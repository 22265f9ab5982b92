package evaluator

import (
	"fmt"
	"math"
	"strings"

	"interview-pipeline/internal/models"
)

// Weights for deriving the overall score when a provider omits it.
const (
	weightSituation = 0.2
	weightTask      = 0.2
	weightAction    = 0.25
	weightResult    = 0.25
	weightDetail    = 0.1
)

// ValidationResult carries the normalized evaluation plus everything that had
// to be defaulted. An invalid result is still safe to persist; Errors surface
// only to logs and metrics, never to the end user.
type ValidationResult struct {
	Valid      bool
	Errors     []string
	Evaluation models.Evaluation
}

// Validate normalizes a raw provider payload into a safe evaluation. It runs
// on every feedback payload before persistence, regardless of which provider
// produced it.
func Validate(raw models.RawEvaluation) ValidationResult {
	var errs []string

	situation := normalizeScore(raw.Scores, "situation", &errs)
	task := normalizeScore(raw.Scores, "task", &errs)
	action := normalizeScore(raw.Scores, "action", &errs)
	result := normalizeScore(raw.Scores, "result", &errs)
	detail := normalizeScore(raw.Scores, "detail", &errs)

	overall, ok := finiteScore(raw.Scores["overall"])
	if !ok {
		overall = clampScore(math.Round(
			float64(situation)*weightSituation +
				float64(task)*weightTask +
				float64(action)*weightAction +
				float64(result)*weightResult +
				float64(detail)*weightDetail))
	}

	rating := raw.Rating
	switch rating {
	case models.RatingExcellent, models.RatingGood, models.RatingFair, models.RatingNeedsImprovement:
	default:
		errs = append(errs, fmt.Sprintf("rating %q is not recognized", rating))
		rating = models.RatingNeedsImprovement
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
		Evaluation: models.Evaluation{
			Scores: models.Scores{
				Situation: situation,
				Task:      task,
				Action:    action,
				Result:    result,
				Detail:    detail,
				Overall:   overall,
			},
			Rating:      rating,
			Strengths:   normalizeList(raw.Strengths),
			Suggestions: normalizeList(raw.Suggestions),
			Summary:     strings.TrimSpace(raw.Summary),
		},
	}
}

func normalizeScore(scores map[string]any, name string, errs *[]string) int {
	v, ok := finiteScore(scores[name])
	if !ok {
		*errs = append(*errs, fmt.Sprintf("scores.%s missing or invalid", name))
		return 0
	}
	return v
}

// finiteScore accepts any finite numeric value, rounds it, and clamps it to
// [0,100]. Everything else (strings, null, NaN, Inf) is rejected.
func finiteScore(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return clampScore(math.Round(f)), true
}

func clampScore(f float64) int {
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(f)
}

// normalizeList keeps non-empty strings, capped at MaxListItems.
func normalizeList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == models.MaxListItems {
			break
		}
	}
	return out
}
