package evaluator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"interview-pipeline/internal/models"
)

// BaselineID identifies the always-available local evaluator.
const BaselineID = "baseline"

// Cue phrases signalling each STAR dimension in an answer.
var baselineCues = map[string][]string{
	"situation": {"when ", "while ", "during ", "situation", "context", "at the time"},
	"task":      {"task", "goal", "objective", "responsible", "needed to", "had to"},
	"action":    {"i decided", "i led", "i built", "i implemented", "i organized", "i wrote", "so i ", "took action"},
	"result":    {"result", "outcome", "improved", "increased", "reduced", "delivered", "achieved", "learned"},
}

var baselineAdvice = map[string][2]string{
	"situation": {"Clear framing of the situation and its context", "Open with the concrete situation: where you were and what was at stake"},
	"task":      {"Well-defined goal and personal responsibility", "State the task explicitly: what you, specifically, were responsible for"},
	"action":    {"Specific first-person actions rather than team generalities", "Describe the actions you personally took, step by step"},
	"result":    {"Concrete, measurable outcomes", "Close with the outcome, ideally with a number or a lesson learned"},
}

// Baseline is the deterministic local evaluator. It is pure computation over
// the answer text and is the guaranteed fallback for every external provider.
type Baseline struct{}

var _ Provider = Baseline{}

func (Baseline) ID() string { return BaselineID }

// Evaluate scores each response with keyword and length heuristics and
// averages across the session. It never returns an error.
func (Baseline) Evaluate(_ context.Context, in Input) (models.RawEvaluation, error) {
	dims := []string{"situation", "task", "action", "result"}
	totals := map[string]int{}
	detailTotal := 0

	for _, resp := range in.Responses {
		text := strings.ToLower(resp.BestText())
		words := len(strings.Fields(text))
		for _, dim := range dims {
			hits := 0
			for _, cue := range baselineCues[dim] {
				if strings.Contains(text, cue) {
					hits++
				}
			}
			if hits > 3 {
				hits = 3
			}
			lengthScore := words / 8
			if lengthScore > 25 {
				lengthScore = 25
			}
			totals[dim] += clampScore(float64(30 + lengthScore + hits*12))
		}
		detailScore := words / 5
		if detailScore > 60 {
			detailScore = 60
		}
		detailTotal += clampScore(float64(20 + detailScore))
	}

	n := len(in.Responses)
	scores := map[string]any{}
	for _, dim := range dims {
		scores[dim] = avg(totals[dim], n)
	}
	scores["detail"] = avg(detailTotal, n)

	overall := clampScore(math.Round(
		float64(scores["situation"].(int))*weightSituation +
			float64(scores["task"].(int))*weightTask +
			float64(scores["action"].(int))*weightAction +
			float64(scores["result"].(int))*weightResult +
			float64(scores["detail"].(int))*weightDetail))
	scores["overall"] = overall

	var strengths, suggestions []any
	for _, dim := range dims {
		if scores[dim].(int) >= 70 {
			strengths = append(strengths, baselineAdvice[dim][0])
		} else if scores[dim].(int) < 60 {
			suggestions = append(suggestions, baselineAdvice[dim][1])
		}
	}
	if scores["detail"].(int) < 50 {
		suggestions = append(suggestions, "Add more specifics: names, numbers, and timeframes make answers credible")
	}

	return models.RawEvaluation{
		Scores:      scores,
		Rating:      ratingFor(overall),
		Strengths:   strengths,
		Suggestions: suggestions,
		Summary:     fmt.Sprintf("Scored %d answers with the local STAR heuristic.", n),
	}, nil
}

func avg(total, n int) int {
	if n == 0 {
		return 0
	}
	return total / n
}

func ratingFor(overall int) string {
	switch {
	case overall >= 85:
		return models.RatingExcellent
	case overall >= 70:
		return models.RatingGood
	case overall >= 50:
		return models.RatingFair
	default:
		return models.RatingNeedsImprovement
	}
}
