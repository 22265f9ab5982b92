package models

// Segment is one timed slice of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the output of one transcription run.
type Transcript struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments,omitempty"`
	Provider   string    `json:"provider"`
	LatencyMS  int64     `json:"latency_ms"`
}
