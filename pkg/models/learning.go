package models

// Learning types extracted from conversation text.
const (
	LearningTypeTerminology = "terminology"
	LearningTypeProduct     = "product"
	LearningTypePreference  = "preference"
	LearningTypeCorrection  = "correction"
)

// Learning sources.
const (
	LearningSourceExplicit = "explicit" // the user stated it directly
	LearningSourceInferred = "inferred" // pattern-matched from phrasing
)

// Confidence handling for persisted learnings. Entries below the active
// threshold are stored inactive and queued for human review instead of
// changing agent behavior immediately.
const (
	LearningConfidenceActiveThreshold = 0.8
	LearningConfidenceDefault         = 0.9
	LearningConfidenceInferred        = 0.6
)

// LearningExtraction is one candidate piece of knowledge found in a
// conversation. Deduplicated by (Type, Key) within an extraction pass.
type LearningExtraction struct {
	Type       string  `json:"type"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	MapsTo     string  `json:"maps_to_field,omitempty"` // advisory, not validated at write time
}

// DedupKey identifies an extraction within one pass.
func (l LearningExtraction) DedupKey() string {
	return l.Type + "\x00" + l.Key
}
