package model

import "time"

// OtherCategory is the fallback label for suggestions outside the catalog.
const OtherCategory = "Other"

// MaxCategorizationBatch is the classifier's per-chunk ceiling.
const MaxCategorizationBatch = 100

// Catalog is the set of category labels valid for one user.
type Catalog struct {
	Predefined  []string `json:"predefined"`
	UserDefined []string `json:"userDefined"`
	All         []string `json:"all"`
}

// Suggestion is a validated AI classification for one expense.
type Suggestion struct {
	Category   string  `json:"category"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// BatchSummary aggregates the outcome of a worker invocation.
// TotalProcessed = Eligible + Skipped and Eligible = Successful + Failed.
type BatchSummary struct {
	TotalProcessed int           `json:"totalProcessed"`
	Eligible       int           `json:"eligible"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Malformed      int           `json:"malformed"`
	Duration       time.Duration `json:"duration"`
}

// Add merges other into s.
func (s *BatchSummary) Add(other BatchSummary) {
	s.TotalProcessed += other.TotalProcessed
	s.Eligible += other.Eligible
	s.Successful += other.Successful
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Malformed += other.Malformed
}
