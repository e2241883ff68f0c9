// Package review scores a repository against a curriculum task with an LLM
// and turns the answer into the report stored on the attempt.
package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jonathan/levelup/internal/schemas"
	schemafiles "github.com/jonathan/levelup/schemas"
)

// Review categories, each scored 0..MaxCategoryScore.
var Categories = []string{
	"code_structure",
	"architecture",
	"clean_code",
	"scalability",
	"documentation",
	"error_handling",
	"product_thinking",
	"performance",
}

// MaxCategoryScore is the highest score of a single category.
const MaxCategoryScore = 7

// Improvement is one actionable finding.
type Improvement struct {
	Problem string `json:"problem"`
	Why     string `json:"why"`
	How     string `json:"how"`
}

// Report is the normalized review.
type Report struct {
	TotalScore   int                `json:"total_score"`
	Breakdown    map[string]float64 `json:"breakdown"`
	Strengths    []string           `json:"strengths"`
	Improvements []Improvement      `json:"improvements"`
	GrowthFocus  []string           `json:"growth_focus"`
}

// ParseReport validates a raw model answer against the report schema and
// decodes it. The answer's own total_score is ignored; call Normalize.
func ParseReport(raw string) (*Report, error) {
	if err := schemas.ValidateDocument(schemafiles.ReviewReport, []byte(raw)); err != nil {
		return nil, err
	}

	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to decode review report: %w", err)
	}
	return &r, nil
}

// Normalize clamps every category to 0..MaxCategoryScore, fills absent
// lists, and sets TotalScore to round(sum / maxSum * maxScore).
func (r *Report) Normalize(maxScore int) {
	if r.Breakdown == nil {
		r.Breakdown = make(map[string]float64, len(Categories))
	}
	sum := 0.0
	for _, c := range Categories {
		v := r.Breakdown[c]
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		if v > MaxCategoryScore {
			v = MaxCategoryScore
		}
		r.Breakdown[c] = v
		sum += v
	}
	// Unknown categories do not count and are dropped.
	for k := range r.Breakdown {
		if !isCategory(k) {
			delete(r.Breakdown, k)
		}
	}

	maxSum := float64(len(Categories) * MaxCategoryScore)
	r.TotalScore = int(math.Round(sum / maxSum * float64(maxScore)))
	if r.TotalScore > maxScore {
		r.TotalScore = maxScore
	}

	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Improvements == nil {
		r.Improvements = []Improvement{}
	}
	if r.GrowthFocus == nil {
		r.GrowthFocus = []string{}
	}
}

// Map returns the report as a generic value suitable for storage. Numbers
// are decoded as json.Number so integral values keep their integer type.
func (r *Report) Map() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func isCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}
