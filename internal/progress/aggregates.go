package progress

import (
	"math"

	"github.com/jonathan/levelup/internal/curriculum"
)

// Experience is the sum of best scores over all tasks.
func Experience(tasks map[string]TaskState) int {
	total := 0
	for _, ts := range tasks {
		total += ts.BestScore
	}
	return total
}

// StageScore is the combined best score of a stage's two tasks.
func StageScore(s *UserState, stageID int) int {
	total := 0
	for _, slot := range curriculum.Slots {
		total += s.Task(stageID, slot).BestScore
	}
	return total
}

// ScoreDelta is the change between the last two attempts, 0 with fewer than two.
func ScoreDelta(attempts []TaskAttempt) int {
	if len(attempts) < 2 {
		return 0
	}
	return attempts[len(attempts)-1].Score - attempts[len(attempts)-2].Score
}

// CompletionPercent is experience as a rounded percentage of maxXP, capped at 100.
func CompletionPercent(xp, maxXP int) int {
	if maxXP <= 0 {
		return 0
	}
	pct := int(math.Round(float64(xp) / float64(maxXP) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// RankProgress describes where a user sits in the rank table.
type RankProgress struct {
	Rank      string `json:"rank"`
	NextRank  string `json:"nextRank,omitempty"`
	NextAt    int    `json:"nextAt,omitempty"`
	Remaining int    `json:"remaining"`
}

// ProgressToNextRank returns the current tier and the experience still
// needed for the next one. Remaining is 0 at the top tier.
func ProgressToNextRank(c *curriculum.Catalog, xp int) RankProgress {
	p := RankProgress{Rank: c.RankFor(xp)}
	if next, ok := c.NextRank(xp); ok {
		p.NextRank = next.Title
		p.NextAt = next.MinExperience
		p.Remaining = next.MinExperience - xp
	}
	return p
}

// StageSummary is the per-stage view of a user's progress.
type StageSummary struct {
	StageID     int    `json:"stageId"`
	Score       int    `json:"score"`
	MaxScore    int    `json:"maxScore"`
	Threshold   int    `json:"threshold"`
	Unlocked    bool   `json:"unlocked"`
	Badge       string `json:"badge"`
	BadgeEarned bool   `json:"badgeEarned"`
}

// Summary aggregates a state for display.
type Summary struct {
	Experience        int            `json:"experience"`
	CompletionPercent int            `json:"completionPercent"`
	Rank              RankProgress   `json:"rank"`
	Stages            []StageSummary `json:"stages"`
}

// Summarize computes the display aggregates for a state.
func Summarize(c *curriculum.Catalog, s *UserState) Summary {
	out := Summary{
		Experience:        s.Experience,
		CompletionPercent: CompletionPercent(s.Experience, c.MaxExperience()),
		Rank:              ProgressToNextRank(c, s.Experience),
		Stages:            make([]StageSummary, 0, len(c.Stages)),
	}
	for _, st := range c.Stages {
		out.Stages = append(out.Stages, StageSummary{
			StageID:     st.ID,
			Score:       StageScore(s, st.ID),
			MaxScore:    st.MaxScore(),
			Threshold:   st.UnlockThreshold,
			Unlocked:    s.IsUnlocked(st.ID),
			Badge:       st.Badge,
			BadgeEarned: s.HasBadge(st.Badge),
		})
	}
	return out
}
