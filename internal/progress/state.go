// Package progress implements the progression engine: per-user curriculum
// state, score recording, experience, ranks, stage unlocks and badges.
package progress

import (
	"slices"
	"time"

	"github.com/jonathan/levelup/internal/curriculum"
)

// Profile is the identity data copied onto the user's state.
type Profile struct {
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// UserRef identifies the caller of an engine operation. Profile fields are
// merged into the stored state when non-empty; LastSeen is ignored.
type UserRef struct {
	ID      string
	Profile Profile
}

// TaskAttempt is one scored submission. Attempts are append-only.
type TaskAttempt struct {
	Score        int       `json:"score"`
	Timestamp    time.Time `json:"timestamp"`
	SourceRef    string    `json:"sourceRef"`
	Report       any       `json:"report,omitempty"`
	SubmissionID string    `json:"submissionId,omitempty"`
}

// TaskState is the attempt history of one task and its best score.
type TaskState struct {
	Attempts  []TaskAttempt `json:"attempts"`
	BestScore int           `json:"bestScore"`
}

// maxAttemptScore returns the highest attempt score, or 0 when there are none.
func (t TaskState) maxAttemptScore() int {
	best := 0
	for _, a := range t.Attempts {
		if a.Score > best {
			best = a.Score
		}
	}
	return best
}

func (t TaskState) hasSubmission(id string) bool {
	for _, a := range t.Attempts {
		if a.SubmissionID == id {
			return true
		}
	}
	return false
}

func (t TaskState) lastTimestamp() time.Time {
	if len(t.Attempts) == 0 {
		return time.Time{}
	}
	return t.Attempts[len(t.Attempts)-1].Timestamp
}

// UserState is the persisted progression record of one user.
type UserState struct {
	CurrentStage   int                  `json:"currentStage"`
	UnlockedStages []int                `json:"unlockedStages"`
	Experience     int                  `json:"experience"`
	Rank           string               `json:"rank"`
	BadgesEarned   []string             `json:"badgesEarned"`
	Tasks          map[string]TaskState `json:"tasks"`
	Profile        Profile              `json:"profile"`

	// Version is the store's concurrency token for the loaded document.
	Version string `json:"-"`
}

// newState builds the default record for a first-time user.
func newState(c *curriculum.Catalog, p Profile, now time.Time) *UserState {
	s := &UserState{
		CurrentStage:   1,
		UnlockedStages: []int{1},
		Rank:           c.LowestRank(),
		BadgesEarned:   []string{},
		Tasks:          make(map[string]TaskState),
		Profile:        p,
	}
	s.Profile.LastSeen = now
	s.fillTasks(c)
	return s
}

// IsUnlocked reports whether the stage is available to the user.
func (s *UserState) IsUnlocked(stageID int) bool {
	return slices.Contains(s.UnlockedStages, stageID)
}

// HasBadge reports whether the badge was already earned.
func (s *UserState) HasBadge(badge string) bool {
	return slices.Contains(s.BadgesEarned, badge)
}

// Task returns the state of one task; a task never attempted is empty.
func (s *UserState) Task(stageID int, slot curriculum.Slot) TaskState {
	return s.Tasks[curriculum.TaskKey(stageID, slot)]
}

func (s *UserState) unlock(stageID int) {
	if s.IsUnlocked(stageID) {
		return
	}
	s.UnlockedStages = append(s.UnlockedStages, stageID)
	slices.Sort(s.UnlockedStages)
	if stageID > s.CurrentStage {
		s.CurrentStage = stageID
	}
}

func (s *UserState) award(badge string) bool {
	if s.HasBadge(badge) {
		return false
	}
	s.BadgesEarned = append(s.BadgesEarned, badge)
	return true
}

// mergeProfile copies the non-empty fields of p.
func (s *UserState) mergeProfile(p Profile) {
	if p.DisplayName != "" {
		s.Profile.DisplayName = p.DisplayName
	}
	if p.Email != "" {
		s.Profile.Email = p.Email
	}
	if p.AvatarURL != "" {
		s.Profile.AvatarURL = p.AvatarURL
	}
}

// fillTasks makes sure every catalog task key is present, stage 1 is unlocked
// and the current stage is a real stage.
func (s *UserState) fillTasks(c *curriculum.Catalog) {
	if s.Tasks == nil {
		s.Tasks = make(map[string]TaskState)
	}
	for _, key := range c.TaskKeys() {
		if ts := s.Tasks[key]; ts.Attempts == nil {
			ts.Attempts = []TaskAttempt{}
			s.Tasks[key] = ts
		}
	}
	if s.BadgesEarned == nil {
		s.BadgesEarned = []string{}
	}
	s.unlock(1)
	if s.CurrentStage < 1 {
		s.CurrentStage = 1
	}
}

// recompute derives best scores, experience and rank from the attempt history
// and returns the names of the fields whose stored values disagreed.
// Best scores only ever move up.
func (s *UserState) recompute(c *curriculum.Catalog) []string {
	var drift []string
	for key, ts := range s.Tasks {
		if best := ts.maxAttemptScore(); best > ts.BestScore {
			ts.BestScore = best
			s.Tasks[key] = ts
			drift = append(drift, "tasks."+key+".bestScore")
		}
	}
	if xp := Experience(s.Tasks); xp != s.Experience {
		s.Experience = xp
		drift = append(drift, "experience")
	}
	if rank := c.RankFor(s.Experience); rank != s.Rank {
		s.Rank = rank
		drift = append(drift, "rank")
	}
	slices.Sort(drift)
	return drift
}
