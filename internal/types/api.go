package types

import (
	"strings"

	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/progress"
)

// ReviewRequest submits a repository for a stage task.
type ReviewRequest struct {
	RepoURL      string `json:"repoUrl" validate:"required,url,max=500"`
	StageID      int    `json:"stageId" validate:"required,min=1"`
	TaskSlot     string `json:"taskSlot" validate:"required,oneof=A B"`
	SubmissionID string `json:"submissionId,omitempty" validate:"omitempty,uuid"`
}

// Normalize trims the URL and upper-cases the slot.
func (r *ReviewRequest) Normalize() {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.TaskSlot = strings.ToUpper(strings.TrimSpace(r.TaskSlot))
	r.SubmissionID = strings.TrimSpace(r.SubmissionID)
}

// Validate validates the ReviewRequest using the validator.
func (r *ReviewRequest) Validate() error {
	return validate.Struct(r)
}

// Slot returns the parsed task slot. Call after Validate.
func (r *ReviewRequest) Slot() curriculum.Slot {
	s, _ := curriculum.ParseSlot(r.TaskSlot)
	return s
}

// StagesResponse lists the catalog.
type StagesResponse struct {
	Stages        []curriculum.Stage `json:"stages"`
	Ranks         []curriculum.Rank  `json:"ranks"`
	MaxExperience int                `json:"maxExperience"`
}

// StateResponse is the caller's progress.
type StateResponse struct {
	UserID  string              `json:"userId"`
	State   *progress.UserState `json:"state"`
	Summary progress.Summary    `json:"summary"`
}

// ReviewResponse is the outcome of a scored submission.
type ReviewResponse struct {
	Score      int                 `json:"score"`
	Report     any                 `json:"report"`
	XPDelta    int                 `json:"xpDelta"`
	StageScore int                 `json:"stageScore"`
	Unlocked   bool                `json:"unlocked"`
	Completed  bool                `json:"completed"`
	Duplicate  bool                `json:"duplicate"`
	State      *progress.UserState `json:"state"`
	Summary    progress.Summary    `json:"summary"`
}

// UserSummary is one row of the admin listing.
type UserSummary struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName,omitempty"`
	Email        string   `json:"email,omitempty"`
	Experience   int      `json:"experience"`
	Rank         string   `json:"rank"`
	CurrentStage int      `json:"currentStage"`
	Badges       []string `json:"badges"`
}

// NewUserSummary flattens a stored record.
func NewUserSummary(r progress.UserRecord) UserSummary {
	return UserSummary{
		ID:           r.ID,
		DisplayName:  r.State.Profile.DisplayName,
		Email:        r.State.Profile.Email,
		Experience:   r.State.Experience,
		Rank:         r.State.Rank,
		CurrentStage: r.State.CurrentStage,
		Badges:       r.State.BadgesEarned,
	}
}

// UsersResponse is the admin listing.
type UsersResponse struct {
	Users []UserSummary `json:"users"`
	Count int           `json:"count"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Review stream event names.
const (
	EventFetching  = "fetching"
	EventReviewing = "reviewing"
	EventRecording = "recording"
	EventComplete  = "complete"
	EventError     = "error"
)

// StreamEvent is one server-sent event of a streamed review.
type StreamEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Result  *ReviewResponse `json:"result,omitempty"`
	Error   *ErrorResponse  `json:"error,omitempty"`
}
