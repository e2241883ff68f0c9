package progress

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned by Snapshot for a user with no stored state.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingUserID is returned when a call carries no user identifier.
	ErrMissingUserID = errors.New("user id is required")
)

// UnknownStageError is returned for a stage id with no catalog entry.
type UnknownStageError struct {
	StageID int
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage: %d", e.StageID)
}

// UnknownTaskError is returned for a task slot the stage does not define.
type UnknownTaskError struct {
	StageID int
	Slot    string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q in stage %d", e.Slot, e.StageID)
}

// InvalidScoreError is returned for a score outside 0..Max.
type InvalidScoreError struct {
	Score int
	Max   int
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("score %d out of range 0..%d", e.Score, e.Max)
}

// Persistence operations.
const (
	OpLoad   = "load"
	OpDecode = "decode"
	OpEncode = "encode"
	OpSave   = "save"
	OpList   = "list"
)

// PersistenceError wraps a failure of the document store or of the state
// encoding around it. Retrying the whole call is safe.
type PersistenceError struct {
	Op       string
	UserID   string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("persistence %s failed", e.Op)
	if e.UserID != "" {
		msg += fmt.Sprintf(" for user %s", e.UserID)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err was caused by the request itself rather
// than by the store.
func IsClientError(err error) bool {
	var (
		stageErr *UnknownStageError
		taskErr  *UnknownTaskError
		scoreErr *InvalidScoreError
	)
	return errors.As(err, &stageErr) || errors.As(err, &taskErr) || errors.As(err, &scoreErr) ||
		errors.Is(err, ErrMissingUserID)
}
