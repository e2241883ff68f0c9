// Package server provides the HTTP API of the progression service.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/levelup/internal/fetch"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/review"
	"github.com/jonathan/levelup/internal/server/middleware"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrForbidden indicates the caller may not use the endpoint.
type ErrForbidden struct {
	Reason string
}

func (e *ErrForbidden) Error() string {
	return "forbidden: " + e.Reason
}

// ErrStageLocked indicates a submission for a stage the user has not unlocked.
type ErrStageLocked struct {
	StageID int
}

func (e *ErrStageLocked) Error() string {
	return fmt.Sprintf("stage %d is locked", e.StageID)
}

// validationError converts validator output into an ErrValidation naming the
// first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ErrValidation{Field: fe.Field(), Message: msg}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		validation  *ErrValidation
		forbidden   *ErrForbidden
		locked      *ErrStageLocked
		badURL      *fetch.InvalidRepoURLError
		notFound    *fetch.RepoNotFoundError
		fetchErr    *fetch.Error
		reviewErr   *review.Error
		persistence *progress.PersistenceError
	)

	switch {
	case errors.As(err, &validation), progress.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, middleware.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden), errors.As(err, &locked):
		return http.StatusForbidden
	case errors.Is(err, progress.ErrUserNotFound):
		return http.StatusNotFound
	case errors.As(err, &badURL), errors.As(err, &notFound), errors.As(err, &fetchErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &reviewErr):
		return http.StatusBadGateway
	case errors.As(err, &persistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
