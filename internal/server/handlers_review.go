package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/server/middleware"
	"github.com/jonathan/levelup/internal/types"
	"go.uber.org/zap"
)

// emitFunc reports review progress; the plain endpoint ignores it.
type emitFunc func(types.StreamEvent)

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, req, err := s.reviewInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.runReview(r.Context(), id, req, func(types.StreamEvent) {})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleReviewStream runs a review and reports each step as a server-sent
// event. Input errors are plain JSON answers; once streaming has begun,
// failures arrive as an error event.
func (s *Server) handleReviewStream(w http.ResponseWriter, r *http.Request) {
	id, req, err := s.reviewInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	emit := func(ev types.StreamEvent) {
		if err := sse.Send(ev); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
		}
	}

	resp, err := s.runReview(r.Context(), id, req, emit)
	if err != nil {
		status := HTTPStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			s.logger.Error("streamed review failed", zap.Error(err))
			msg = "internal error"
		}
		sse.WriteError(status, msg)
		return
	}
	emit(types.StreamEvent{Type: types.EventComplete, Result: resp})
}

func (s *Server) reviewInput(w http.ResponseWriter, r *http.Request) (*types.Identity, types.ReviewRequest, error) {
	var req types.ReviewRequest
	id, err := middleware.GetIdentity(r)
	if err != nil {
		return nil, req, err
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, req, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, req, validationError(err)
	}
	return id, req, nil
}

// runReview checks the target task is open to the caller, fetches the
// repository, scores it and records the attempt.
func (s *Server) runReview(ctx context.Context, id *types.Identity, req types.ReviewRequest, emit emitFunc) (*types.ReviewResponse, error) {
	catalog := s.engine.Catalog()
	stage, ok := catalog.Stage(req.StageID)
	if !ok {
		return nil, &progress.UnknownStageError{StageID: req.StageID}
	}
	slot := req.Slot()
	task, ok := stage.Task(slot)
	if !ok {
		return nil, &progress.UnknownTaskError{StageID: req.StageID, Slot: req.TaskSlot}
	}

	state, err := s.engine.Snapshot(ctx, id.UserID)
	switch {
	case errors.Is(err, progress.ErrUserNotFound):
		state = nil
	case err != nil:
		return nil, err
	}
	if !stageOpen(state, req.StageID) {
		return nil, &ErrStageLocked{StageID: req.StageID}
	}

	// A retried submission that already landed skips the fetch and the LLM.
	if prior, ok := findSubmission(state, req.StageID, slot, req.SubmissionID); ok {
		return &types.ReviewResponse{
			Score:     prior.Score,
			Report:    prior.Report,
			Duplicate: true,
			State:     state,
			Summary:   progress.Summarize(catalog, state),
		}, nil
	}

	emit(types.StreamEvent{Type: types.EventFetching, Message: "fetching " + req.RepoURL})
	repo, err := s.fetcher.FetchRepoContent(ctx, req.RepoURL)
	if err != nil {
		return nil, err
	}

	emit(types.StreamEvent{Type: types.EventReviewing, Message: fmt.Sprintf("reviewing %s/%s for %s", repo.Owner, repo.Repo, task.Label)})
	result, err := s.reviewer.Review(ctx, repo, task)
	if err != nil {
		return nil, err
	}
	report, err := result.Report.Map()
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	emit(types.StreamEvent{Type: types.EventRecording, Message: fmt.Sprintf("recording score %d", result.Score)})
	out, err := s.engine.RecordAttempt(ctx, progress.AttemptRequest{
		User:         userRef(id),
		StageID:      req.StageID,
		Slot:         slot,
		Score:        result.Score,
		SourceRef:    fmt.Sprintf("https://github.com/%s/%s", repo.Owner, repo.Repo),
		Report:       report,
		SubmissionID: req.SubmissionID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review recorded",
		zap.String("user_id", id.UserID),
		zap.Int("stage", req.StageID),
		zap.String("slot", string(slot)),
		zap.Int("score", result.Score),
		zap.Bool("unlocked", out.Unlocked),
	)

	return &types.ReviewResponse{
		Score:      result.Score,
		Report:     report,
		XPDelta:    out.XPDelta,
		StageScore: out.StageScore,
		Unlocked:   out.Unlocked,
		Completed:  out.Completed,
		Duplicate:  out.Duplicate,
		State:      out.State,
		Summary:    progress.Summarize(catalog, out.State),
	}, nil
}

// stageOpen reports whether the stage is unlocked; a user with no state yet
// has only stage 1.
func stageOpen(state *progress.UserState, stageID int) bool {
	if state == nil {
		return stageID == 1
	}
	return state.IsUnlocked(stageID)
}

func findSubmission(state *progress.UserState, stageID int, slot curriculum.Slot, submissionID string) (progress.TaskAttempt, bool) {
	if state == nil || submissionID == "" {
		return progress.TaskAttempt{}, false
	}
	for _, a := range state.Task(stageID, slot).Attempts {
		if a.SubmissionID == submissionID {
			return a, true
		}
	}
	return progress.TaskAttempt{}, false
}
