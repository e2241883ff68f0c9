package progress

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/store"
	"go.uber.org/zap"
)

// Defaults for Engine options.
const (
	DefaultStoreTimeout       = 10 * time.Second
	DefaultMaxConflictRetries = 5
	DefaultListPageSize       = 100
	DefaultConflictBackoff    = 5 * time.Millisecond

	// maxConflictBackoff caps the wait between conflicting writes.
	maxConflictBackoff = 200 * time.Millisecond
)

// Engine applies progression transitions to per-user state held in a
// DocumentStore. It keeps no per-user state in memory; concurrent writers
// are reconciled with version-conditional writes and bounded retries.
type Engine struct {
	store        store.DocumentStore
	catalog      *curriculum.Catalog
	clock        Clock
	logger       *zap.Logger
	storeTimeout time.Duration
	maxRetries   int
	backoff      time.Duration
	pageSize     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithMaxConflictRetries bounds how often a conflicting write is re-run.
func WithMaxConflictRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithConflictBackoff sets the base wait before re-running a transition
// that lost a write race. Zero retries immediately.
func WithConflictBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// WithListPageSize sets the page size used by AllUsers.
func WithListPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// NewEngine creates an engine over the given store and catalog.
func NewEngine(s store.DocumentStore, c *curriculum.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		catalog:      c,
		clock:        SystemClock{},
		logger:       zap.NewNop(),
		storeTimeout: DefaultStoreTimeout,
		maxRetries:   DefaultMaxConflictRetries,
		backoff:      DefaultConflictBackoff,
		pageSize:     DefaultListPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	return e
}

// Catalog returns the engine's curriculum.
func (e *Engine) Catalog() *curriculum.Catalog {
	return e.catalog
}

// GetOrCreate returns the user's state, creating the default record on first
// access. Non-empty profile fields are merged and lastSeen is set to now, so
// every call writes.
func (e *Engine) GetOrCreate(ctx context.Context, user UserRef) (*UserState, error) {
	if user.ID == "" {
		return nil, ErrMissingUserID
	}

	var state *UserState
	err := e.update(ctx, user.ID, func(s *UserState, _ time.Time) (bool, error) {
		s.mergeProfile(user.Profile)
		state = s
		return true, nil
	}, user.Profile)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// AttemptRequest is the input of RecordAttempt.
type AttemptRequest struct {
	User      UserRef
	StageID   int
	Slot      curriculum.Slot
	Score     int
	SourceRef string
	Report    any

	// SubmissionID, when set, makes the call idempotent per task.
	SubmissionID string
}

// AttemptResult is the outcome of RecordAttempt.
type AttemptResult struct {
	State *UserState
	// Unlocked is true when this attempt unlocked the next stage.
	Unlocked bool
	// Completed is true when this attempt earned the final stage's badge.
	Completed bool
	// Duplicate is true when the submission id was already recorded; nothing was written.
	Duplicate bool
	// XPDelta is the experience gained, never negative.
	XPDelta    int
	StageScore int
}

// RecordAttempt appends a scored attempt, raises the task's best score,
// recomputes experience and rank, and unlocks the next stage once the
// stage's combined best score reaches its threshold. The whole transition
// is persisted with a single conditional write.
func (e *Engine) RecordAttempt(ctx context.Context, req AttemptRequest) (*AttemptResult, error) {
	if req.User.ID == "" {
		return nil, ErrMissingUserID
	}
	stage, ok := e.catalog.Stage(req.StageID)
	if !ok {
		return nil, &UnknownStageError{StageID: req.StageID}
	}
	task, ok := stage.Task(req.Slot)
	if !ok {
		return nil, &UnknownTaskError{StageID: req.StageID, Slot: string(req.Slot)}
	}
	if req.Score < 0 || req.Score > task.MaxScore {
		return nil, &InvalidScoreError{Score: req.Score, Max: task.MaxScore}
	}
	key := curriculum.TaskKey(stage.ID, task.Slot)

	var result *AttemptResult
	err := e.update(ctx, req.User.ID, func(s *UserState, now time.Time) (bool, error) {
		ts := s.Tasks[key]
		if req.SubmissionID != "" && ts.hasSubmission(req.SubmissionID) {
			result = &AttemptResult{State: s, Duplicate: true, StageScore: StageScore(s, stage.ID)}
			return false, nil
		}
		s.mergeProfile(req.User.Profile)

		if last := ts.lastTimestamp(); now.Before(last) {
			now = last
		}
		prevBest := max(ts.BestScore, ts.maxAttemptScore())
		ts.Attempts = append(ts.Attempts, TaskAttempt{
			Score:        req.Score,
			Timestamp:    now,
			SourceRef:    req.SourceRef,
			Report:       req.Report,
			SubmissionID: req.SubmissionID,
		})
		if req.Score > ts.BestScore {
			ts.BestScore = req.Score
		}
		s.Tasks[key] = ts

		r := &AttemptResult{State: s, XPDelta: max(0, req.Score-prevBest)}
		s.recompute(e.catalog)

		r.StageScore = StageScore(s, stage.ID)
		if r.StageScore >= stage.UnlockThreshold {
			if !e.catalog.IsFinal(stage.ID) {
				if next := stage.ID + 1; !s.IsUnlocked(next) {
					s.unlock(next)
					s.award(stage.Badge)
					r.Unlocked = true
				}
			} else if s.award(stage.Badge) {
				r.Completed = true
			}
		}
		result = r
		return true, nil
	}, req.User.Profile)
	if err != nil {
		return nil, err
	}

	if result.Unlocked || result.Completed {
		e.logger.Info("stage cleared",
			zap.String("user_id", req.User.ID),
			zap.Int("stage", stage.ID),
			zap.Int("stage_score", result.StageScore),
			zap.Bool("final", result.Completed),
			zap.String("badge", stage.Badge),
		)
	}
	return result, nil
}

// Snapshot returns the stored state without writing. Derived fields are
// recomputed from the attempt history; disagreements are logged.
func (e *Engine) Snapshot(ctx context.Context, userID string) (*UserState, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	state, found, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	e.checkDrift(userID, state)
	return state, nil
}

// UserRecord pairs a user id with its state.
type UserRecord struct {
	ID    string     `json:"id"`
	State *UserState `json:"state"`
}

// AllUsers pages through every stored user. Order is the store's.
func (e *Engine) AllUsers(ctx context.Context) ([]UserRecord, error) {
	var (
		records []UserRecord
		token   string
	)
	for {
		cctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		page, err := e.store.List(cctx, e.pageSize, token)
		cancel()
		if err != nil {
			return nil, &PersistenceError{Op: OpList, Err: err}
		}

		for _, doc := range page.Documents {
			state, err := decodeState(e.catalog, doc.Fields)
			if err != nil {
				return nil, &PersistenceError{Op: OpDecode, UserID: doc.ID, Err: err}
			}
			state.Version = doc.Version
			e.checkDrift(doc.ID, state)
			records = append(records, UserRecord{ID: doc.ID, State: state})
		}

		if page.NextPageToken == "" {
			return records, nil
		}
		token = page.NextPageToken
	}
}

// mutateFunc applies a transition to a freshly loaded state. Returning false
// skips the write.
type mutateFunc func(s *UserState, now time.Time) (bool, error)

// update runs load, mutate and conditional write, re-running the whole
// sequence when the write loses a race.
func (e *Engine) update(ctx context.Context, userID string, mutate mutateFunc, profile Profile) error {
	attempts := 0
	for {
		attempts++

		state, found, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		now := e.clock.Now().UTC()
		if !found {
			state = newState(e.catalog, profile, now)
		}

		write, err := mutate(state, now)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		state.Profile.LastSeen = now
		state.recompute(e.catalog)

		version, err := e.save(ctx, userID, state)
		if err == nil {
			state.Version = version
			return nil
		}
		var perr *PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		if !errors.Is(err, store.ErrConflict) {
			return &PersistenceError{Op: OpSave, UserID: userID, Attempts: attempts, Err: err}
		}
		if attempts > e.maxRetries {
			e.logger.Warn("giving up after repeated write conflicts",
				zap.String("user_id", userID),
				zap.Int("attempts", attempts),
			)
			return &PersistenceError{Op: OpSave, UserID: userID, Attempts: attempts, Err: err}
		}
		wait := conflictDelay(e.backoff, attempts, rand.Float64())
		e.logger.Debug("write conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return &PersistenceError{Op: OpSave, UserID: userID, Attempts: attempts, Err: err}
		}
	}
}

func (e *Engine) load(ctx context.Context, userID string) (*UserState, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	doc, err := e.store.Get(cctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: OpLoad, UserID: userID, Err: err}
	}

	state, err := decodeState(e.catalog, doc.Fields)
	if err != nil {
		return nil, false, &PersistenceError{Op: OpDecode, UserID: userID, Err: err}
	}
	state.Version = doc.Version
	return state, true, nil
}

// save writes the state conditional on the version it was loaded at; a new
// state (empty version) is created only if absent.
func (e *Engine) save(ctx context.Context, userID string, state *UserState) (string, error) {
	fields, err := encodeState(state)
	if err != nil {
		return "", &PersistenceError{Op: OpEncode, UserID: userID, Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.Patch(cctx, userID, fields, state.Version)
}

func (e *Engine) checkDrift(userID string, state *UserState) {
	if drift := state.recompute(e.catalog); len(drift) > 0 {
		e.logger.Warn("stored derived fields disagree with attempt history",
			zap.String("user_id", userID),
			zap.Strings("fields", drift),
		)
	}
}

// conflictDelay doubles base per lost race, capped, and keeps a random
// share of the upper half so competing writers spread out.
func conflictDelay(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt && d < maxConflictBackoff; i++ {
		d *= 2
	}
	d = min(d, maxConflictBackoff)
	return d/2 + time.Duration(jitter*float64(d/2))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
