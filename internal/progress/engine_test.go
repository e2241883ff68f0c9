package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func record(t *testing.T, e *Engine, user UserRef, stage int, slot curriculum.Slot, score int) *AttemptResult {
	t.Helper()
	res, err := e.RecordAttempt(context.Background(), AttemptRequest{
		User:      user,
		StageID:   stage,
		Slot:      slot,
		Score:     score,
		SourceRef: fmt.Sprintf("https://github.com/ada/stage%d%s", stage, slot),
		Report:    map[string]any{"total_score": int64(score)},
	})
	require.NoError(t, err)
	return res
}

// assertConsistent recomputes the derived fields independently of the engine.
func assertConsistent(t *testing.T, c *curriculum.Catalog, s *UserState) {
	t.Helper()
	sum := 0
	for key, ts := range s.Tasks {
		best := 0
		for _, a := range ts.Attempts {
			best = max(best, a.Score)
		}
		assert.Equal(t, best, ts.BestScore, "bestScore of %s", key)
		sum += ts.BestScore
	}
	assert.Equal(t, sum, s.Experience)
	assert.Equal(t, c.RankFor(sum), s.Rank)
}

func TestGetOrCreate_NewUser(t *testing.T) {
	e, mem, _ := newTestEngine(t)

	state, err := e.GetOrCreate(context.Background(), testUser("u1"))
	require.NoError(t, err)

	assert.Equal(t, 1, state.CurrentStage)
	assert.Equal(t, []int{1}, state.UnlockedStages)
	assert.Equal(t, 0, state.Experience)
	assert.Equal(t, "Intern", state.Rank)
	assert.Empty(t, state.BadgesEarned)
	assert.Len(t, state.Tasks, 8)
	for _, key := range e.Catalog().TaskKeys() {
		require.Contains(t, state.Tasks, key)
		assert.Empty(t, state.Tasks[key].Attempts)
		assert.Zero(t, state.Tasks[key].BestScore)
	}
	assert.Equal(t, "Ada", state.Profile.DisplayName)
	assert.Equal(t, "u1@example.com", state.Profile.Email)
	assert.Equal(t, testStart, state.Profile.LastSeen)
	assert.NotEmpty(t, state.Version)
	assert.Equal(t, 1, mem.Len())
}

func TestGetOrCreate_ExistingUserTouchesLastSeenAndMergesProfile(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	record(t, e, testUser("u1"), 1, curriculum.SlotA, 40)
	clock.Advance(time.Hour)

	state, err := e.GetOrCreate(ctx, UserRef{ID: "u1", Profile: Profile{AvatarURL: "https://img/ada.png"}})
	require.NoError(t, err)

	assert.Equal(t, testStart.Add(time.Hour), state.Profile.LastSeen)
	assert.Equal(t, "Ada", state.Profile.DisplayName, "empty profile fields must not overwrite")
	assert.Equal(t, "https://img/ada.png", state.Profile.AvatarURL)
	assert.Equal(t, 40, state.Experience)
	assert.Len(t, state.Task(1, curriculum.SlotA).Attempts, 1)

	snap, err := e.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, testStart.Add(time.Hour), snap.Profile.LastSeen)
	assert.Equal(t, state.Version, snap.Version)
}

func TestGetOrCreate_MissingUserID(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.GetOrCreate(context.Background(), UserRef{})
	assert.ErrorIs(t, err, ErrMissingUserID)
	assert.True(t, IsClientError(err))
}

func TestRecordAttempt_UnlockScenario(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := testUser("u1")

	res := record(t, e, user, 1, curriculum.SlotA, 40)
	assert.Equal(t, 40, res.State.Experience)
	assert.Equal(t, 40, res.XPDelta)
	assert.False(t, res.Unlocked)
	assert.Equal(t, []int{1}, res.State.UnlockedStages)

	res = record(t, e, user, 1, curriculum.SlotB, 35)
	assert.Equal(t, 75, res.State.Experience)
	assert.Equal(t, 75, res.StageScore)
	assert.True(t, res.Unlocked)
	assert.Equal(t, []int{1, 2}, res.State.UnlockedStages)
	assert.Equal(t, 2, res.State.CurrentStage)
	assert.Equal(t, []string{"Foundation Knight"}, res.State.BadgesEarned)
	assertConsistent(t, e.Catalog(), res.State)
}

func TestRecordAttempt_LowerScoreKeepsBest(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := testUser("u1")

	record(t, e, user, 1, curriculum.SlotA, 40)
	record(t, e, user, 1, curriculum.SlotB, 35)

	res := record(t, e, user, 1, curriculum.SlotA, 30)
	assert.Equal(t, 40, res.State.Task(1, curriculum.SlotA).BestScore)
	assert.Equal(t, 0, res.XPDelta)
	assert.Equal(t, 75, res.State.Experience)
	assert.False(t, res.Unlocked, "already unlocked stage must not re-trigger")
	assert.Len(t, res.State.Task(1, curriculum.SlotA).Attempts, 2)
	assert.Equal(t, []string{"Foundation Knight"}, res.State.BadgesEarned)
	assert.Equal(t, -10, ScoreDelta(res.State.Task(1, curriculum.SlotA).Attempts))
}

func TestRecordAttempt_NoPrematureUnlock(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := testUser("u1")

	record(t, e, user, 1, curriculum.SlotA, 50)
	res := record(t, e, user, 1, curriculum.SlotB, 19)

	assert.Equal(t, 69, res.StageScore)
	assert.False(t, res.Unlocked)
	assert.False(t, res.State.IsUnlocked(2))
	assert.Empty(t, res.State.BadgesEarned)
}

func TestRecordAttempt_ImprovementDelta(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := testUser("u1")

	record(t, e, user, 1, curriculum.SlotA, 20)
	res := record(t, e, user, 1, curriculum.SlotA, 32)

	assert.Equal(t, 12, res.XPDelta)
	assert.Equal(t, 32, res.State.Experience)
}

func TestRecordAttempt_FinalStageAwardsBadgeOnce(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := testUser("u1")

	for stage := 1; stage <= 3; stage++ {
		record(t, e, user, stage, curriculum.SlotA, 45)
		res := record(t, e, user, stage, curriculum.SlotB, 45)
		require.True(t, res.Unlocked, "stage %d", stage)
	}

	record(t, e, user, 4, curriculum.SlotA, 45)
	res := record(t, e, user, 4, curriculum.SlotB, 45)
	assert.True(t, res.Completed)
	assert.False(t, res.Unlocked)
	assert.Equal(t, 4, res.State.CurrentStage)
	assert.Equal(t, []int{1, 2, 3, 4}, res.State.UnlockedStages)
	assert.Equal(t, []string{"Foundation Knight", "System Builder", "AI Tactician", "Product Engineer"}, res.State.BadgesEarned)
	assert.Equal(t, 360, res.State.Experience)
	assert.Equal(t, "Product Engineer", res.State.Rank)

	res = record(t, e, user, 4, curriculum.SlotB, 50)
	assert.False(t, res.Completed)
	assert.Len(t, res.State.BadgesEarned, 4)
	assertConsistent(t, e.Catalog(), res.State)
}

func TestRecordAttempt_MonotonicAcrossMixedScores(t *testing.T) {
	e, _, clock := newTestEngine(t)
	user := testUser("u1")

	scores := []int{10, 45, 3, 44, 0, 50, 12}
	prevXP, prevBest := 0, 0
	prevUnlocked, prevBadges := 1, 0
	for _, score := range scores {
		clock.Advance(time.Minute)
		res := record(t, e, user, 1, curriculum.SlotA, score)
		record(t, e, user, 1, curriculum.SlotB, score)

		snap, err := e.Snapshot(context.Background(), "u1")
		require.NoError(t, err)
		assertConsistent(t, e.Catalog(), snap)

		best := snap.Task(1, curriculum.SlotA).BestScore
		assert.GreaterOrEqual(t, best, prevBest)
		assert.GreaterOrEqual(t, snap.Experience, prevXP)
		assert.GreaterOrEqual(t, len(snap.UnlockedStages), prevUnlocked)
		assert.GreaterOrEqual(t, len(snap.BadgesEarned), prevBadges)
		assert.GreaterOrEqual(t, res.XPDelta, 0)
		prevXP, prevBest = snap.Experience, best
		prevUnlocked, prevBadges = len(snap.UnlockedStages), len(snap.BadgesEarned)
	}
}

func TestRecordAttempt_TimestampsNeverGoBackwards(t *testing.T) {
	e, _, clock := newTestEngine(t)
	user := testUser("u1")

	record(t, e, user, 1, curriculum.SlotA, 10)
	clock.Set(testStart.Add(-time.Hour))
	res := record(t, e, user, 1, curriculum.SlotA, 20)

	attempts := res.State.Task(1, curriculum.SlotA).Attempts
	require.Len(t, attempts, 2)
	assert.False(t, attempts[1].Timestamp.Before(attempts[0].Timestamp))
}

func TestRecordAttempt_InvalidInput(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     AttemptRequest
		errType any
	}{
		{"unknown stage", AttemptRequest{User: testUser("u1"), StageID: 9, Slot: curriculum.SlotA, Score: 10}, &UnknownStageError{}},
		{"stage zero", AttemptRequest{User: testUser("u1"), StageID: 0, Slot: curriculum.SlotA, Score: 10}, &UnknownStageError{}},
		{"unknown slot", AttemptRequest{User: testUser("u1"), StageID: 1, Slot: "c", Score: 10}, &UnknownTaskError{}},
		{"negative score", AttemptRequest{User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: -1}, &InvalidScoreError{}},
		{"score above max", AttemptRequest{User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 51}, &InvalidScoreError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.RecordAttempt(ctx, tt.req)
			require.Error(t, err)
			assert.IsType(t, tt.errType, err)
			assert.True(t, IsClientError(err))
		})
	}
	assert.Equal(t, 0, mem.Len(), "rejected attempts must not create state")

	_, err := e.RecordAttempt(ctx, AttemptRequest{StageID: 1, Slot: curriculum.SlotA})
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestRecordAttempt_DuplicateSubmission(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := AttemptRequest{
		User:         testUser("u1"),
		StageID:      1,
		Slot:         curriculum.SlotA,
		Score:        30,
		SourceRef:    "https://github.com/ada/app",
		SubmissionID: "5f1d7a3e-9c4b-4c1e-8f43-0d6f0b6f1a11",
	}

	first, err := e.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := e.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 0, second.XPDelta)
	assert.Equal(t, first.State.Version, second.State.Version, "duplicate must not write")
	assert.Len(t, second.State.Task(1, curriculum.SlotA).Attempts, 1)
	assert.Equal(t, req.SubmissionID, second.State.Task(1, curriculum.SlotA).Attempts[0].SubmissionID)
}

func TestRecordAttempt_ReportStoredVerbatim(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	report := map[string]any{
		"total_score": int64(38),
		"ratio":       0.76,
		"whole":       float64(5),
		"strengths":   []any{"layering", "naming"},
		"breakdown":   map[string]any{"architecture": int64(6)},
		"missing":     nil,
	}
	_, err := e.RecordAttempt(ctx, AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 38, Report: report,
	})
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx, "u1")
	require.NoError(t, err)
	got := snap.Task(1, curriculum.SlotA).Attempts[0].Report
	if diff := cmp.Diff(any(report), got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAttempt_UnsupportedReportIsPersistenceError(t *testing.T) {
	e, mem, _ := newTestEngine(t)

	_, err := e.RecordAttempt(context.Background(), AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 10,
		Report: map[string]any{"callback": func() {}},
	})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpEncode, perr.Op)
	var kindErr *codec.UnsupportedValueKindError
	assert.ErrorAs(t, err, &kindErr)
	assert.Equal(t, 0, mem.Len())
}

func TestRecordAttempt_ConcurrentWriters(t *testing.T) {
	e, _, _ := newTestEngine(t, WithMaxConflictRetries(100))
	ctx := context.Background()
	user := testUser("u1")

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot := curriculum.SlotA
			if i%2 == 1 {
				slot = curriculum.SlotB
			}
			_, err := e.RecordAttempt(ctx, AttemptRequest{
				User:      user,
				StageID:   1,
				Slot:      slot,
				Score:     i + 10,
				SourceRef: fmt.Sprintf("ref-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := e.Snapshot(ctx, "u1")
	require.NoError(t, err)

	a := snap.Task(1, curriculum.SlotA)
	b := snap.Task(1, curriculum.SlotB)
	assert.Len(t, a.Attempts, writers/2)
	assert.Len(t, b.Attempts, writers/2)
	assert.Equal(t, 20, a.BestScore)
	assert.Equal(t, 21, b.BestScore)
	assert.Equal(t, 41, snap.Experience)
	assertConsistent(t, e.Catalog(), snap)
}

func TestRecordAttempt_RetriesOnConflict(t *testing.T) {
	faulty := &faultyStore{DocumentStore: store.NewMemory(), conflictsFor: 2}
	e := NewEngine(faulty, curriculum.Default(), WithClock(newFakeClock()))

	res, err := e.RecordAttempt(context.Background(), AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, res.State.Experience)
	assert.Equal(t, 3, faulty.calls())
	assert.Len(t, res.State.Task(1, curriculum.SlotA).Attempts, 1)
}

func TestRecordAttempt_ConflictRetriesExhausted(t *testing.T) {
	faulty := &faultyStore{DocumentStore: store.NewMemory(), conflictsFor: 100}
	e := NewEngine(faulty, curriculum.Default(), WithMaxConflictRetries(3))

	_, err := e.RecordAttempt(context.Background(), AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 25,
	})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 4, perr.Attempts)
	assert.Equal(t, 4, faulty.calls())
	assert.False(t, IsClientError(err))
}

func TestRecordAttempt_WriteFailureLeavesStateUntouched(t *testing.T) {
	mem := store.NewMemory()
	faulty := &faultyStore{DocumentStore: mem}
	e := NewEngine(faulty, curriculum.Default(), WithClock(newFakeClock()))
	ctx := context.Background()
	user := testUser("u1")

	_, err := e.RecordAttempt(ctx, AttemptRequest{User: user, StageID: 1, Slot: curriculum.SlotA, Score: 40})
	require.NoError(t, err)
	before, err := mem.Get(ctx, "u1")
	require.NoError(t, err)

	boom := &store.StatusError{Status: 503, Body: "unavailable"}
	faulty.mu.Lock()
	faulty.patchErr = boom
	faulty.mu.Unlock()

	_, err = e.RecordAttempt(ctx, AttemptRequest{User: user, StageID: 1, Slot: curriculum.SlotB, Score: 45})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpSave, perr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, perr.Attempts, "non-conflict write failures are not retried")

	after, err := mem.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, codec.Equal(before.Fields, after.Fields))
}

func TestRecordAttempt_ReadFailure(t *testing.T) {
	faulty := &faultyStore{DocumentStore: store.NewMemory(), getErr: errors.New("connection reset")}
	e := NewEngine(faulty, curriculum.Default())

	_, err := e.RecordAttempt(context.Background(), AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 25,
	})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpLoad, perr.Op)
	assert.Equal(t, "u1", perr.UserID)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, faulty.calls())
}

func TestStoreTimeout(t *testing.T) {
	e := NewEngine(blockingStore{}, curriculum.Default(), WithStoreTimeout(20*time.Millisecond))

	_, err := e.GetOrCreate(context.Background(), testUser("u1"))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = e.AllUsers(context.Background())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpList, perr.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshot_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Snapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = e.Snapshot(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestSnapshot_RecomputesDriftWithoutWriting(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mem := store.NewMemory()
	e := NewEngine(mem, curriculum.Default(), WithLogger(zap.New(core)))
	ctx := context.Background()

	// A document whose stored aggregates disagree with its history.
	fields, err := codec.EncodeMap(map[string]any{
		"currentStage":   int64(1),
		"unlockedStages": []any{int64(1)},
		"experience":     int64(999),
		"rank":           "Product Engineer",
		"badgesEarned":   []any{},
		"tasks": map[string]any{
			"s1a": map[string]any{
				"bestScore": int64(10),
				"attempts": []any{
					map[string]any{"score": int64(30), "timestamp": "2024-05-01T09:00:00Z", "sourceRef": "x", "report": nil},
				},
			},
		},
	})
	require.NoError(t, err)
	version, err := mem.Patch(ctx, "u1", fields, "")
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, snap.Task(1, curriculum.SlotA).BestScore)
	assert.Equal(t, 30, snap.Experience)
	assert.Equal(t, "Intern", snap.Rank)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "u1", entry.ContextMap()["user_id"])

	doc, err := mem.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, version, doc.Version, "read-only paths must not write")
}

func TestSnapshot_MalformedDocument(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, curriculum.Default())
	ctx := context.Background()

	_, err := mem.Patch(ctx, "u1", codec.Map{"experience": codec.String("lots")}, "")
	require.NoError(t, err)

	_, err = e.Snapshot(ctx, "u1")
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpDecode, perr.Op)
	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "experience", docErr.Field)
}

func TestAllUsers(t *testing.T) {
	e, _, _ := newTestEngine(t, WithListPageSize(2))
	ctx := context.Background()

	ids := []string{"carol", "alice", "bob", "dave", "erin"}
	for i, id := range ids {
		record(t, e, testUser(id), 1, curriculum.SlotA, i*10)
	}

	records, err := e.AllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, records, len(ids))

	byID := make(map[string]*UserState)
	for _, r := range records {
		byID[r.ID] = r.State
	}
	for i, id := range ids {
		require.Contains(t, byID, id)
		assert.Equal(t, i*10, byID[id].Experience)
		assert.NotEmpty(t, byID[id].Version)
	}
}

func TestAllUsers_Empty(t *testing.T) {
	e, _, _ := newTestEngine(t)

	records, err := e.AllUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordAttempt_DeltaUsesHistoryWhenBestScoreDrifted(t *testing.T) {
	e, mem, _ := newTestEngine(t)
	ctx := context.Background()

	// stored bestScore lags behind the 30 in the attempt history
	fields, err := codec.EncodeMap(map[string]any{
		"currentStage":   int64(1),
		"unlockedStages": []any{int64(1)},
		"experience":     int64(10),
		"rank":           "Intern",
		"badgesEarned":   []any{},
		"tasks": map[string]any{
			"s1a": map[string]any{
				"bestScore": int64(10),
				"attempts": []any{
					map[string]any{"score": int64(30), "timestamp": "2024-05-01T08:00:00Z", "sourceRef": "x", "report": nil},
				},
			},
		},
	})
	require.NoError(t, err)
	_, err = mem.Patch(ctx, "u1", fields, "")
	require.NoError(t, err)

	res, err := e.RecordAttempt(ctx, AttemptRequest{User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 20})
	require.NoError(t, err)
	assert.Equal(t, 0, res.XPDelta)
	assert.Equal(t, 30, res.State.Experience)

	res, err = e.RecordAttempt(ctx, AttemptRequest{User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 35})
	require.NoError(t, err)
	assert.Equal(t, 5, res.XPDelta)
	assert.Equal(t, 35, res.State.Experience)
}

func TestConflictDelay(t *testing.T) {
	base := 10 * time.Millisecond

	assert.Zero(t, conflictDelay(0, 3, 0.5))
	assert.Equal(t, 5*time.Millisecond, conflictDelay(base, 1, 0))
	assert.Equal(t, 10*time.Millisecond, conflictDelay(base, 2, 0))
	assert.Equal(t, 20*time.Millisecond, conflictDelay(base, 3, 0))
	assert.Less(t, conflictDelay(base, 1, 0.999), base)

	for attempt := 1; attempt <= 40; attempt++ {
		assert.LessOrEqual(t, conflictDelay(base, attempt, 0.999), maxConflictBackoff)
	}
	assert.Equal(t, maxConflictBackoff/2, conflictDelay(base, 40, 0))
}

func TestRecordAttempt_ConflictBackoffStopsOnCancel(t *testing.T) {
	faulty := &faultyStore{DocumentStore: store.NewMemory(), conflictsFor: 100}
	e := NewEngine(faulty, curriculum.Default(), WithConflictBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.RecordAttempt(ctx, AttemptRequest{
		User: testUser("u1"), StageID: 1, Slot: curriculum.SlotA, Score: 25,
	})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, faulty.calls(), "no second write while backing off")
}
