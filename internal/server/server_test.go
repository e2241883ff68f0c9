package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/fetch"
	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/review"
	"github.com/jonathan/levelup/internal/server/middleware"
	"github.com/jonathan/levelup/internal/server/ratelimit"
	"github.com/jonathan/levelup/internal/store"
	"github.com/jonathan/levelup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const repoURL = "https://github.com/ada/habits"

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFetcher) FetchRepoContent(_ context.Context, url string) (*fetch.RepoContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.RepoContent{Owner: "ada", Repo: "habits", Readme: "Habits", FileTree: []string{"lib/main.dart"}}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeReviewer returns scores from a queue, repeating the last one.
type fakeReviewer struct {
	mu     sync.Mutex
	scores []int
	err    error
}

func (f *fakeReviewer) Review(_ context.Context, _ *fetch.RepoContent, _ curriculum.Task) (*review.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	score := f.scores[0]
	if len(f.scores) > 1 {
		f.scores = f.scores[1:]
	}
	report := &review.Report{
		TotalScore:   score,
		Breakdown:    map[string]float64{"code_structure": 5},
		Strengths:    []string{"tidy"},
		Improvements: []review.Improvement{},
		GrowthFocus:  []string{},
	}
	return &review.Result{Score: score, Report: report}, nil
}

var identities = map[string]*types.Identity{
	"ada-token":   {UserID: "uid-ada", DisplayName: "Ada", Email: "ada@example.com"},
	"admin-token": {UserID: "uid-admin", DisplayName: "Root", Email: "Admin@Example.com"},
}

type harness struct {
	srv      *Server
	handler  http.Handler
	store    *store.Memory
	fetcher  *fakeFetcher
	reviewer *fakeReviewer
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, opts ...func(*Config, *Deps)) *harness {
	t.Helper()
	mem := store.NewMemory()
	clock := progress.ClockFunc(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	engine := progress.NewEngine(mem, curriculum.Default(), progress.WithClock(clock))

	core, logs := observer.New(zap.InfoLevel)
	h := &harness{
		store:    mem,
		fetcher:  &fakeFetcher{},
		reviewer: &fakeReviewer{scores: []int{40}},
		logs:     logs,
	}

	cfg := Config{AdminEmail: "admin@example.com", Logger: zap.New(core)}
	deps := Deps{
		Engine:   engine,
		Fetcher:  h.fetcher,
		Reviewer: h.reviewer,
		Auth: middleware.TokenValidatorFunc(func(_ context.Context, token string) (*types.Identity, error) {
			if id, ok := identities[token]; ok {
				return id, nil
			}
			return nil, errors.New("invalid token")
		}),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	srv, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	h.srv = srv
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body) //nolint:errcheck
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func reviewBody(stage int, slot string) map[string]any {
	return map[string]any{"repoUrl": repoURL, "stageId": stage, "taskSlot": slot}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStagesEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/stages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[types.StagesResponse](t, rec)
	assert.Len(t, resp.Stages, 4)
	assert.Equal(t, "Foundation Knight", resp.Stages[0].Badge)
	assert.Equal(t, 400, resp.MaxExperience)
	assert.NotEmpty(t, resp.Ranks)
}

func TestStateEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/state", "ada-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.StateResponse](t, rec)
	assert.Equal(t, "uid-ada", resp.UserID)
	assert.Equal(t, 1, resp.State.CurrentStage)
	assert.Equal(t, []int{1}, resp.State.UnlockedStages)
	assert.Equal(t, "Ada", resp.State.Profile.DisplayName)
	assert.Equal(t, "ada@example.com", resp.State.Profile.Email)
	assert.Len(t, resp.Summary.Stages, 4)
	assert.Equal(t, 1, h.store.Len())
}

func TestProfileEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/profile", "ada-token", map[string]string{"displayName": "  Countess Ada  "})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.StateResponse](t, rec)
	assert.Equal(t, "Countess Ada", resp.State.Profile.DisplayName)

	rec = h.do(http.MethodPost, "/api/profile", "ada-token", map[string]string{"displayName": " A "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "DisplayName")

	rec = h.do(http.MethodPost, "/api/profile", "ada-token", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestReviewEndpoint_UnlocksNextStage(t *testing.T) {
	h := newHarness(t)
	h.reviewer.scores = []int{40, 35}

	rec := h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[types.ReviewResponse](t, rec)
	assert.Equal(t, 40, first.Score)
	assert.Equal(t, 40, first.XPDelta)
	assert.False(t, first.Unlocked)

	rec = h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "b"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[types.ReviewResponse](t, rec)
	assert.Equal(t, 35, second.Score)
	assert.Equal(t, 75, second.StageScore)
	assert.True(t, second.Unlocked)
	assert.Equal(t, []int{1, 2}, second.State.UnlockedStages)
	assert.Equal(t, []string{"Foundation Knight"}, second.State.BadgesEarned)

	attempt := second.State.Task(1, curriculum.SlotB).Attempts[0]
	assert.Equal(t, repoURL, attempt.SourceRef)
	assert.Equal(t, []string{repoURL, repoURL}, h.fetcher.calls)
}

func TestReviewEndpoint_StoresReportWithIntegerTags(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A"))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := h.store.Get(context.Background(), "uid-ada")
	require.NoError(t, err)
	attempt := doc.Fields["tasks"].(codec.Map)["s1a"].(codec.Map)["attempts"].(codec.List)[0].(codec.Map)
	report := attempt["report"].(codec.Map)
	assert.Equal(t, codec.Int(40), report["total_score"])
	assert.Equal(t, codec.Int(5), report["breakdown"].(codec.Map)["code_structure"])
}

func TestReviewEndpoint_LockedStage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(2, "A"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "stage 2 is locked")
	assert.Zero(t, h.fetcher.count(), "locked stage must be rejected before fetching")
}

func TestReviewEndpoint_ClientErrors(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown stage", reviewBody(9, "A"), http.StatusBadRequest},
		{"bad slot", reviewBody(1, "C"), http.StatusBadRequest},
		{"missing url", map[string]any{"stageId": 1, "taskSlot": "A"}, http.StatusBadRequest},
		{"bad submission id", map[string]any{"repoUrl": repoURL, "stageId": 1, "taskSlot": "A", "submissionId": "x"}, http.StatusBadRequest},
		{"malformed body", "[", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPost, "/api/review", "ada-token", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Zero(t, h.fetcher.count())
		})
	}
}

func TestReviewEndpoint_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		fetchErr   error
		reviewErr  error
		wantStatus int
	}{
		{"invalid repo url", &fetch.InvalidRepoURLError{URL: "x"}, nil, http.StatusUnprocessableEntity},
		{"repo not found", &fetch.RepoNotFoundError{Owner: "ada", Repo: "gone"}, nil, http.StatusUnprocessableEntity},
		{"reviewer failed", nil, &review.Error{Step: "generate", Cause: errors.New("quota")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fetcher.err = tt.fetchErr
			h.reviewer.err = tt.reviewErr

			rec := h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A"))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Zero(t, h.store.Len(), "nothing is recorded")
		})
	}
}

func TestReviewEndpoint_DuplicateSubmission(t *testing.T) {
	h := newHarness(t)
	body := reviewBody(1, "A")
	body["submissionId"] = "8f14e45f-ceea-4672-9a5c-36f2b1a0d5e1"

	rec := h.do(http.MethodPost, "/api/review", "ada-token", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/api/review", "ada-token", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.ReviewResponse](t, rec)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, 40, resp.Score)
	assert.Zero(t, resp.XPDelta)
	assert.Len(t, resp.State.Task(1, curriculum.SlotA).Attempts, 1)
	assert.Equal(t, 1, h.fetcher.count())
}

func TestReviewStreamEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/review/stream", "ada-token", reviewBody(1, "A"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	order := []string{"event: fetching", "event: reviewing", "event: recording", "event: complete"}
	last := -1
	for _, ev := range order {
		i := strings.Index(body, ev)
		require.GreaterOrEqual(t, i, 0, "missing %q in %s", ev, body)
		assert.Greater(t, i, last, "%q out of order", ev)
		last = i
	}
	assert.Contains(t, body, `"xpDelta":40`)
}

func TestReviewStreamEndpoint_Errors(t *testing.T) {
	h := newHarness(t)

	// input errors are answered before the stream starts
	rec := h.do(http.MethodPost, "/api/review/stream", "ada-token", reviewBody(1, "Z"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	h.reviewer.err = &review.Error{Step: "parse", Cause: errors.New("garbage")}
	rec = h.do(http.MethodPost, "/api/review/stream", "ada-token", reviewBody(1, "A"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: fetching")
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "Bad Gateway")
	assert.NotContains(t, body, "event: complete")
}

func TestAdminUsersEndpoint(t *testing.T) {
	h := newHarness(t)
	h.reviewer.scores = []int{30}
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A")).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/state", "admin-token", nil).Code)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/admin/users", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/admin/users", "ada-token", nil).Code)

	rec := h.do(http.MethodGet, "/api/admin/users", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.UsersResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "uid-ada", resp.Users[0].ID, "highest experience first")
	assert.Equal(t, 30, resp.Users[0].Experience)
	assert.Equal(t, "uid-admin", resp.Users[1].ID)
}

func TestAdminUsersEndpoint_NoAdminConfigured(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.AdminEmail = "" })
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/admin/users", "admin-token", nil).Code)
}

// unavailableStore fails every call like an unreachable remote store.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (*store.Document, error) {
	return nil, &store.StatusError{Status: http.StatusServiceUnavailable, Body: "down"}
}

func (unavailableStore) Patch(context.Context, string, codec.Map, string) (string, error) {
	return "", &store.StatusError{Status: http.StatusServiceUnavailable, Body: "down"}
}

func (unavailableStore) List(context.Context, int, string) (*store.Page, error) {
	return nil, &store.StatusError{Status: http.StatusServiceUnavailable, Body: "down"}
}

func TestPersistenceFailureIs503(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Engine = progress.NewEngine(unavailableStore{}, curriculum.Default())
	})

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/state", "ada-token", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A")).Code)
	assert.Zero(t, h.fetcher.count())
}

func TestCORSMiddleware_OPTIONS(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodOptions, "/api/review", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestLoggingMiddleware(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	entries := h.logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/health", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
}

func TestRateLimitWiring(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) {
		c.RateLimit = &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/api/review", Method: "POST", Limit: 1, Window: time.Hour},
			},
		}
	})

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A")).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/review", "ada-token", reviewBody(1, "A")).Code)
	assert.Equal(t, 1, h.fetcher.count())
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	h := newHarness(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sse.Send(types.StreamEvent{Type: types.EventFetching, Message: "hello"}))
	sse.WriteError(http.StatusBadGateway, "boom")

	assert.Equal(t, "event: fetching\ndata: {\"type\":\"fetching\",\"message\":\"hello\"}\n\n"+
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"error\":\"boom\",\"details\":\"Bad Gateway\"}}\n\n",
		rec.Body.String())
}
