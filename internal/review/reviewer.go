package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/fetch"
	"github.com/jonathan/levelup/internal/llm"
	"github.com/jonathan/levelup/internal/prompts"
	"go.uber.org/zap"
)

// Prompt limits.
const (
	maxReadmeChars = 3000
	maxPromptPaths = 50
)

// Result is a scored review.
type Result struct {
	Score  int
	Report *Report
}

// Reviewer scores repository content against a task.
type Reviewer interface {
	Review(ctx context.Context, repo *fetch.RepoContent, task curriculum.Task) (*Result, error)
}

// Error reports a failed review step.
type Error struct {
	Step  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("review %s failed: %v", e.Step, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// LLMReviewer reviews with a language model.
type LLMReviewer struct {
	client llm.Client
	tier   llm.ModelTier
	logger *zap.Logger
}

// Option configures an LLMReviewer.
type Option func(*LLMReviewer)

// WithTier selects the model tier used for reviews.
func WithTier(t llm.ModelTier) Option {
	return func(r *LLMReviewer) { r.tier = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *LLMReviewer) { r.logger = l }
}

// NewLLMReviewer creates a reviewer over client.
func NewLLMReviewer(client llm.Client, opts ...Option) *LLMReviewer {
	r := &LLMReviewer{client: client, tier: llm.TierStandard, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Review asks the model for a report, repairing one malformed answer, and
// normalizes it to the task's max score.
func (r *LLMReviewer) Review(ctx context.Context, repo *fetch.RepoContent, task curriculum.Task) (*Result, error) {
	prompt, err := BuildPrompt(repo, task)
	if err != nil {
		return nil, &Error{Step: "prompt", Cause: err}
	}

	raw, err := r.client.GenerateJSON(ctx, prompt, r.tier)
	if err != nil {
		return nil, &Error{Step: "generate", Cause: err}
	}

	report, err := ParseReport(raw)
	if err != nil {
		r.logger.Warn("malformed review answer, asking for repair",
			zap.String("repo", repo.Owner+"/"+repo.Repo),
			zap.Error(err),
		)
		report, err = r.repair(ctx, raw, err)
		if err != nil {
			return nil, &Error{Step: "parse", Cause: err}
		}
	}

	maxScore := task.MaxScore
	if maxScore <= 0 {
		maxScore = curriculum.DefaultMaxScore
	}
	report.Normalize(maxScore)

	r.logger.Info("review scored",
		zap.String("repo", repo.Owner+"/"+repo.Repo),
		zap.String("task", task.Label),
		zap.Int("score", report.TotalScore),
	)
	return &Result{Score: report.TotalScore, Report: report}, nil
}

func (r *LLMReviewer) repair(ctx context.Context, raw string, cause error) (*Report, error) {
	prompt, err := prompts.Render(prompts.ReviewFile, prompts.KeyJSONRepair, map[string]string{
		"Problem": cause.Error(),
		"Answer":  raw,
	})
	if err != nil {
		return nil, err
	}
	fixed, err := r.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, err
	}
	return ParseReport(fixed)
}

// BuildPrompt renders the review prompt for a repository and task.
func BuildPrompt(repo *fetch.RepoContent, task curriculum.Task) (string, error) {
	var reqs strings.Builder
	for i, req := range task.Requirements {
		fmt.Fprintf(&reqs, "%d. %s\n", i+1, req)
	}

	tree := repo.FileTree
	if len(tree) > maxPromptPaths {
		tree = tree[:maxPromptPaths]
	}

	files := make([]string, 0, len(repo.SourceFiles))
	for _, f := range repo.SourceFiles {
		files = append(files, fmt.Sprintf("### %s\n```\n%s\n```", f.Path, f.Content))
	}

	readme := repo.Readme
	if r := []rune(readme); len(r) > maxReadmeChars {
		readme = string(r[:maxReadmeChars])
	}

	return prompts.Render(prompts.ReviewFile, prompts.KeyCodeReview, map[string]string{
		"TaskLabel":       task.Label,
		"Technology":      task.Technology,
		"TaskDescription": task.Description,
		"Requirements":    strings.TrimRight(reqs.String(), "\n"),
		"Owner":           repo.Owner,
		"Repo":            repo.Repo,
		"Readme":          readme,
		"FileTree":        strings.Join(tree, "\n"),
		"SourceFiles":     strings.Join(files, "\n\n"),
	})
}
