package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Limits applied to the content handed to the reviewer.
const (
	MaxTreePaths    = 100
	MaxSourceFiles  = 8
	MaxFileChars    = 3000
	MissingReadme   = "(No README found)"
	fileConcurrency = 4
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

var sourceExtensions = []string{".dart", ".swift", ".ts", ".tsx", ".js", ".kt", ".py", ".go"}

var skipPaths = []string{"node_modules", ".dart_tool", "build/", "Pods/", ".git/", "Packages/", "vendor/"}

var repoURLPattern = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s]+?)(?:\.git)?(?:/.*)?$`)

// SourceFile is one truncated source file.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RepoContent is the repository snapshot a review is based on.
type RepoContent struct {
	Owner       string       `json:"owner"`
	Repo        string       `json:"repo"`
	Readme      string       `json:"readme"`
	FileTree    []string     `json:"fileTree"`
	SourceFiles []SourceFile `json:"sourceFiles"`
}

// RepoFetcher loads repository content for review.
type RepoFetcher interface {
	FetchRepoContent(ctx context.Context, repoURL string) (*RepoContent, error)
}

// InvalidRepoURLError is returned for a URL that does not name a GitHub repository.
type InvalidRepoURLError struct {
	URL string
}

func (e *InvalidRepoURLError) Error() string {
	return fmt.Sprintf("invalid GitHub repository URL %q: must be in the format https://github.com/owner/repo", e.URL)
}

// RepoNotFoundError is returned when the repository does not exist or is private.
type RepoNotFoundError struct {
	Owner string
	Repo  string
}

func (e *RepoNotFoundError) Error() string {
	return fmt.Sprintf("repository %s/%s not found or not public", e.Owner, e.Repo)
}

// ParseRepoURL extracts owner and repository name from a GitHub URL. A
// trailing ".git" and any path after the repository are ignored.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", &InvalidRepoURLError{URL: raw}
	}
	return m[1], m[2], nil
}

// IsSourceFile reports whether a tree path is a candidate for review.
func IsSourceFile(path string) bool {
	for _, s := range skipPaths {
		if strings.Contains(path, s) {
			return false
		}
	}
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// GitHubConfig configures a GitHub fetcher.
type GitHubConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GitHub fetches repository content from the GitHub REST API.
type GitHub struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewGitHub creates a GitHub fetcher.
func NewGitHub(cfg GitHubConfig) *GitHub {
	g := &GitHub{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultGitHubAPI
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: DefaultTimeout}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// FetchRepoContent loads the README, the blob paths of the default branch
// and up to MaxSourceFiles source files. A missing README and unreadable
// files are tolerated; a missing repository is not.
func (g *GitHub) FetchRepoContent(ctx context.Context, repoURL string) (*RepoContent, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	content := &RepoContent{Owner: owner, Repo: repo}

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		content.Readme = g.fetchReadme(ectx, owner, repo)
		return nil
	})
	eg.Go(func() error {
		tree, err := g.fetchTree(ectx, owner, repo)
		content.FileTree = tree
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	content.SourceFiles = g.fetchSourceFiles(ctx, owner, repo, content.FileTree)
	return content, nil
}

func (g *GitHub) options(accept string) *Options {
	opts := &Options{
		UserAgent: DefaultUserAgent,
		Client:    g.client,
		Headers: map[string]string{
			"Accept":               accept,
			"X-GitHub-Api-Version": "2022-11-28",
		},
	}
	if g.token != "" {
		opts.Headers["Authorization"] = "Bearer " + g.token
	}
	return opts
}

func (g *GitHub) repoURL(owner, repo string, parts ...string) string {
	u := g.baseURL + "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// fetchReadme asks for the rendered README and reduces it to text.
func (g *GitHub) fetchReadme(ctx context.Context, owner, repo string) string {
	res, err := URL(ctx, g.repoURL(owner, repo, "readme"), g.options("application/vnd.github.html"))
	if err != nil {
		g.logger.Debug("readme unavailable", zap.String("repo", owner+"/"+repo), zap.Error(err))
		return MissingReadme
	}
	text, err := ExtractMainText(res.Body, ReadmeSelectors()...)
	if err != nil || text == "" {
		return MissingReadme
	}
	return text
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// fetchTree returns the first MaxTreePaths blob paths. Only a 404 is fatal;
// other failures yield an empty tree.
func (g *GitHub) fetchTree(ctx context.Context, owner, repo string) ([]string, error) {
	res, err := URL(ctx, g.repoURL(owner, repo, "git", "trees", "HEAD")+"?recursive=1", g.options("application/vnd.github+json"))
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			switch fe.StatusCode {
			case http.StatusNotFound:
				return nil, &RepoNotFoundError{Owner: owner, Repo: repo}
			case http.StatusConflict:
				// empty repository
				return []string{}, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("file tree unavailable", zap.String("repo", owner+"/"+repo), zap.Error(err))
		return []string{}, nil
	}

	var tr treeResponse
	if err := json.Unmarshal([]byte(res.Body), &tr); err != nil {
		g.logger.Warn("file tree unreadable", zap.String("repo", owner+"/"+repo), zap.Error(err))
		return []string{}, nil
	}

	paths := make([]string, 0, min(len(tr.Tree), MaxTreePaths))
	for _, item := range tr.Tree {
		if item.Type != "blob" || item.Path == "" {
			continue
		}
		paths = append(paths, item.Path)
		if len(paths) == MaxTreePaths {
			break
		}
	}
	return paths, nil
}

// fetchSourceFiles loads candidate files concurrently, keeping tree order.
func (g *GitHub) fetchSourceFiles(ctx context.Context, owner, repo string, tree []string) []SourceFile {
	var candidates []string
	for _, p := range tree {
		if IsSourceFile(p) {
			candidates = append(candidates, p)
			if len(candidates) == MaxSourceFiles {
				break
			}
		}
	}

	files := make([]*SourceFile, len(candidates))
	var eg errgroup.Group
	eg.SetLimit(fileConcurrency)
	for i, path := range candidates {
		eg.Go(func() error {
			var escaped []string
			for _, seg := range strings.Split(path, "/") {
				escaped = append(escaped, url.PathEscape(seg))
			}
			res, err := URL(ctx, g.repoURL(owner, repo, "contents", strings.Join(escaped, "/")), g.options("application/vnd.github.raw"))
			if err != nil {
				g.logger.Debug("skipping unreadable file", zap.String("path", path), zap.Error(err))
				return nil
			}
			files[i] = &SourceFile{Path: path, Content: truncate(res.Body, MaxFileChars)}
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]SourceFile, 0, len(files))
	for _, f := range files {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// truncate keeps at most n characters.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
