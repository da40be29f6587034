package scm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const (
	defaultCallTimeout       = 10 * time.Second
	defaultRequestsPerSecond = 5
	defaultPerPage           = 20
	maxPerPage               = 100
)

// GitHub implements Client on top of the GitHub REST API. Every call is
// rate limited, retried on transient failures and guarded by a circuit
// breaker that reports ErrUnavailable while open.
type GitHub struct {
	client      *github.Client
	logClient   *http.Client
	token       string
	owner       string
	repo        string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	retry       RetryPolicy
	callTimeout time.Duration
	logger      *slog.Logger
}

// GitHubOption configures a GitHub client.
type GitHubOption func(*GitHub)

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(base string) GitHubOption {
	return func(g *GitHub) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		if u, err := url.Parse(base); err == nil {
			g.client.BaseURL = u
		}
	}
}

// WithRequestsPerSecond sets the local API rate limit.
func WithRequestsPerSecond(rps float64) GitHubOption {
	return func(g *GitHub) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCallTimeout bounds each individual API request.
func WithCallTimeout(d time.Duration) GitHubOption {
	return func(g *GitHub) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) GitHubOption {
	return func(g *GitHub) { g.retry = p }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) GitHubOption {
	return func(g *GitHub) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGitHub creates a client for repository ("owner/name") authenticated with token.
func NewGitHub(ctx context.Context, repository, token string, opts ...GitHubOption) (*GitHub, error) {
	owner, repo, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	g := &GitHub{
		client:      github.NewClient(tc),
		logClient:   &http.Client{Timeout: 2 * time.Minute},
		token:       token,
		owner:       owner,
		repo:        repo,
		limiter:     rate.NewLimiter(defaultRequestsPerSecond, defaultRequestsPerSecond),
		retry:       DefaultRetryPolicy(),
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github:" + repository,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("github circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g, nil
}

// SplitRepository splits "owner/name".
func SplitRepository(repository string) (string, string, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repository)
	}
	return owner, repo, nil
}

// Repository returns "owner/name".
func (g *GitHub) Repository() string {
	return g.owner + "/" + g.repo
}

// ListRecentRuns lists the most recent workflow runs, newest first.
func (g *GitHub) ListRecentRuns(ctx context.Context, filter RunFilter) ([]types.RunSummary, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	opts := &github.ListWorkflowRunsOptions{
		Branch:      filter.Branch,
		Event:       filter.Event,
		Status:      filter.Status,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var runs *github.WorkflowRuns
	err := g.call(ctx, "list runs", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		runs, resp, err = g.client.Actions.ListRepositoryWorkflowRuns(ctx, g.owner, g.repo, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]types.RunSummary, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, toRunSummary(r))
	}
	return out, nil
}

// GetRun fetches a single workflow run.
func (g *GitHub) GetRun(ctx context.Context, runID string) (types.RunSummary, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return types.RunSummary{}, err
	}
	var run *github.WorkflowRun
	err = g.call(ctx, "get run "+runID, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		run, resp, err = g.client.Actions.GetWorkflowRunByID(ctx, g.owner, g.repo, id)
		return resp, err
	})
	if err != nil {
		return types.RunSummary{}, err
	}
	return toRunSummary(run), nil
}

// FetchLogs downloads a run's log archive and returns its text.
func (g *GitHub) FetchLogs(ctx context.Context, runID string) (string, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return "", err
	}
	var text string
	err = g.call(ctx, "fetch logs "+runID, func(ctx context.Context) (*github.Response, error) {
		req, err := g.client.NewRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s/actions/runs/%d/logs", g.owner, g.repo, id), nil)
		if err != nil {
			return nil, err
		}
		// The API redirects to short-lived blob storage. net/http drops the
		// Authorization header on that cross-host hop.
		req.Header.Set("Authorization", "Bearer "+g.token)
		resp, err := g.logClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		ghResp := &github.Response{Response: resp}
		if resp.StatusCode != http.StatusOK {
			return ghResp, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		text, err = ReadLogArchive(resp.Body)
		return ghResp, err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Rerun requests a re-run of every job in the workflow run.
func (g *GitHub) Rerun(ctx context.Context, runID string) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	return g.call(ctx, "rerun "+runID, func(ctx context.Context) (*github.Response, error) {
		return g.client.Actions.RerunWorkflowByID(ctx, g.owner, g.repo, id)
	})
}

// GetFile reads a file at ref. A missing file returns an error wrapping ErrNotFound.
func (g *GitHub) GetFile(ctx context.Context, path, ref string) (*File, error) {
	var content *github.RepositoryContent
	err := g.call(ctx, "get "+path, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		content, _, resp, err = g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("get %s: path is a directory: %w", path, ErrNotFound)
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &File{Path: path, Content: text, SHA: content.GetSHA()}, nil
}

// CommitFile creates or updates one file in a single commit. GitHub rejects
// the write when ExpectedSHA no longer matches, so a concurrent change is
// reported as ErrConflict instead of being overwritten.
func (g *GitHub) CommitFile(ctx context.Context, req CommitRequest) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(req.Message),
		Content: []byte(req.Content),
		Branch:  github.String(req.Branch),
	}
	return g.call(ctx, "commit "+req.Path, func(ctx context.Context) (*github.Response, error) {
		if req.ExpectedSHA == "" {
			_, resp, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, req.Path, opts)
			return resp, err
		}
		opts.SHA = github.String(req.ExpectedSHA)
		_, resp, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, req.Path, opts)
		return resp, err
	})
}

// OpenIssue files an issue and returns its URL.
func (g *GitHub) OpenIssue(ctx context.Context, issue Issue) (string, error) {
	labels := issue.Labels
	var created *github.Issue
	err := g.call(ctx, "open issue", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		created, resp, err = g.client.Issues.Create(ctx, g.owner, g.repo, &github.IssueRequest{
			Title:  github.String(issue.Title),
			Body:   github.String(issue.Body),
			Labels: &labels,
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return created.GetHTMLURL(), nil
}

// ClearCaches deletes the Actions caches scoped to branch and returns how
// many were removed.
func (g *GitHub) ClearCaches(ctx context.Context, branch string) (int, error) {
	ref := "refs/heads/" + branch
	// Collect every page before deleting so removals do not shift the pages.
	var ids []int64
	opts := &github.ActionsCacheListOptions{
		Ref:         github.String(ref),
		ListOptions: github.ListOptions{PerPage: maxPerPage},
	}
	for {
		var caches *github.ActionsCacheList
		var next int
		err := g.call(ctx, "list caches", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			caches, resp, err = g.client.Actions.ListCaches(ctx, g.owner, g.repo, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return 0, err
		}
		for _, c := range caches.ActionsCaches {
			ids = append(ids, c.GetID())
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}

	deleted := 0
	for _, id := range ids {
		err := g.call(ctx, "delete cache", func(ctx context.Context) (*github.Response, error) {
			return g.client.Actions.DeleteCachesByID(ctx, g.owner, g.repo, id)
		})
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// call runs fn through the circuit breaker, rate limiter and retry policy.
func (g *GitHub) call(ctx context.Context, op string, fn func(context.Context) (*github.Response, error)) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.withRetry(ctx, op, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return err
}

func (g *GitHub) withRetry(ctx context.Context, op string, fn func(context.Context) (*github.Response, error)) error {
	attempts := g.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		resp, err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		var retryable bool
		lastErr, retryable = classifyError(op, resp, err)
		if !retryable || attempt == attempts || ctx.Err() != nil {
			break
		}
		wait := CalculateBackoff(g.retry, attempt)
		g.logger.Debug("retrying github call", "op", op, "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}

// classifyError maps an API failure onto the package sentinels and reports
// whether it is worth retrying.
func classifyError(op string, resp *github.Response, err error) (error, bool) {
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err), true
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err), false
	}

	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err), false
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err), false
	case status == http.StatusTooManyRequests || status >= 500 || status == 0:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err), true
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err), false
	}
}

func parseRunID(runID string) (int64, error) {
	id, err := strconv.ParseInt(runID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	return id, nil
}

func toRunSummary(r *github.WorkflowRun) types.RunSummary {
	return types.RunSummary{
		ID:         strconv.FormatInt(r.GetID(), 10),
		Name:       r.GetName(),
		Status:     types.RunStatus(r.GetStatus()),
		Conclusion: types.RunConclusion(r.GetConclusion()),
		CreatedAt:  r.GetCreatedAt().Time,
		UpdatedAt:  r.GetUpdatedAt().Time,
		Branch:     r.GetHeadBranch(),
		CommitSHA:  r.GetHeadSHA(),
		Event:      r.GetEvent(),
		RunNumber:  r.GetRunNumber(),
		RunAttempt: r.GetRunAttempt(),
	}
}
