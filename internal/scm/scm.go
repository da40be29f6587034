// Package scm defines the source-control and CI collaborator the healing
// engine talks to, and its GitHub Actions implementation.
package scm

import (
	"context"
	"errors"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Sentinel errors returned by Client implementations, always wrapped.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflicting update")
	ErrUnavailable = errors.New("source control unavailable")
)

// RunFilter narrows ListRecentRuns. Zero values mean "any".
type RunFilter struct {
	Branch  string
	Event   string
	Status  string // a status or conclusion, e.g. "completed" or "success"
	PerPage int
}

// File is a repository file at a given ref.
type File struct {
	Path    string
	Content string
	SHA     string
}

// CommitRequest is a create-or-update of one file on a branch. ExpectedSHA is
// the blob SHA the caller read; empty means the file must not exist yet.
type CommitRequest struct {
	Path        string
	Content     string
	Message     string
	Branch      string
	ExpectedSHA string
}

// Issue is an escalation issue.
type Issue struct {
	Title  string
	Body   string
	Labels []string
}

// Client is the collaborator contract consumed by the tracker, engine and
// remediation strategies.
type Client interface {
	// Repository returns "owner/name".
	Repository() string
	ListRecentRuns(ctx context.Context, filter RunFilter) ([]types.RunSummary, error)
	GetRun(ctx context.Context, runID string) (types.RunSummary, error)
	FetchLogs(ctx context.Context, runID string) (string, error)
	Rerun(ctx context.Context, runID string) error
	GetFile(ctx context.Context, path, ref string) (*File, error)
	CommitFile(ctx context.Context, req CommitRequest) error
	OpenIssue(ctx context.Context, issue Issue) (string, error)
	ClearCaches(ctx context.Context, branch string) (int, error)
}
