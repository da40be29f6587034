package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

func addToManifest(ctx context.Context, d *Dispatcher, run types.RunSummary, f Failure) (types.Outcome, error) {
	pkg := f.(MissingDependency).Package
	if pkg == "" {
		return types.Outcome{Details: "Could not identify missing package"}, nil
	}
	path := d.cfg.ManifestPath

	content, sha, err := d.readFile(ctx, path, run.Branch)
	if err != nil {
		return types.Outcome{}, err
	}
	updated, added := AddRequirements(content, pkg)
	if len(added) == 0 {
		return types.Outcome{Success: true, Details: fmt.Sprintf("%s already in %s", pkg, path)}, nil
	}
	if err := d.commit(ctx, run.Branch, path, updated, sha, "Add missing dependency: "+pkg); err != nil {
		return types.Outcome{}, err
	}
	return types.Outcome{
		Success: true,
		Details: fmt.Sprintf("Added %s to %s", pkg, path),
		Changes: []string{fmt.Sprintf("%s: +%s", path, pkg)},
	}, nil
}

func raiseTimeout(ctx context.Context, d *Dispatcher, run types.RunSummary, _ Failure) (types.Outcome, error) {
	path, seconds := d.cfg.TestConfigPath, d.cfg.TestTimeoutSeconds

	content, sha, err := d.readFile(ctx, path, run.Branch)
	if err != nil {
		return types.Outcome{}, err
	}
	updated, changed, err := RaiseTestTimeout(content, seconds)
	if err != nil {
		return types.Outcome{}, err
	}
	if !changed {
		return types.Outcome{Success: true, Details: fmt.Sprintf("Test timeout already at least %ds", seconds)}, nil
	}
	if err := d.commit(ctx, run.Branch, path, updated, sha, fmt.Sprintf("Increase test timeout to %ds", seconds)); err != nil {
		return types.Outcome{}, err
	}
	return types.Outcome{
		Success: true,
		Details: fmt.Sprintf("Increased test timeout to %ds", seconds),
		Changes: []string{fmt.Sprintf("%s: timeout = %d", path, seconds)},
	}, nil
}

func addRetryPolicy(ctx context.Context, d *Dispatcher, run types.RunSummary, f Failure) (types.Outcome, error) {
	test := f.(FlakyTest).TestName
	manifest, plugin := d.cfg.ManifestPath, d.cfg.RetryPlugin
	var changes []string

	content, sha, err := d.readFile(ctx, manifest, run.Branch)
	if err != nil {
		return types.Outcome{}, err
	}
	if updated, added := AddRequirements(content, plugin); len(added) > 0 {
		if err := d.commit(ctx, run.Branch, manifest, updated, sha, "Add "+plugin+" for flaky tests"); err != nil {
			return types.Outcome{}, err
		}
		changes = append(changes, fmt.Sprintf("%s: +%s", manifest, plugin))
	}

	iniPath := d.cfg.TestConfigPath
	content, sha, err = d.readFile(ctx, iniPath, run.Branch)
	if err != nil {
		return types.Outcome{Changes: changes}, err
	}
	updated, changed, err := EnableReruns(content, d.cfg.Reruns, d.cfg.RerunDelaySeconds)
	if err != nil {
		return types.Outcome{Changes: changes}, err
	}
	if changed {
		msg := fmt.Sprintf("Retry flaky tests %d times", d.cfg.Reruns)
		if err := d.commit(ctx, run.Branch, iniPath, updated, sha, msg); err != nil {
			return types.Outcome{Changes: changes}, err
		}
		changes = append(changes, fmt.Sprintf("%s: addopts += --reruns %d --reruns-delay %d", iniPath, d.cfg.Reruns, d.cfg.RerunDelaySeconds))
	}

	subject := "flaky tests"
	if test != "" {
		subject = test
	}
	return types.Outcome{
		Success: true,
		Details: fmt.Sprintf("Configured %d reruns for %s", d.cfg.Reruns, subject),
		Changes: changes,
	}, nil
}

func cacheOrManual(ctx context.Context, d *Dispatcher, run types.RunSummary, f Failure) (types.Outcome, error) {
	text := strings.ToLower(f.(BuildFailure).Text)
	switch {
	case strings.Contains(text, "cache"):
		n, err := d.client.ClearCaches(ctx, run.Branch)
		if err != nil {
			return types.Outcome{}, fmt.Errorf("clearing caches: %w", err)
		}
		return types.Outcome{
			Success: true,
			Details: fmt.Sprintf("Cleared %d cache entries on %s", n, run.Branch),
			Changes: []string{"cache: cleared"},
		}, nil
	case strings.Contains(text, "permission denied"):
		return types.Outcome{Details: "Permission issue - requires manual intervention"}, nil
	default:
		return types.Outcome{Details: "Build failure type not recognized"}, nil
	}
}

func rollback(ctx context.Context, d *Dispatcher, run types.RunSummary, _ Failure) (types.Outcome, error) {
	runs, err := d.client.ListRecentRuns(ctx, scm.RunFilter{
		Branch:  run.Branch,
		Status:  string(types.ConclusionSuccess),
		PerPage: 20,
	})
	if err != nil {
		return types.Outcome{}, fmt.Errorf("finding last good run: %w", err)
	}
	for _, r := range runs {
		if r.ID == run.ID || r.Conclusion != types.ConclusionSuccess || r.CommitSHA == "" {
			continue
		}
		sha := r.CommitSHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		return types.Outcome{
			Success: true,
			Details: fmt.Sprintf("Rollback target identified: %s (run %s)", sha, r.ID),
			Changes: []string{"deployment: reverted to " + sha},
		}, nil
	}
	return types.Outcome{Details: "No previous successful deployment found"}, nil
}

func raiseLimits(ctx context.Context, d *Dispatcher, run types.RunSummary, _ Failure) (types.Outcome, error) {
	path, minutes := d.cfg.WorkflowPath, d.cfg.JobTimeoutMinutes

	content, sha, err := d.readFile(ctx, path, run.Branch)
	if err != nil {
		return types.Outcome{}, err
	}
	if sha == "" {
		return types.Outcome{Details: fmt.Sprintf("Workflow file %s not found", path)}, nil
	}
	updated, jobs, err := RaiseJobTimeouts(content, minutes)
	if err != nil {
		return types.Outcome{}, err
	}
	if len(jobs) == 0 {
		return types.Outcome{Success: true, Details: fmt.Sprintf("All jobs already allow %d minutes", minutes)}, nil
	}
	if err := d.commit(ctx, run.Branch, path, updated, sha, fmt.Sprintf("Increase job timeout to %d minutes", minutes)); err != nil {
		return types.Outcome{}, err
	}
	return types.Outcome{
		Success: true,
		Details: fmt.Sprintf("Increased timeout-minutes for %s", strings.Join(jobs, ", ")),
		Changes: []string{fmt.Sprintf("%s: timeout-minutes = %d", path, minutes)},
	}, nil
}

func addRetryDeps(ctx context.Context, d *Dispatcher, run types.RunSummary, _ Failure) (types.Outcome, error) {
	path := d.cfg.ManifestPath
	const residual = "implement retry logic in code"

	content, sha, err := d.readFile(ctx, path, run.Branch)
	if err != nil {
		return types.Outcome{}, err
	}
	updated, added := AddRequirements(content, d.cfg.RetryPackages...)
	if len(added) == 0 {
		return types.Outcome{Success: true, Details: "Retry dependencies already present; " + residual}, nil
	}
	if err := d.commit(ctx, run.Branch, path, updated, sha, "Add retry dependencies: "+strings.Join(added, ", ")); err != nil {
		return types.Outcome{}, err
	}
	changes := make([]string, 0, len(added))
	for _, pkg := range added {
		changes = append(changes, fmt.Sprintf("%s: +%s", path, pkg))
	}
	return types.Outcome{
		Success: true,
		Details: "Added retry-capable HTTP dependencies; " + residual,
		Changes: changes,
	}, nil
}

func noStrategy(_ context.Context, _ *Dispatcher, _ types.RunSummary, f Failure) (types.Outcome, error) {
	cat := types.CategoryUnknown
	if u, ok := f.(Unknown); ok && u.Category != "" {
		cat = u.Category
	}
	return types.Outcome{Details: fmt.Sprintf("No strategy available for %s", cat)}, nil
}
