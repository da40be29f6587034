package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// escalate hands a skipped or failed pass to humans: one issue (when enabled)
// and one alert. It returns the issue URL, if any.
func (e *Engine) escalate(ctx context.Context, run types.RunSummary, cl types.Classification, score *types.HealingScore, out *types.Outcome, state types.HealingState) string {
	var url string
	if e.openIssues {
		var err error
		url, err = e.client.OpenIssue(ctx, scm.Issue{
			Title:  IssueTitle(run),
			Body:   issueBody(run, cl, score, out, state),
			Labels: e.issueLabels,
		})
		e.metrics.Escalated(err == nil)
		if err != nil {
			e.logger.Error("failed to open escalation issue", "runID", run.ID, "error", err)
		} else {
			e.logger.Info("escalation issue opened", "runID", run.ID, "url", url)
		}
	}

	if e.alertFn != nil {
		level := types.AlertLevelWarning
		msg := fmt.Sprintf("Run #%s (%s) skipped: %s", run.ID, run.Name, cl.Message)
		if state == types.StateFailed {
			level = types.AlertLevelError
			msg = fmt.Sprintf("Run #%s (%s) remediation failed: %s", run.ID, run.Name, out.Details)
		}
		details := map[string]interface{}{
			"state":    string(state),
			"branch":   run.Branch,
			"severity": string(cl.Severity),
			"strategy": string(cl.Strategy),
		}
		if score != nil {
			details["probability"] = score.Probability
		}
		if url != "" {
			details["issue"] = url
		}
		e.alertFn(ctx, types.Alert{
			Level:     level,
			RunID:     run.ID,
			Workflow:  run.Name,
			Category:  cl.Category,
			Message:   msg,
			Details:   details,
			Timestamp: e.now().UTC(),
		})
	}
	return url
}

// IssueTitle is the title of the escalation issue for a run.
func IssueTitle(run types.RunSummary) string {
	return fmt.Sprintf("Pipeline failure requires attention: %s (#%s)", run.Name, run.ID)
}

func issueBody(run types.RunSummary, cl types.Classification, score *types.HealingScore, out *types.Outcome, state types.HealingState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated healing did not resolve workflow run #%s.\n\n", run.ID)
	fmt.Fprintf(&b, "- **Workflow:** %s\n", run.Name)
	fmt.Fprintf(&b, "- **Branch:** %s\n", run.Branch)
	fmt.Fprintf(&b, "- **Commit:** %s\n", run.CommitSHA)
	fmt.Fprintf(&b, "- **Category:** %s\n", cl.Category)
	fmt.Fprintf(&b, "- **Severity:** %s\n", cl.Severity)
	fmt.Fprintf(&b, "- **Message:** %s\n", cl.Message)
	if score != nil {
		fmt.Fprintf(&b, "- **Healing probability:** %s", metrics.FormatProbability(score.Probability))
		if score.Fallback {
			b.WriteString(" (fallback)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- **State:** %s\n", state)

	if out != nil {
		fmt.Fprintf(&b, "\n### Remediation (%s)\n\n%s\n", out.Strategy, out.Details)
		if len(out.Changes) > 0 {
			b.WriteString("\nChanges:\n")
			for _, c := range out.Changes {
				fmt.Fprintf(&b, "- `%s`\n", c)
			}
		}
	}
	if cl.Line != "" {
		fmt.Fprintf(&b, "\n### Log line\n\n```\n%s\n```\n", cl.Line)
	}
	if cl.StackTrace != "" {
		fmt.Fprintf(&b, "\n### Stack trace\n\n```\n%s\n```\n", cl.StackTrace)
	}
	return b.String()
}
