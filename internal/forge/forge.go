// Package forge executes the Communicate action by filing a GitHub
// issue, escalating a cycle's surprise to a human operator.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/events"
	"github.com/wuweilabs/cogkernel/internal/inference"
	"github.com/wuweilabs/cogkernel/internal/loop"
)

// rateLimitWarningThreshold triggers a log warning when the remaining
// rate limit drops below this value.
const rateLimitWarningThreshold = 100

// Config names the repository issues are filed against and the
// surprise threshold that gates escalation.
type Config struct {
	Owner             string
	Repo              string
	SurpriseThreshold float64
}

// ActionExecutor implements loop.ActionExecutor for action.Communicate
// by filing a GitHub issue via the google/go-github SDK. Any other
// action is a no-op success: ActionExecutor only has an opinion about
// Communicate. It subscribes to events.TopicAISurprise to learn the
// most recent surprise value, since loop.CycleContext does not carry
// it directly.
type ActionExecutor struct {
	client *github.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	surprise float64
}

// New constructs an ActionExecutor and subscribes it to bus's surprise
// topic. httpClient may be nil to use http.DefaultClient.
func New(bus *events.Bus, httpClient *http.Client, token string, cfg Config, logger *slog.Logger) *ActionExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	client := github.NewClient(httpClient).WithAuthToken(token)
	e := &ActionExecutor{client: client, cfg: cfg, logger: logger}
	bus.Subscribe(events.TopicAISurprise, func(ev events.Event) {
		if p, ok := ev.Payload.(inference.SurprisePayload); ok {
			e.mu.Lock()
			e.surprise = p.Value
			e.mu.Unlock()
		}
	})
	return e
}

// Execute implements loop.ActionExecutor. It files an issue only for
// action.Communicate, and only when the most recently observed
// surprise clears cfg.SurpriseThreshold — bounded escalation, not an
// issue per cycle.
func (e *ActionExecutor) Execute(ctx context.Context, a action.V1, cycleCtx loop.CycleContext) (loop.ActionResult, error) {
	start := time.Now()
	if a != action.Communicate {
		return loop.ActionResult{Success: true, Action: a, Duration: time.Since(start)}, nil
	}

	e.mu.Lock()
	surprise := e.surprise
	e.mu.Unlock()
	if surprise < e.cfg.SurpriseThreshold {
		return loop.ActionResult{
			Success:  true,
			Action:   a,
			Data:     "surprise below threshold, no issue filed",
			Duration: time.Since(start),
		}, nil
	}

	title := fmt.Sprintf("cycle %d: surprise %.3f exceeds threshold %.3f", cycleCtx.CycleIndex, surprise, e.cfg.SurpriseThreshold)
	body := fmt.Sprintf("Autonomous loop cycle %d reported surprise %.3f (threshold %.3f).\n\nBeliefs: %+v",
		cycleCtx.CycleIndex, surprise, e.cfg.SurpriseThreshold, cycleCtx.Beliefs)
	labels := []string{"cogkernel-escalation"}

	issue, resp, err := e.client.Issues.Create(ctx, e.cfg.Owner, e.cfg.Repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	e.checkRate(resp)
	if err != nil {
		return loop.ActionResult{
			Success:  false,
			Action:   a,
			Error:    fmt.Sprintf("file issue: %v", err),
			Duration: time.Since(start),
		}, nil
	}

	e.logger.Info("forge: filed escalation issue", "number", issue.GetNumber(), "url", issue.GetHTMLURL())
	return loop.ActionResult{
		Success:  true,
		Action:   a,
		Data:     issue.GetHTMLURL(),
		Duration: time.Since(start),
	}, nil
}

func (e *ActionExecutor) checkRate(resp *github.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Rate.Remaining
	if remaining > 0 && remaining < rateLimitWarningThreshold {
		e.logger.Warn("forge: github rate limit low",
			"remaining", remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Format(time.RFC3339),
		)
	}
}
