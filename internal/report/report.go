// Package report renders a cycle-summary report to Markdown and HTML
// for operator consoles. It is a pure collaborator: it reads an
// orchestrator.Metrics snapshot and loop cycle counters and produces
// text, with no bearing on orchestrator or loop state.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wuweilabs/cogkernel/internal/orchestrator"
)

// CycleSummary is the data a report is rendered from: one
// orchestrator turn's metrics plus the autonomous loop counters
// current at the time the turn ran.
type CycleSummary struct {
	CycleIndex  int
	Action      string
	Surprise    float64
	Metrics     orchestrator.Metrics
	GeneratedAt time.Time
}

// Markdown renders s as a Markdown document.
func Markdown(s CycleSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Cycle %d Report\n\n", s.CycleIndex)
	fmt.Fprintf(&b, "- **Action**: %s\n", s.Action)
	fmt.Fprintf(&b, "- **Surprise**: %.4f\n", s.Surprise)
	fmt.Fprintf(&b, "- **Generated**: %s\n\n", s.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Orchestrator Metrics\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n")
	fmt.Fprintf(&b, "|---|---|\n")
	fmt.Fprintf(&b, "| Input tokens | %d |\n", s.Metrics.InputTokens)
	fmt.Fprintf(&b, "| Output tokens | %d |\n", s.Metrics.OutputTokens)
	fmt.Fprintf(&b, "| Thinking tokens | %d |\n", s.Metrics.ThinkingTokens)
	fmt.Fprintf(&b, "| Tokens/sec | %.2f |\n", s.Metrics.TokensPerSecond)
	fmt.Fprintf(&b, "| Time to first token | %s |\n", s.Metrics.TimeToFirstToken)
	fmt.Fprintf(&b, "| Tool calls | %d |\n", s.Metrics.ToolCallCount)
	fmt.Fprintf(&b, "| Tool latency | %s |\n", s.Metrics.ToolLatency)
	fmt.Fprintf(&b, "| Estimated cost (USD) | %.6f |\n", s.Metrics.EstimatedCostUSD)

	return b.String()
}

// HTML renders s to a minimal, self-contained HTML document suitable
// for an operator console, with no external resources.
func HTML(s CycleSummary) (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(Markdown(s)), &buf); err != nil {
		return "", fmt.Errorf("report: render markdown: %w", err)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Cycle %d Report</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, s.CycleIndex, buf.String())

	return html, nil
}
