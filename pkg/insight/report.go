// Package insight produces daily recap reports by asking the agent to
// summarise one day's sales and customer conversations.
package insight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"

	"github.com/harun/insight/pkg/agent"
)

// DateLayout is the date format used in questions and file names.
const DateLayout = "2006-01-02"

// Executor runs one question to completion.
type Executor interface {
	Execute(ctx context.Context, question string, history []agent.Message) (agent.Result, error)
}

// Report is one day's recap.
type Report struct {
	Date     time.Time
	Question string
	Status   agent.Status
	Answer   string
	Steps    []*agent.ActionStep
	Markdown string
	HTML     string
}

// Question returns the recap request for date.
func Question(date time.Time) string {
	return fmt.Sprintf(
		"Create a daily insight summary for %s. "+
			"Use the sales data for quantitative trends and the conversation history for qualitative insights. "+
			"Present it as a clear report.",
		date.Format(DateLayout))
}

// Generator asks the agent for recaps and renders them.
type Generator struct {
	executor   Executor
	reportsDir string
	logger     zerolog.Logger
}

// NewGenerator creates a generator writing into reportsDir. An empty
// reportsDir disables Write.
func NewGenerator(executor Executor, reportsDir string, logger zerolog.Logger) *Generator {
	return &Generator{
		executor:   executor,
		reportsDir: reportsDir,
		logger:     logger.With().Str("component", "insight").Logger(),
	}
}

// Generate runs the recap question for date. A run that stops at its
// budget still yields a report holding the best-effort message; failed
// and cancelled runs return an error.
func (g *Generator) Generate(ctx context.Context, date time.Time) (*Report, error) {
	question := Question(date)
	res, err := g.executor.Execute(ctx, question, nil)
	if err != nil {
		return nil, fmt.Errorf("daily insight for %s: %w", date.Format(DateLayout), err)
	}
	if res.Status != agent.StatusCompleted && res.Status != agent.StatusExhausted {
		return nil, fmt.Errorf("daily insight for %s ended %s", date.Format(DateLayout), res.Status)
	}

	report := &Report{
		Date:     date,
		Question: question,
		Status:   res.Status,
		Answer:   res.Answer,
		Steps:    res.Steps,
	}
	report.Markdown = renderMarkdown(report)

	html, err := markdownToHTML(report.Markdown)
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	report.HTML = html

	g.logger.Info().
		Str("date", date.Format(DateLayout)).
		Str("status", string(res.Status)).
		Int("steps", len(res.Steps)).
		Msg("Daily insight generated")
	return report, nil
}

// Write stores the report as insight-<date>.md and .html and returns the
// markdown path.
func (g *Generator) Write(report *Report) (string, error) {
	if g.reportsDir == "" {
		return "", errors.New("reports directory is not configured")
	}
	if err := os.MkdirAll(g.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	base := filepath.Join(g.reportsDir, "insight-"+report.Date.Format(DateLayout))
	if err := os.WriteFile(base+".md", []byte(report.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.WriteFile(base+".html", []byte(report.HTML), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return base + ".md", nil
}

func renderMarkdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily insight: %s\n\n", r.Date.Format(DateLayout))
	b.WriteString(strings.TrimSpace(r.Answer))
	b.WriteString("\n")

	if len(r.Steps) == 0 {
		return b.String()
	}

	b.WriteString("\n## Reasoning trace\n")
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "\n### Step %d\n\n", i+1)
		if s.Rationale != "" {
			fmt.Fprintf(&b, "**Thought:** %s\n\n", s.Rationale)
		}
		if s.Tool != "" {
			fmt.Fprintf(&b, "**Action:** `%s`\n\n", s.Tool)
			fmt.Fprintf(&b, "**Action Input:**\n\n```\n%s\n```\n\n", s.Input)
		}
		fmt.Fprintf(&b, "**Observation:**\n\n```\n%s\n```\n", s.Observation)
	}
	return b.String()
}

// markdownToHTML renders markdown into a standalone HTML page.
func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Daily insight</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String()), nil
}
