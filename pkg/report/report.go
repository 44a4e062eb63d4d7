package report

import (
	"fmt"
	"strings"

	"github.com/openfroyo/safeguards/pkg/engine"
)

// Line is the per-policy status line.
type Line struct {
	Policy   string         `json:"policy"`
	Title    string         `json:"title"`
	Outcome  engine.Outcome `json:"outcome"`
	Messages []string       `json:"messages,omitempty"`
	DocsURL  string         `json:"docs_url,omitempty"`
}

// Detail is a numbered entry of the details section, one per failed or warned policy.
type Detail struct {
	Index       int            `json:"index"`
	Policy      string         `json:"policy"`
	Outcome     engine.Outcome `json:"outcome"`
	Message     string         `json:"message"`
	DocsURL     string         `json:"docs_url,omitempty"`
	Description string         `json:"description,omitempty"`
}

// Counts are the summary counters.
type Counts struct {
	Passed       int `json:"passed"`
	Warned       int `json:"warned"`
	Failed       int `json:"failed"`
	Inconclusive int `json:"inconclusive"`
}

// Report is the rendered form of a run summary.
type Report struct {
	Lines   []Line   `json:"lines"`
	Details []Detail `json:"details,omitempty"`
	Counts  Counts   `json:"counts"`

	// Text is the complete uncolored report.
	Text string `json:"text"`

	// BlockingError is a *engine.BlockedError when the run is blocked, nil otherwise.
	BlockingError error `json:"-"`
}

// Summary returns the counts line.
func (r *Report) Summary() string {
	return summaryLine(r.Counts, plain)
}

// Render builds the report of a run summary. It performs no I/O.
func Render(summary *engine.RunSummary) *Report {
	r := &Report{
		Counts: Counts{
			Passed:       summary.Passed,
			Warned:       summary.Warned,
			Failed:       summary.Failed,
			Inconclusive: summary.Inconclusive,
		},
	}

	for _, res := range summary.Results {
		outcome := res.Outcome()
		r.Lines = append(r.Lines, Line{
			Policy:   res.Config.Name,
			Title:    res.Config.Title,
			Outcome:  outcome,
			Messages: res.Messages,
			DocsURL:  res.Config.DocsURL,
		})

		var prefix string
		switch outcome {
		case engine.OutcomeFailed:
			prefix = "Failed - "
		case engine.OutcomeWarned:
			prefix = "Warned - "
		default:
			continue
		}
		r.Details = append(r.Details, Detail{
			Index:       len(r.Details) + 1,
			Policy:      res.Config.Name,
			Outcome:     outcome,
			Message:     prefix + res.Message(),
			DocsURL:     res.Config.DocsURL,
			Description: res.Config.Description,
		})
	}

	if summary.Blocked {
		r.BlockingError = &engine.BlockedError{Violations: summary.Violations()}
	}

	r.Text = format(r, plain)
	return r
}

// painter colors a fragment according to the outcome it describes.
// An empty outcome is used for secondary text such as docs links.
type painter func(outcome engine.Outcome, s string) string

func plain(_ engine.Outcome, s string) string { return s }

func summaryLine(c Counts, paint painter) string {
	line := fmt.Sprintf("Safeguards Summary: %s, %s, %s",
		paint(engine.OutcomePassed, fmt.Sprintf("%d passed", c.Passed)),
		paint(engine.OutcomeWarned, fmt.Sprintf("%d warnings", c.Warned)),
		paint(engine.OutcomeFailed, fmt.Sprintf("%d errors", c.Failed)))
	if c.Inconclusive > 0 {
		line += ", " + paint(engine.OutcomeInconclusive, fmt.Sprintf("%d inconclusive", c.Inconclusive))
	}
	return line
}

func format(r *Report, paint painter) string {
	var b strings.Builder

	b.WriteString("Safeguards Results:\n\n   Summary --------------------------------------------------\n\n")
	for _, line := range r.Lines {
		fmt.Fprintf(&b, "   %s - %s\n", paint(line.Outcome, string(line.Outcome)), line.Title)
	}

	if len(r.Details) > 0 {
		b.WriteString("\n   " + paint(engine.OutcomeInconclusive, "Details --------------------------------------------------") + "\n")
		for _, d := range r.Details {
			fmt.Fprintf(&b, "\n   %d) %s\n", d.Index, paint(d.Outcome, d.Message))
			if d.DocsURL != "" {
				fmt.Fprintf(&b, "      %s\n", paint("", "details: "+d.DocsURL))
			}
			if d.Description != "" {
				fmt.Fprintf(&b, "      %s\n", d.Description)
			}
		}
	}

	b.WriteString("\n" + summaryLine(r.Counts, paint) + "\n")
	return b.String()
}
