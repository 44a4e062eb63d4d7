package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/openfroyo/safeguards/pkg/engine"
)

// ConsoleSink prints the colored report.
type ConsoleSink struct {
	out io.Writer

	passed  *color.Color
	warned  *color.Color
	failed  *color.Color
	neutral *color.Color
	muted   *color.Color
}

// NewConsoleSink creates a console sink writing to out. Colors follow the
// fatih/color NoColor setting.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:     out,
		passed:  color.New(color.FgGreen),
		warned:  color.New(color.FgYellow),
		failed:  color.New(color.FgRed),
		neutral: color.New(color.FgHiYellow),
		muted:   color.New(color.FgHiBlack),
	}
}

// Write renders the summary to the console.
func (s *ConsoleSink) Write(_ context.Context, summary *engine.RunSummary) error {
	_, err := io.WriteString(s.out, format(Render(summary), s.paint))
	return err
}

func (s *ConsoleSink) paint(outcome engine.Outcome, text string) string {
	switch outcome {
	case engine.OutcomePassed:
		return s.passed.Sprint(text)
	case engine.OutcomeWarned:
		return s.warned.Sprint(text)
	case engine.OutcomeFailed:
		return s.failed.Sprint(text)
	case engine.OutcomeInconclusive:
		return s.neutral.Sprint(text)
	}
	return s.muted.Sprint(text)
}

// JSONSink writes the report as one JSON document.
type JSONSink struct {
	out    io.Writer
	indent bool
}

// NewJSONSink creates a JSON sink writing to out.
func NewJSONSink(out io.Writer, indent bool) *JSONSink {
	return &JSONSink{out: out, indent: indent}
}

type jsonReport struct {
	*Report
	Blocked bool   `json:"blocked"`
	Error   string `json:"error,omitempty"`
}

// Write encodes the rendered summary.
func (s *JSONSink) Write(_ context.Context, summary *engine.RunSummary) error {
	r := Render(summary)
	doc := jsonReport{Report: r, Blocked: summary.Blocked}
	if r.BlockingError != nil {
		doc.Error = r.BlockingError.Error()
	}

	enc := json.NewEncoder(s.out)
	if s.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

var (
	_ engine.Sink = (*ConsoleSink)(nil)
	_ engine.Sink = (*JSONSink)(nil)
)
