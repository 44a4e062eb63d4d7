package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestLambdaLogicalID(t *testing.T) {
	tests := []struct {
		name     string
		function string
		want     string
	}{
		{"simple", "hello", "HelloLambdaFunction"},
		{"dash", "my-func", "MyDashfuncLambdaFunction"},
		{"underscore", "my_func", "MyUnderscorefuncLambdaFunction"},
		{"already upper", "Func", "FuncLambdaFunction"},
	}

	p := ProviderContext{Name: "aws", Stage: "dev", Region: "us-east-1"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.LambdaLogicalID(tt.function); got != tt.want {
				t.Errorf("LambdaLogicalID(%q) = %q, want %q", tt.function, got, tt.want)
			}
		})
	}
}

func TestResultOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   Outcome
	}{
		{
			name:   "approved",
			result: Result{Config: PolicyConfig{EnforcementLevel: LevelError}, Approved: true},
			want:   OutcomePassed,
		},
		{
			name:   "failed at error level",
			result: Result{Config: PolicyConfig{EnforcementLevel: LevelError}, Failed: true},
			want:   OutcomeFailed,
		},
		{
			name:   "failed at warning level",
			result: Result{Config: PolicyConfig{EnforcementLevel: LevelWarning}, Failed: true},
			want:   OutcomeWarned,
		},
		{
			name:   "neither",
			result: Result{Config: PolicyConfig{EnforcementLevel: LevelError}},
			want:   OutcomeInconclusive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Outcome(); got != tt.want {
				t.Errorf("Outcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunSummaryOutcome(t *testing.T) {
	tests := []struct {
		summary RunSummary
		want    Outcome
	}{
		{RunSummary{Passed: 2}, OutcomePassed},
		{RunSummary{Passed: 1, Inconclusive: 1}, OutcomeInconclusive},
		{RunSummary{Warned: 1, Inconclusive: 1}, OutcomeWarned},
		{RunSummary{Failed: 1, Warned: 1, Blocked: true}, OutcomeBlocked},
	}

	for _, tt := range tests {
		if got := tt.summary.Outcome(); got != tt.want {
			t.Errorf("Outcome(%+v) = %s, want %s", tt.summary, got, tt.want)
		}
	}
}

func TestSnapshotFunctionNameFor(t *testing.T) {
	snap := &Snapshot{
		Declaration: map[string]interface{}{
			"functions": map[string]interface{}{
				"process-order": map[string]interface{}{},
			},
		},
	}

	if got := snap.FunctionNameFor("ProcessDashorderLambdaFunction"); got != "process-order" {
		t.Errorf("FunctionNameFor() = %q, want %q", got, "process-order")
	}
	if got := snap.FunctionNameFor("UnknownLambdaFunction"); got != "UnknownLambdaFunction" {
		t.Errorf("FunctionNameFor() = %q, want logical ID unchanged", got)
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
		fatal bool
	}{
		{"configuration", NewConfigurationError("bad entries", "{a,b}"), IsConfigurationError, true},
		{"load", NewLoadError("missing", cause), IsLoadError, true},
		{"artifact", NewArtifactParseError("broken.json", cause), IsArtifactParseError, true},
		{"execution", NewPolicyExecutionError("crashy", cause), IsPolicyExecutionError, true},
		{"violation", NewViolation("p", "msg"), func(error) bool { return true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("expected classification to survive wrapping: %v", wrapped)
			}
			var se *SafeguardError
			if !errors.As(wrapped, &se) {
				t.Fatalf("errors.As failed for %v", wrapped)
			}
			if se.Fatal() != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", se.Fatal(), tt.fatal)
			}
		})
	}

	if IsLoadError(NewConfigurationError("x")) {
		t.Error("configuration error classified as load error")
	}
}

func TestBlockedErrorMessage(t *testing.T) {
	err := &BlockedError{Violations: []Violation{{
		Title:    "Local policy: require-dlq",
		Policy:   "require-dlq",
		Messages: []string{`Function "hello" doesn't have a Dead Letter Queue configured.`},
		DocsURL:  "http://slss.io/sg-require-dlq",
	}}}

	msg := err.Error()
	for _, want := range []string{"Deployment blocked by Serverless Safeguards", "require-dlq", "Dead Letter Queue", "http://slss.io/sg-require-dlq"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
	if !IsBlocked(fmt.Errorf("deploy: %w", err)) {
		t.Error("IsBlocked() = false for wrapped BlockedError")
	}
}

func TestDecodeOptions(t *testing.T) {
	var opts struct {
		MinLength int `json:"minLength"`
	}
	if err := DecodeOptions(map[string]interface{}{"minLength": 10.0}, &opts); err != nil {
		t.Fatalf("Failed to decode options: %v", err)
	}
	if opts.MinLength != 10 {
		t.Errorf("MinLength = %d, want 10", opts.MinLength)
	}
}
