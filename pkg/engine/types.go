package engine

import (
	"strings"
	"time"
	"unicode"
)

// EnforcementLevel determines whether a failed policy blocks the deployment.
type EnforcementLevel string

const (
	// LevelError blocks the deployment when the policy fails.
	LevelError EnforcementLevel = "error"

	// LevelWarning records the failure without blocking.
	LevelWarning EnforcementLevel = "warning"
)

// Blocking reports whether a failure at this level blocks the deployment.
func (l EnforcementLevel) Blocking() bool {
	return l == LevelError
}

// Source identifies where a policy configuration was declared.
type Source string

const (
	// SourceLocal marks policies declared in the service's own safeguards block.
	SourceLocal Source = "local"

	// SourceRemote marks policies supplied by the pre-fetched remote catalog.
	SourceRemote Source = "remote"
)

// PolicyConfig is a loaded policy declaration. Immutable once loaded.
type PolicyConfig struct {
	// Name is the policy implementation name (the safeguard name).
	Name string `json:"name"`

	// Options is the opaque policy-specific configuration.
	Options interface{} `json:"options,omitempty"`

	// Source is where the declaration came from.
	Source Source `json:"source"`

	// EnforcementLevel decides whether a failure blocks.
	EnforcementLevel EnforcementLevel `json:"enforcement_level"`

	// Title is the display title used by the reporter.
	Title string `json:"title"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// DocsURL is the documentation link of the resolved implementation.
	DocsURL string `json:"docs_url,omitempty"`

	// Location is the override directory searched before the builtins.
	Location string `json:"location,omitempty"`
}

// RemotePolicy is an entry of the pre-fetched remote policy catalog.
type RemotePolicy struct {
	Title            string      `json:"title" yaml:"title" validate:"required"`
	SafeguardName    string      `json:"safeguardName" yaml:"safeguardName" validate:"required"`
	EnforcementLevel string      `json:"enforcementLevel" yaml:"enforcementLevel" validate:"required,oneof=error warning"`
	SafeguardConfig  interface{} `json:"safeguardConfig,omitempty" yaml:"safeguardConfig,omitempty"`
	Description      string      `json:"description,omitempty" yaml:"description,omitempty"`
	PolicyPath       string      `json:"policyPath,omitempty" yaml:"policyPath,omitempty"`
}

// ProviderContext carries the target provider settings a policy may consult.
type ProviderContext struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Region string `json:"region"`
}

// LambdaLogicalID returns the CloudFormation logical ID of a declared function.
func (p ProviderContext) LambdaLogicalID(functionName string) string {
	return NormalizeName(functionName) + "LambdaFunction"
}

// NormalizeName converts a declared name into its CloudFormation form:
// first letter upper-cased, "-" spelled "Dash", "_" spelled "Underscore".
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "-", "Dash")
	name = strings.ReplaceAll(name, "_", "Underscore")
	if name == "" {
		return name
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Snapshot is the read-only view of the service a policy evaluates.
type Snapshot struct {
	// Declaration is a deep copy of the service declaration.
	Declaration map[string]interface{} `json:"declaration"`

	// Compiled maps artifact file names to their parsed content.
	Compiled map[string]interface{} `json:"compiled"`

	// Provider is the provider context.
	Provider ProviderContext `json:"provider"`

	// FrameworkVersion is the version string of the deploying framework.
	FrameworkVersion string `json:"frameworkVersion"`
}

// Document returns the snapshot as a generic JSON-shaped object, the input
// handed to policies written in Rego, Starlark or WebAssembly.
func (s *Snapshot) Document() map[string]interface{} {
	return map[string]interface{}{
		"declaration": s.Declaration,
		"compiled":    s.Compiled,
		"provider": map[string]interface{}{
			"name":   s.Provider.Name,
			"stage":  s.Provider.Stage,
			"region": s.Provider.Region,
		},
		"frameworkVersion": s.FrameworkVersion,
	}
}

// CloudFormationTemplate is the artifact holding the compiled update stack.
const CloudFormationTemplate = "cloudformation-template-update-stack.json"

// Resources returns the Resources map of the compiled CloudFormation template.
func (s *Snapshot) Resources() map[string]interface{} {
	tpl := AsMap(s.Compiled[CloudFormationTemplate])
	return AsMap(tpl["Resources"])
}

// Functions returns the declared functions map.
func (s *Snapshot) Functions() map[string]interface{} {
	return AsMap(s.Declaration["functions"])
}

// ServiceName returns the declared service name.
func (s *Snapshot) ServiceName() string {
	switch v := s.Declaration["service"].(type) {
	case string:
		return v
	case map[string]interface{}:
		return AsString(v["name"])
	}
	if obj := AsMap(s.Declaration["serviceObject"]); obj != nil {
		return AsString(obj["name"])
	}
	return ""
}

// FunctionNameFor maps a CloudFormation logical ID back to its declared function name.
// It returns the logical ID unchanged when no declared function matches.
func (s *Snapshot) FunctionNameFor(logicalID string) string {
	if name, ok := s.DeclaredFunction(logicalID); ok {
		return name
	}
	return logicalID
}

// DeclaredFunction maps a CloudFormation logical ID to its declared function name.
func (s *Snapshot) DeclaredFunction(logicalID string) (string, bool) {
	for name := range s.Functions() {
		if s.Provider.LambdaLogicalID(name) == logicalID {
			return name, true
		}
	}
	return "", false
}

// Outcome is the per-policy classification produced by aggregation.
type Outcome string

const (
	OutcomePassed       Outcome = "passed"
	OutcomeWarned       Outcome = "warned"
	OutcomeFailed       Outcome = "failed"
	OutcomeInconclusive Outcome = "inconclusive"

	// OutcomeBlocked classifies a whole run with at least one blocking failure.
	OutcomeBlocked Outcome = "blocked"
)

// Result is the recorded outcome of one policy invocation. Write-once.
type Result struct {
	Config   PolicyConfig  `json:"config"`
	Approved bool          `json:"approved"`
	Failed   bool          `json:"failed"`
	Messages []string      `json:"messages,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome classifies the result according to its enforcement level.
func (r Result) Outcome() Outcome {
	switch {
	case r.Failed && r.Config.EnforcementLevel.Blocking():
		return OutcomeFailed
	case r.Failed:
		return OutcomeWarned
	case r.Approved:
		return OutcomePassed
	default:
		return OutcomeInconclusive
	}
}

// Message joins the accumulated failure messages.
func (r Result) Message() string {
	return strings.Join(r.Messages, " ")
}

// RunSummary is the aggregate of one safeguards run.
type RunSummary struct {
	Results      []Result `json:"results"`
	Passed       int      `json:"passed"`
	Warned       int      `json:"warned"`
	Failed       int      `json:"failed"`
	Inconclusive int      `json:"inconclusive"`
	Blocked      bool     `json:"blocked"`
}

// Outcome classifies the whole run: blocked, then warned, then inconclusive,
// otherwise passed.
func (s *RunSummary) Outcome() Outcome {
	switch {
	case s.Blocked:
		return OutcomeBlocked
	case s.Warned > 0:
		return OutcomeWarned
	case s.Inconclusive > 0:
		return OutcomeInconclusive
	default:
		return OutcomePassed
	}
}

// Violations returns the blocking failures in declaration order.
func (s *RunSummary) Violations() []Violation {
	var out []Violation
	for _, r := range s.Results {
		if r.Outcome() != OutcomeFailed {
			continue
		}
		out = append(out, Violation{
			Title:    r.Config.Title,
			Policy:   r.Config.Name,
			Messages: append([]string(nil), r.Messages...),
			DocsURL:  r.Config.DocsURL,
		})
	}
	return out
}
