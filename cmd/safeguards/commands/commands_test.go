package commands

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/rs/zerolog"
)

const testDeclaration = `service: orders
provider:
  name: aws
  stage: dev
functions:
  hello:
    handler: handler.hello
custom:
  safeguards:
    policies:
      - require-dlq
`

const testTemplate = `{"Resources": {"HelloLambdaFunction": {"Type": "AWS::Lambda::Function", "Properties": {"FunctionName": "orders-dev-hello"}}}}`

func writeService(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "serverless.yml"), []byte(testDeclaration), 0o644); err != nil {
		t.Fatalf("Failed to write declaration: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".serverless"), 0o755); err != nil {
		t.Fatalf("Failed to create artifacts dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".serverless", engine.CloudFormationTemplate), []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}
	return dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	configPath, servicePath, verbose, jsonOutput = "", ".", false, false
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRunCommandBlocks(t *testing.T) {
	dir := writeService(t)

	err := execute(t, "run", "--service", dir)
	if !engine.IsBlocked(err) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if !strings.Contains(err.Error(), "require-dlq") {
		t.Errorf("error should name the failing policy: %v", err)
	}
}

func TestRunCommandRecordsHistory(t *testing.T) {
	dir := writeService(t)
	cfg := filepath.Join(t.TempDir(), "safeguards.yml")
	content := "store:\n  path: " + filepath.Join(t.TempDir(), "history.db") + "\ntelemetry:\n  logging:\n    level: error\n"
	if err := os.WriteFile(cfg, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if err := execute(t, "run", "--config", cfg, "--service", dir); !engine.IsBlocked(err) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if err := execute(t, "history", "list", "--config", cfg); err != nil {
		t.Fatalf("Failed to list history: %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := writeService(t)

	if err := execute(t, "validate", "--service", dir); err != nil {
		t.Fatalf("Failed to validate: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "serverless.yml"), []byte("service: orders\ncustom:\n  safeguards:\n    policies:\n      - missing-policy\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite declaration: %v", err)
	}
	if err := execute(t, "validate", "--service", dir); !engine.IsLoadError(err) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	if err := execute(t, "history", "list"); err == nil {
		t.Fatal("expected an error when no store is configured")
	}
}

func TestSchemaCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "settings.schema.json")

	if err := execute(t, "schema", "settings", "-o", out); err != nil {
		t.Fatalf("Failed to generate schema: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if !strings.Contains(string(data), "isDisabled") {
		t.Errorf("schema should describe isDisabled:\n%s", data)
	}

	if err := execute(t, "schema", "unknown"); err == nil {
		t.Fatal("expected an error for an unknown schema")
	}
}

func TestWatchTargetsIncludeDefaultLocation(t *testing.T) {
	dir := writeService(t)
	a := &app{cfg: &config.AppConfig{}, logger: zerolog.Nop()}

	targets := watchTargets(a, dir)

	var location *policy.Target
	for i := range targets {
		if targets[i].Path == filepath.Join(dir, ".") {
			location = &targets[i]
		}
	}
	if location == nil {
		t.Fatalf("expected the service dir among watch targets, got %+v", targets)
	}
	if !location.Shallow {
		t.Error("expected the service dir to be watched at the top level only")
	}
	if len(location.Extensions) != len(policy.OverrideExtensions) {
		t.Errorf("expected override extensions, got %v", location.Extensions)
	}

	paths := make([]string, 0, len(targets))
	for _, target := range targets {
		paths = append(paths, target.Path)
	}
	for _, want := range []string{filepath.Join(dir, "serverless.yml"), filepath.Join(dir, ".serverless")} {
		if !slices.Contains(paths, want) {
			t.Errorf("expected %s among watch targets %v", want, paths)
		}
	}
}
