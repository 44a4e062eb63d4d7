package snapshot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var provider = engine.ProviderContext{Name: "aws", Stage: "dev", Region: "us-east-1"}

func TestBuildCopiesDeclaration(t *testing.T) {
	functions := map[string]interface{}{
		"hello": map[string]interface{}{"handler": "handler.hello", "timeout": 6},
	}
	decl := map[string]interface{}{
		"service":    "orders",
		"functions":  functions,
		"serverless": map[string]interface{}{"internal": true},
	}

	snap, err := NewBuilder(zerolog.New(nil).Level(zerolog.Disabled)).Build(decl, nil, provider, "3.38.0")
	require.NoError(t, err)

	assert.NotContains(t, snap.Declaration, "serverless")
	assert.Equal(t, "orders", snap.ServiceName())
	assert.Equal(t, 6.0, engine.Lookup(snap.Declaration, "functions", "hello", "timeout"))
	assert.Equal(t, "3.38.0", snap.FrameworkVersion)
	assert.Equal(t, provider, snap.Provider)

	// Mutating the snapshot leaves the caller's declaration untouched.
	engine.AsMap(snap.Functions()["hello"])["handler"] = "changed"
	assert.Equal(t, "handler.hello", engine.Lookup(decl, "functions", "hello", "handler"))
	assert.Contains(t, decl, "serverless")
}

func TestBuildCopiesTypedContainers(t *testing.T) {
	regions := []string{"us-east-1"}
	tags := map[string]string{"team": "orders"}
	decl := map[string]interface{}{
		"provider": map[string]interface{}{"regions": regions, "tags": tags},
		"limits":   map[string]int32{"timeout": 30},
	}

	snap, err := Build(decl, nil, provider, "")
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"us-east-1"}, engine.Lookup(snap.Declaration, "provider", "regions"))
	assert.Equal(t, "orders", engine.Lookup(snap.Declaration, "provider", "tags", "team"))
	assert.Equal(t, 30.0, engine.Lookup(snap.Declaration, "limits", "timeout"))

	engine.AsSlice(engine.Lookup(snap.Declaration, "provider", "regions"))[0] = "eu-west-1"
	engine.AsMap(engine.Lookup(snap.Declaration, "provider", "tags"))["team"] = "changed"
	assert.Equal(t, "us-east-1", regions[0])
	assert.Equal(t, "orders", tags["team"])
}

func TestBuildDropsCycles(t *testing.T) {
	custom := map[string]interface{}{"name": "custom"}
	decl := map[string]interface{}{"custom": custom}
	custom["self"] = decl

	list := []interface{}{"a"}
	holder := map[string]interface{}{"list": list}
	list = append(list, holder)
	holder["list"] = list
	decl["holder"] = holder

	snap, err := Build(decl, nil, provider, "")
	require.NoError(t, err)

	assert.Equal(t, "custom", engine.Lookup(snap.Declaration, "custom", "name"))
	assert.NotContains(t, engine.AsMap(snap.Declaration["custom"]), "self")
	assert.Equal(t, []interface{}{"a"}, engine.Lookup(snap.Declaration, "holder", "list"))
}

func TestBuildParsesArtifacts(t *testing.T) {
	artifacts := map[string][]byte{
		engine.CloudFormationTemplate: []byte(`{"Resources": {"HelloLambdaFunction": {"Type": "AWS::Lambda::Function"}}}`),
		"extra.YAML":                  []byte("key: value\ncount: 3\n"),
		"serverless-state.yml":        []byte("service: orders\n"),
		"orders.zip":                  []byte("PK\x03\x04"),
		"README":                      []byte("not parsed"),
	}

	snap, err := Build(nil, artifacts, provider, "")
	require.NoError(t, err)

	assert.Len(t, snap.Compiled, 3)
	assert.Contains(t, snap.Resources(), "HelloLambdaFunction")
	assert.Equal(t, 3.0, engine.Lookup(snap.Compiled["extra.YAML"], "count"))
	assert.NotContains(t, snap.Compiled, "orders.zip")
	assert.NotNil(t, snap.Declaration)
}

func TestBuildArtifactParseError(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		contents string
	}{
		{name: "json", file: "cloudformation-template-create-stack.json", contents: `{"Resources": `},
		{name: "yaml", file: "broken.yml", contents: "key: [unterminated\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifacts := map[string][]byte{
				"ok.json": []byte(`{}`),
				tt.file:   []byte(tt.contents),
			}

			_, err := Build(nil, artifacts, provider, "")
			require.Error(t, err)
			assert.True(t, engine.IsArtifactParseError(err))
			assert.Contains(t, err.Error(), tt.file)
		})
	}
}

func TestYAMLShortFormTags(t *testing.T) {
	doc := `
Resources:
  Bucket:
    Type: AWS::S3::Bucket
  Policy:
    Properties:
      Bucket: !Ref Bucket
      Arn: !GetAtt Bucket.Arn
      Name: !Sub "${AWS::StackName}-bucket"
      Joined: !Join
        - ":"
        - - a
          - !Ref AWS::Region
      Selected: !Select [0, !GetAZs ""]
      Enabled: !Condition IsProd
`
	v, err := parseYAML([]byte(doc))
	require.NoError(t, err)

	props := engine.Lookup(v, "Resources", "Policy", "Properties")
	assert.Equal(t, map[string]interface{}{"Ref": "Bucket"}, engine.Lookup(props, "Bucket"))
	assert.Equal(t, map[string]interface{}{"Fn::GetAtt": []interface{}{"Bucket", "Arn"}}, engine.Lookup(props, "Arn"))
	assert.Equal(t, map[string]interface{}{"Fn::Sub": "${AWS::StackName}-bucket"}, engine.Lookup(props, "Name"))
	assert.Equal(t, map[string]interface{}{
		"Fn::Join": []interface{}{":", []interface{}{"a", map[string]interface{}{"Ref": "AWS::Region"}}},
	}, engine.Lookup(props, "Joined"))
	assert.Equal(t, map[string]interface{}{
		"Fn::Select": []interface{}{0.0, map[string]interface{}{"Fn::GetAZs": ""}},
	}, engine.Lookup(props, "Selected"))
	assert.Equal(t, map[string]interface{}{"Condition": "IsProd"}, engine.Lookup(props, "Enabled"))
}

func TestYAMLAnchorsAndMerge(t *testing.T) {
	doc := `
defaults: &defaults
  runtime: nodejs18.x
  memorySize: 512
functions:
  hello:
    <<: *defaults
    memorySize: 1024
  tags: *defaults
`
	v, err := parseYAML([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "nodejs18.x", engine.Lookup(v, "functions", "hello", "runtime"))
	assert.Equal(t, 1024.0, engine.Lookup(v, "functions", "hello", "memorySize"))
	assert.Equal(t, 512.0, engine.Lookup(v, "functions", "tags", "memorySize"))
}

func TestBuildRejectsRecursiveAnchors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "mapping", doc: "a: &x\n  b: *x\n"},
		{name: "sequence", doc: "a: &x [1, *x]\n"},
		{name: "merge", doc: "a: &x\n  <<: *x\n  b: 1\n"},
		{name: "short form", doc: "a: &x !Sub\n  b: *x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(nil, map[string][]byte{"loop.yml": []byte(tt.doc)}, engine.ProviderContext{}, "")
			require.Error(t, err)
			assert.True(t, engine.IsArtifactParseError(err))
			assert.Contains(t, err.Error(), "contains itself")
		})
	}
}

func TestBuildRejectsAliasBomb(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for level := 1; level < 7; level++ {
		prev := fmt.Sprintf("*l%d", level-1)
		items := make([]string, 10)
		for i := range items {
			items[i] = prev
		}
		fmt.Fprintf(&doc, "l%d: &l%d [%s]\n", level, level, strings.Join(items, ", "))
	}

	start := time.Now()
	_, err := Build(nil, map[string][]byte{"bomb.yml": []byte(doc.String())}, engine.ProviderContext{}, "")
	require.Error(t, err)
	assert.True(t, engine.IsArtifactParseError(err))
	assert.Contains(t, err.Error(), "excessive aliasing")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestParseRejectsRecursiveDeclaration(t *testing.T) {
	_, err := Parse("serverless.yml", []byte("service: &s\n  name: *s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains itself")
}

func TestYAMLEmptyDocument(t *testing.T) {
	v, err := parseYAML(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestIsArtifact(t *testing.T) {
	assert.True(t, IsArtifact("a.json"))
	assert.True(t, IsArtifact("dir/B.YML"))
	assert.True(t, IsArtifact("c.yaml"))
	assert.False(t, IsArtifact("d.zip"))
	assert.False(t, IsArtifact("json"))
}

func TestParse(t *testing.T) {
	v, err := Parse("serverless.yml", []byte("service: orders\nfunctions:\n  hello:\n    handler: h.hello\n"))
	require.NoError(t, err)
	assert.Equal(t, "h.hello", engine.Lookup(v, "functions", "hello", "handler"))

	_, err = Parse("serverless.ts", []byte("export default {}"))
	assert.Error(t, err)
}
