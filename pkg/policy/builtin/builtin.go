// Package builtin provides the safeguard policies shipped with the engine.
package builtin

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
)

// Env is the ambient state builtin policies may consult.
type Env struct {
	// Now returns the current time. Used by restricted-deploy-times.
	Now func() time.Time

	// LookupEnv reads the deploying process environment. Used by required-env-vars.
	LookupEnv func(key string) (string, bool)

	// Location is the time zone for deploy windows given without an offset.
	Location *time.Location
}

// DefaultEnv returns an Env backed by the system clock and process environment.
func DefaultEnv() Env {
	return Env{
		Now:       time.Now,
		LookupEnv: os.LookupEnv,
		Location:  time.Local,
	}
}

func (e Env) withDefaults() Env {
	d := DefaultEnv()
	if e.Now == nil {
		e.Now = d.Now
	}
	if e.LookupEnv == nil {
		e.LookupEnv = d.LookupEnv
	}
	if e.Location == nil {
		e.Location = d.Location
	}
	return e
}

// Definitions returns every builtin policy bound to env.
func Definitions(env Env) []*engine.Definition {
	env = env.withDefaults()

	return []*engine.Definition{
		{
			Name:        "allowed-function-names",
			DocsURL:     "http://slss.io/sg-allowed-function-names",
			Description: "Deployed function names must match a naming template",
			Func:        allowedFunctionNames,
		},
		{
			Name:        "allowed-regions",
			DocsURL:     "http://slss.io/sg-allowed-regions",
			Description: "The target region must be in the permitted list",
			Func:        allowedRegions,
		},
		{
			Name:        "allowed-runtimes",
			DocsURL:     "http://slss.io/sg-allowed-runtimes",
			Description: "Every function runtime must be in the permitted list",
			Func:        allowedRuntimes,
		},
		{
			Name:        "allowed-stages",
			DocsURL:     "http://slss.io/sg-allowed-stages",
			Description: "The target stage must match a pattern or a permitted list",
			Func:        allowedStages,
		},
		{
			Name:        "custom-query",
			DocsURL:     "http://slss.io/sg-custom-policy",
			Description: "Every configured Rego query must hold against the snapshot",
			Func:        customQuery,
		},
		{
			Name:        "forbid-lambda-apig-integration",
			DocsURL:     "http://slss.io/sg-forbid-lambda-apig-integration",
			Description: "HTTP events must use a proxy integration",
			Func:        forbidLambdaAPIGIntegration,
		},
		{
			Name:        "forbid-s3-http-access",
			DocsURL:     "http://slss.io/sg-forbid-s3-http-access",
			Description: "Every bucket needs a policy denying insecure transport",
			Func:        forbidS3HTTPAccess,
		},
		{
			Name:        "framework-version",
			DocsURL:     "http://slss.io/sg-framework-version",
			Description: "The framework version must satisfy a semver range",
			Func:        frameworkVersion,
		},
		{
			Name:        "no-secret-env-vars",
			DocsURL:     "http://slss.io/sg-no-secret-env-vars",
			Description: "Function environment variables must not look like secrets",
			Func:        noSecretEnvVars,
		},
		{
			Name:        "no-wild-iam-role-statements",
			DocsURL:     "http://slss.io/sg-no-wild-iam-role",
			Description: "IAM role statements must not grant wildcard actions or resources",
			Func:        noWildIAMRoleStatements,
		},
		{
			Name:        "require-cfn-role",
			DocsURL:     "http://slss.io/sg-require-cfn-role",
			Description: "The provider must declare a CloudFormation service role",
			Func:        requireCfnRole,
		},
		{
			Name:        "require-description",
			DocsURL:     "http://slss.io/sg-require-desc",
			Description: "Every function needs a description of bounded length",
			Func:        requireDescription,
		},
		{
			Name:        "require-dlq",
			DocsURL:     "http://slss.io/sg-require-dlq",
			Description: "Asynchronously invoked functions need a dead letter queue",
			Func:        requireDLQ,
		},
		{
			Name:        "require-global-vpc",
			DocsURL:     "http://slss.io/sg-require-global-vpc",
			Description: "Every function must run in a VPC with enough subnets",
			Func:        requireGlobalVPC,
		},
		{
			Name:        "required-env-vars",
			DocsURL:     "http://slss.io/sg-required-env-vars",
			Description: "The deploying environment must set matching variables",
			Func:        requiredEnvVars(env),
		},
		{
			Name:        "required-stack-tags",
			DocsURL:     "http://slss.io/sg-required-stack-tags",
			Description: "The stack must carry matching tags",
			Func:        requiredStackTags,
		},
		{
			Name:        "restricted-deploy-times",
			DocsURL:     "http://slss.io/sg-deploy-times",
			Description: "Deployments are forbidden inside configured windows",
			Func:        restrictedDeployTimes(env),
		},
	}
}

// lambdaFunctionType is the CloudFormation type of a deployed function.
const lambdaFunctionType = "AWS::Lambda::Function"

// requireResources returns the compiled CloudFormation resources.
// Policies that inspect the template cannot run without it.
func requireResources(snap *engine.Snapshot) (map[string]interface{}, error) {
	tpl := engine.AsMap(snap.Compiled[engine.CloudFormationTemplate])
	if tpl == nil {
		return nil, fmt.Errorf("compiled artifact %s not found", engine.CloudFormationTemplate)
	}
	return engine.AsMap(tpl["Resources"]), nil
}

// resourcesOfType iterates resources of one CloudFormation type.
func resourcesOfType(resources map[string]interface{}, typ string, fn func(logicalID string, properties map[string]interface{})) {
	for _, id := range sortedKeys(resources) {
		res := engine.AsMap(resources[id])
		if engine.AsString(res["Type"]) != typ {
			continue
		}
		props := engine.AsMap(res["Properties"])
		if props == nil {
			props = map[string]interface{}{}
		}
		fn(id, props)
	}
}

// jsRegexp renders a pattern the way a JavaScript RegExp prints.
func jsRegexp(re *regexp.Regexp) string {
	return "/" + re.String() + "/"
}
