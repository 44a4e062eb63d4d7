package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/safeguards/pkg/engine"
)

const (
	bucketType       = "AWS::S3::Bucket"
	bucketPolicyType = "AWS::S3::BucketPolicy"
	iamRoleType      = "AWS::IAM::Role"
)

// forbidS3HTTPAccess requires each bucket to have a policy whose first statement
// denies every S3 action over insecure transport.
func forbidS3HTTPAccess(_ context.Context, h engine.Handle, snap *engine.Snapshot, _ interface{}) error {
	resources, err := requireResources(snap)
	if err != nil {
		return err
	}

	type bucketPolicy struct {
		resource   map[string]interface{}
		properties map[string]interface{}
	}
	var policies []bucketPolicy
	resourcesOfType(resources, bucketPolicyType, func(id string, props map[string]interface{}) {
		policies = append(policies, bucketPolicy{resource: engine.AsMap(resources[id]), properties: props})
	})

	failed := false
	resourcesOfType(resources, bucketType, func(bucketID string, bucketProps map[string]interface{}) {
		bucketName := engine.AsString(bucketProps["BucketName"])
		if bucketName == "" {
			bucketName = engine.AsString(bucketProps["Name"])
		}

		for _, p := range policies {
			if !policyTargetsBucket(p.properties["Bucket"], bucketID, bucketName) {
				continue
			}
			doc := engine.AsMap(p.properties["PolicyDocument"])
			if doc == nil {
				doc = engine.AsMap(p.resource["PolicyDocument"])
			}
			if deniesInsecureTransport(doc, bucketID, bucketName) {
				return
			}
		}

		failed = true
		h.Fail(fmt.Sprintf("Bucket %q doesn't have a BucketPolicy forbidding unsecure HTTP access.", bucketID))
	})

	if !failed {
		h.Approve()
	}
	return nil
}

func policyTargetsBucket(target interface{}, bucketID, bucketName string) bool {
	if ref := engine.AsString(engine.Lookup(target, "Ref")); ref != "" {
		return ref == bucketID
	}
	name, ok := target.(string)
	return ok && name == bucketName
}

func deniesInsecureTransport(doc map[string]interface{}, bucketID, bucketName string) bool {
	statements := engine.AsSlice(doc["Statement"])
	if len(statements) == 0 {
		return false
	}
	stmt := engine.AsMap(statements[0])
	if engine.AsString(stmt["Action"]) != "s3:*" ||
		engine.AsString(stmt["Effect"]) != "Deny" ||
		engine.AsString(stmt["Principal"]) != "*" {
		return false
	}

	if join := engine.AsSlice(engine.Lookup(stmt["Resource"], "Fn::Join")); join != nil {
		if len(join) != 2 || engine.AsString(join[0]) != "" {
			return false
		}
		parts := engine.AsSlice(join[1])
		if len(parts) != 3 ||
			engine.AsString(parts[0]) != "arn:aws:s3:::" ||
			engine.AsString(engine.Lookup(parts[1], "Ref")) != bucketID ||
			engine.AsString(parts[2]) != "/*" {
			return false
		}
	} else if engine.AsString(stmt["Resource"]) != "arn:aws:s3:::"+bucketName+"/*" {
		return false
	}

	switch secure := engine.Lookup(stmt, "Condition", "Bool", "aws:SecureTransport").(type) {
	case bool:
		return !secure
	case string:
		return secure == "false"
	}
	return false
}

var subVariable = regexp.MustCompile(`\$\{[^$]*\}`)

// noWildIAMRoleStatements rejects role statements granting wildcard actions,
// resources, services or resource types. Deny statements are ignored.
func noWildIAMRoleStatements(_ context.Context, h engine.Handle, snap *engine.Snapshot, _ interface{}) error {
	resources, err := requireResources(snap)
	if err != nil {
		return err
	}

	failed := false
	fail := func(msg string) {
		failed = true
		h.Fail(msg)
	}

	resourcesOfType(resources, iamRoleType, func(_ string, props map[string]interface{}) {
		for _, p := range engine.AsSlice(props["Policies"]) {
			for _, s := range engine.AsSlice(engine.Lookup(p, "PolicyDocument", "Statement")) {
				stmt := engine.AsMap(s)
				if engine.AsString(stmt["Effect"]) == "Deny" {
					continue
				}

				for _, action := range engine.AsStrings(stmt["Action"]) {
					if action == "*" {
						fail("iamRoleStatement granting Action='*'. Wildcard actions in iamRoleStatements are not permitted.")
					}
					if parts := strings.Split(action, ":"); len(parts) > 1 && parts[1] == "*" {
						fail(fmt.Sprintf("iamRoleStatement granting Action='%s'. Wildcard actions in iamRoleStatements are not permitted.", action))
					}
				}

				raw := stmt["Resource"]
				list, ok := raw.([]interface{})
				if !ok {
					list = []interface{}{raw}
				}
				for _, res := range list {
					str, ok := resourceString(res)
					if !ok {
						// Ref and Fn::GetAtt cannot be resolved statically.
						continue
					}
					if str == "*" {
						fail("iamRoleStatement granting Resource='*'. Wildcard resources in iamRoleStatements are not permitted.")
						continue
					}
					if wildArn(str) {
						fail(fmt.Sprintf("iamRoleStatement granting Resource=%s. Wildcard resources or resourcetypes in iamRoleStatements are not permitted.", jsonValue(res)))
					}
				}
			}
		}
	})

	if !failed {
		h.Approve()
	}
	return nil
}

// resourceString flattens a statement resource. Fn::Join parts and Fn::Sub
// placeholders that cannot be resolved are spelled "variable".
func resourceString(res interface{}) (string, bool) {
	switch v := res.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		if join := engine.AsSlice(v["Fn::Join"]); len(join) == 2 {
			sep := engine.AsString(join[0])
			var parts []string
			for _, part := range engine.AsSlice(join[1]) {
				if s, ok := part.(string); ok {
					parts = append(parts, s)
				} else {
					parts = append(parts, "variable")
				}
			}
			return strings.Join(parts, sep), true
		}
		switch sub := v["Fn::Sub"].(type) {
		case string:
			return subVariable.ReplaceAllString(sub, "variable"), true
		case []interface{}:
			if len(sub) > 0 {
				return subVariable.ReplaceAllString(engine.AsString(sub[0]), "variable"), true
			}
		}
	}
	return "", false
}

// wildArn checks the service, resource type and resource fields of an ARN.
func wildArn(arn string) bool {
	fields := strings.Split(arn, ":")
	for _, i := range []int{2, 5, 6} {
		if i < len(fields) && fields[i] == "*" {
			return true
		}
	}
	return false
}

func jsonValue(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
