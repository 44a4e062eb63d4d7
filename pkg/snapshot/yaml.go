package snapshot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/safeguards/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Alias expansion limits, matching the ratios yaml.v3 applies when decoding
// into Go values.
const (
	aliasRatioRangeLow  = 400000
	aliasRatioRangeHigh = 4000000
	aliasMinNodes       = 1000
	aliasMinExpanded    = 100
)

var errExcessiveAliasing = errors.New("document contains excessive aliasing")

// parseYAML decodes a YAML document, expanding CloudFormation short-form
// tags such as !Ref and !GetAtt into their long form.
func parseYAML(data []byte) (interface{}, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	d := &yamlDecoder{expanding: make(map[*yaml.Node]bool)}
	v, err := d.convertNode(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return engine.Normalize(v), nil
}

// yamlDecoder converts a node tree into generic values. It tracks the
// anchors being expanded and counts nodes produced through aliases.
type yamlDecoder struct {
	expanding  map[*yaml.Node]bool
	aliasDepth int
	nodes      int
	aliased    int
}

// allowedAliasRatio returns the share of nodes that may come from alias
// expansion once nodes have been decoded.
func allowedAliasRatio(nodes int) float64 {
	switch {
	case nodes <= aliasRatioRangeLow:
		return 0.99
	case nodes >= aliasRatioRangeHigh:
		return 0.10
	default:
		return 0.99 - 0.89*(float64(nodes-aliasRatioRangeLow)/float64(aliasRatioRangeHigh-aliasRatioRangeLow))
	}
}

func (d *yamlDecoder) count() error {
	d.nodes++
	if d.aliasDepth > 0 {
		d.aliased++
	}
	if d.aliased > aliasMinExpanded && d.nodes > aliasMinNodes &&
		float64(d.aliased)/float64(d.nodes) > allowedAliasRatio(d.nodes) {
		return errExcessiveAliasing
	}
	return nil
}

func (d *yamlDecoder) convertNode(n *yaml.Node) (interface{}, error) {
	if err := d.count(); err != nil {
		return nil, err
	}
	if n.Anchor != "" {
		if d.expanding[n] {
			return nil, fmt.Errorf("line %d: anchor %q value contains itself", n.Line, n.Anchor)
		}
		d.expanding[n] = true
		defer delete(d.expanding, n)
	}
	if isShortForm(n.Tag) {
		return d.convertShortForm(n)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return d.convertNode(n.Content[0])

	case yaml.MappingNode:
		out := make(map[string]interface{}, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Tag == "!!merge" || (key.Value == "<<" && key.Style == 0) {
				if err := d.mergeInto(out, value); err != nil {
					return nil, err
				}
				continue
			}
			v, err := d.convertNode(value)
			if err != nil {
				return nil, err
			}
			out[key.Value] = v
		}
		return out, nil

	case yaml.SequenceNode:
		out := make([]interface{}, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := d.convertNode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, errors.New("unresolved alias")
		}
		d.aliasDepth++
		defer func() { d.aliasDepth-- }()
		return d.convertNode(n.Alias)

	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}

	return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
}

// mergeInto applies a "<<" merge key; existing keys win.
func (d *yamlDecoder) mergeInto(out map[string]interface{}, n *yaml.Node) error {
	sources := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		sources = n.Content
	}
	for _, src := range sources {
		v, err := d.convertNode(src)
		if err != nil {
			return err
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("line %d: merge value is not a mapping", src.Line)
		}
		for k, item := range m {
			if _, exists := out[k]; !exists {
				out[k] = item
			}
		}
	}
	return nil
}

// isShortForm reports whether tag is a local tag such as !Ref.
func isShortForm(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!")
}

func (d *yamlDecoder) convertShortForm(n *yaml.Node) (interface{}, error) {
	name := strings.TrimPrefix(n.Tag, "!")
	key := "Fn::" + name
	if name == "Ref" || name == "Condition" {
		key = name
	}

	if n.Kind == yaml.ScalarNode {
		if name == "GetAtt" {
			resource, attribute, _ := strings.Cut(n.Value, ".")
			return map[string]interface{}{key: []interface{}{resource, attribute}}, nil
		}
		return map[string]interface{}{key: n.Value}, nil
	}

	inner := *n
	inner.Tag = ""
	inner.Anchor = ""
	v, err := d.convertNode(&inner)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{key: v}, nil
}
