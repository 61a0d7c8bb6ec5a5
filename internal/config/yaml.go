package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// isYAMLPath reports whether path names a YAML config; anything else is JSON.
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// configJSON returns the config file as JSON, so YAML and JSON files share one
// strict decoder.
func configJSON(path string, data []byte) ([]byte, error) {
	if !isYAMLPath(path) {
		return data, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	v, err := yamlValue(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return json.Marshal(v)
}

// yamlValue converts a node into plain maps, slices and scalars. Mapping keys
// become strings. A key repeated in one mapping is an error; keys pulled in
// through "<<" merges never override explicit ones.
func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias)

	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		var merges []*yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, val := n.Content[i], n.Content[i+1]
			if k.Tag == "!!merge" {
				merges = append(merges, val)
				continue
			}
			if _, dup := out[k.Value]; dup {
				return nil, fmt.Errorf("line %d: key %q defined twice", k.Line, k.Value)
			}
			v, err := yamlValue(val)
			if err != nil {
				return nil, err
			}
			out[k.Value] = v
		}
		for _, m := range merges {
			if err := mergeInto(out, m); err != nil {
				return nil, err
			}
		}
		return out, nil

	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

func mergeInto(dst map[string]any, src *yaml.Node) error {
	if src.Kind == yaml.SequenceNode {
		for _, c := range src.Content {
			if err := mergeInto(dst, c); err != nil {
				return err
			}
		}
		return nil
	}
	v, err := yamlValue(src)
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("line %d: merge value is not a mapping", src.Line)
	}
	for k, mv := range m {
		if _, set := dst[k]; !set {
			dst[k] = mv
		}
	}
	return nil
}
