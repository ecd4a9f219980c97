package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// envRef matches ${NAME}. Bare $NAME is left alone so commands keep any
// literal dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func sourceFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// toJSON turns a config file of either format into JSON for the strict
// decoder, expanding ${NAME} references in string values from the
// environment. A reference to an unset variable is an error, so a missing
// secret fails the load instead of becoming an empty password.
func toJSON(path string, data []byte) ([]byte, string, error) {
	format := sourceFormat(path)

	var tree any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, format, fmt.Errorf("yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, format, fmt.Errorf("json: %w", err)
		}
		if dec.More() {
			return nil, format, fmt.Errorf("invalid config: trailing data")
		}
	}

	tree, err := resolve(tree, "")
	if err != nil {
		return nil, format, err
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, format, fmt.Errorf("%s->json: %w", format, err)
	}
	return out, format, nil
}

// resolve walks a decoded tree: map keys must be strings and string values
// get ${NAME} expansion. at is the dotted path used in errors.
func resolve(node any, at string) (any, error) {
	switch x := node.(type) {
	case map[string]any:
		for k, v := range x {
			r, err := resolve(v, join(at, k))
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is not a string", orRoot(at), k)
			}
			r, err := resolve(v, join(at, key))
			if err != nil {
				return nil, err
			}
			m[key] = r
		}
		return m, nil
	case []any:
		for i, v := range x {
			r, err := resolve(v, fmt.Sprintf("%s[%d]", orRoot(at), i))
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	case string:
		return expandEnv(x, at)
	default:
		return node, nil
	}
}

func expandEnv(s, at string) (string, error) {
	var missing string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%s: environment variable %s is not set", orRoot(at), missing)
	}
	return out, nil
}

func join(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}
