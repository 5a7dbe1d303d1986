package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formatter abstracts output formatting.
type Formatter interface {
	Write(w io.Writer, payload any) error
}

// JSONFormatter writes JSON output.
type JSONFormatter struct {
	Indent bool
}

// Write writes JSON payload to a writer.
func (f JSONFormatter) Write(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	if f.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(payload)
}

// YAMLFormatter writes YAML output.
type YAMLFormatter struct{}

// Write writes YAML payload to a writer. Raw JSON values are decoded first so
// they are emitted as YAML structures instead of byte strings.
func (f YAMLFormatter) Write(w io.Writer, payload any) error {
	value, err := yamlValue(payload)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return err
	}
	return enc.Close()
}

func yamlValue(payload any) (any, error) {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []json.RawMessage:
		out := make([]any, 0, len(v))
		for _, item := range v {
			decoded, err := yamlValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	default:
		return payload, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode json for yaml: %w", err)
	}
	return decoded, nil
}

// ByName returns the formatter for "json" or "yaml".
func ByName(name string) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONFormatter{Indent: true}, nil
	case "yaml", "yml":
		return YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (allowed: json, yaml)", name)
	}
}
