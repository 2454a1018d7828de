package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is a daemon configuration document. Values nest the same way the
// rendered YAML nests.
type Config map[string]any

// merged lays every override on top of base. Override values win, nested
// maps merge key by key, and explicit zero values override too.
func merged(base Config, overrides ...Config) (Config, error) {
	out := Config{}
	if err := mergo.Merge(&out, base, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}
	for _, override := range overrides {
		if err := mergo.Merge(&out, override, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}
	return out, nil
}

// Decode fills a typed view of the document for assertions.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(c))
}

// YAML serializes the document. Map keys come out sorted, so the result is
// stable across runs.
func (c Config) YAML() ([]byte, error) {
	body, err := yaml.Marshal(map[string]any(c))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	return body, nil
}

// Render writes the document as YAML to dir/name and returns the path.
func (c Config) Render(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	body, err := c.YAML()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// LoadConfig reads a rendered YAML document back.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := Config{}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}
