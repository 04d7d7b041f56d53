package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a task definition. The format is chosen by extension:
// .yaml/.yml, .toml or .json.
func Load(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	t, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a task definition in the format named by ext.
func Parse(data []byte, ext string) (*Task, error) {
	var t Task
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported task file extension %q (use .yaml, .toml or .json)", ext)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadAll loads several task files, failing on the first invalid one.
// Duplicate IDs are rejected since each task owns its workspace.
func LoadAll(paths []string) ([]*Task, error) {
	seen := make(map[string]string, len(paths))
	tasks := make([]*Task, 0, len(paths))
	for _, p := range paths {
		t, err := Load(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q in %s and %s", t.ID, prev, p)
		}
		seen[t.ID] = p
		tasks = append(tasks, t)
	}
	return tasks, nil
}
