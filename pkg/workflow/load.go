package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a workflow definition from a .yaml, .yml or .json file
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported workflow file extension: %s", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML workflow definition
func ParseYAML(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	return finish(&wf)
}

// ParseJSON decodes a JSON workflow export
func ParseJSON(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow JSON: %w", err)
	}
	return finish(&wf)
}

func finish(wf *Workflow) (*Workflow, error) {
	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node name cannot be empty")
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate node name: %s", n.Name)
		}
		seen[n.Name] = true
	}
	for i := range wf.Connections {
		if wf.Connections[i].Type == "" {
			wf.Connections[i].Type = ConnectionMain
		}
	}
	return wf, nil
}
