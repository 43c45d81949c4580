package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadDir parses every *.yaml file in dir and compiles the plans they
// define. A missing directory yields an empty set.
func LoadDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Set{Plans: map[string]*Plan{}}, nil
		}
		return nil, fmt.Errorf("read plans directory %q: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext != ".yaml" && ext != ".yml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	return LoadFiles(files...)
}

// LoadFiles parses and compiles the plans defined across files.
func LoadFiles(files ...string) (*Set, error) {
	var specs []Spec
	for _, path := range files {
		fileSpec, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fileSpec.Plans...)
	}

	set, err := CompileSpecs(specs)
	if err != nil {
		return nil, err
	}
	set.Files = append([]string(nil), files...)
	return set, nil
}

// LoadFile parses one plan YAML file.
func LoadFile(path string) (*FileSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %q: %w", path, err)
	}

	var fileSpec FileSpec
	if err := yaml.Unmarshal(data, &fileSpec); err != nil {
		return nil, fmt.Errorf("parse plan file %q: %w", path, err)
	}
	return &fileSpec, nil
}
