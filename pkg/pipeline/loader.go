package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileNames are looked up, in order, at the root of a checkout.
var ConfigFileNames = []string{
	".cicadaci.yml",
	".cicadaci.yaml",
	"cicadaci.yml",
	"cicadaci.yaml",
}

var ErrConfigNotFound = errors.New("pipeline config file not found")

// Decode parses yaml without validating it. Unknown keys are rejected.
func Decode(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode pipeline config: empty document")
		}
		return nil, fmt.Errorf("decode pipeline config: %w", err)
	}
	return &def, nil
}

// Parse decodes and validates a pipeline document.
func Parse(data []byte) (*Definition, error) {
	def, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadFile reads, decodes and validates the file at path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// FindConfigFile returns the first conventional config file present in repoPath.
func FindConfigFile(repoPath string) (string, error) {
	for _, name := range ConfigFileNames {
		full := filepath.Join(repoPath, name)
		info, err := os.Stat(full)
		if err == nil && !info.IsDir() {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrConfigNotFound, repoPath)
}

// LoadFromWorkspace locates and loads the pipeline config of a checkout.
func LoadFromWorkspace(repoPath string) (*Definition, error) {
	path, err := FindConfigFile(repoPath)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}
