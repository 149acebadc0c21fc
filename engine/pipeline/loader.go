package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a pipeline document. JSON is accepted as a subset of YAML.
func Load(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, fmt.Errorf("empty pipeline document")
		}
		return p, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	return p, nil
}

func LoadFile(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("failed to open pipeline file: %w", err)
	}
	defer f.Close()
	p, err := Load(f)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
