package flow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrFlowNotFound is returned when an import cannot be resolved to a file.
var ErrFlowNotFound = errors.New("flow not found")

// Parse decodes one flow declaration. Structural problems (a step that is
// not a single-key object, a wrongly typed parameter) fail here; semantic
// problems inside a known step kind are left to execution so a script with
// one bad step still runs up to it.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	if len(f.Steps) == 0 && len(f.Imports) == 0 {
		return nil, errors.New("flow has no steps and no imports")
	}
	return &f, nil
}

// Load reads a flow from disk. A declaration without a name takes the file
// stem as its name.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Name == "" {
		base := filepath.Base(path)
		f.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return f, nil
}

// Resolve maps a flow reference from an imports list to a file under dir.
// References may carry their own extension; bare names try .yaml then .yml.
func Resolve(dir, ref string) (string, error) {
	candidates := []string{ref}
	if filepath.Ext(ref) == "" {
		candidates = []string{ref + ".yaml", ref + ".yml"}
	}
	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrFlowNotFound, ref, dir)
}
