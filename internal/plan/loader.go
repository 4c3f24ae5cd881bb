package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Format selects the document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFor picks a format from a file name. Anything but .cue is YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return FormatCUE
	}
	return FormatYAML
}

// LoadFile reads and parses a pipeline document.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	return Load(data, FormatFor(path))
}

// Load parses document bytes in the given format.
func Load(data []byte, format Format) (*Document, error) {
	if format == FormatCUE {
		var err error
		if data, err = cueToJSON(data); err != nil {
			return nil, err
		}
	}
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", format, err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("pipeline has no name")
	}
	if len(d.Steps) == 0 {
		return nil, fmt.Errorf("pipeline has no steps")
	}
	return &d, nil
}

// cueToJSON evaluates a CUE document and exports it as JSON, which the YAML
// decoder reads as-is. The document must be concrete.
func cueToJSON(data []byte) ([]byte, error) {
	v := cuecontext.New().CompileBytes(data)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("invalid cue: %v", err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cue: %v", err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("exporting cue: %v", err)
	}
	return out, nil
}
