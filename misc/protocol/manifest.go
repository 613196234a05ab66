package protocol

import (
	_ "embed"
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

//go:embed manifest.yaml
var defaultManifest []byte

// Manifest is the on-disk description the registry is built from.
type Manifest struct {
	Default  string            `json:"default"`
	Versions []VersionManifest `json:"versions"`
}

type VersionManifest struct {
	Name     string          `json:"name"`
	Inherits string          `json:"inherits,omitempty"`
	Messages []MessageSchema `json:"messages"`
	Remove   []string        `json:"remove,omitempty"`
}

type MessageSchema struct {
	Name   string  `json:"name"`
	CmdID  uint16  `json:"cmd_id"`
	Fields []Field `json:"fields"`
}

type Field struct {
	Name   string `json:"name"`
	Number int32  `json:"number"`
	Type   Kind   `json:"type"`
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "parse protocol manifest")
	}
	return m, nil
}

// LoadManifest reads path, or the built-in manifest when path is empty.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return ParseManifest(defaultManifest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read protocol manifest")
	}
	return ParseManifest(data)
}
