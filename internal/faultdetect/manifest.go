package faultdetect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelSet is one named, installed collection of model files (§6.5):
// cnn.proto, protonet.proto, multiclass.proto, spatial.proto, and a Z-mask
// table, all living under Dir.
type ModelSet struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

// Manifest is the human-edited list of installed model sets a device
// carries; the control server's model_set selector reads names from here.
type Manifest struct {
	Sets []ModelSet `yaml:"model_sets"`
}

// LoadManifest reads a YAML manifest file listing installed model sets.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("faultdetect: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("faultdetect: parse manifest: %w", err)
	}
	return &m, nil
}

// Dir returns the directory for the named model set, or "" if absent.
func (m *Manifest) Dir(name string) string {
	for _, s := range m.Sets {
		if s.Name == name {
			return s.Dir
		}
	}
	return ""
}
