package resource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"
)

// Manifest is the per-package description read from package.yaml.
type Manifest struct {
	Name            string   `yaml:"name" json:"name" hash:"ignore"`
	Version         string   `yaml:"version,omitempty" json:"version,omitempty" hash:"ignore"`
	Exports         []string `yaml:"exports" json:"exports"`
	Dependencies    []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	CompileFlags    string   `yaml:"compileFlags,omitempty" json:"compileFlags,omitempty"`
	LinkFlags       string   `yaml:"linkFlags,omitempty" json:"linkFlags,omitempty"`
	Preprocessor    string   `yaml:"preprocessor,omitempty" json:"preprocessor,omitempty"`
	FindlibPackages []string `yaml:"findlibPackages,omitempty" json:"findlibPackages,omitempty"`
}

// knownKeys lists the manifest keys, used to flag miscased spellings.
var knownKeys = []string{
	"name", "version", "exports", "dependencies", "compileFlags",
	"linkFlags", "preprocessor", "findlibPackages",
}

// parseManifest decodes a manifest, rejecting unknown keys.
func parseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return m, fmt.Errorf("manifest is empty")
		}
		return m, hintMiscased(data, err)
	}
	return m, nil
}

// hintMiscased improves a decode error when a key only differs from a known key by case.
func hintMiscased(data []byte, err error) error {
	var raw map[string]any
	if yaml.Unmarshal(data, &raw) != nil {
		return err
	}
	for key := range raw {
		if slices.Contains(knownKeys, key) {
			continue
		}
		for _, known := range knownKeys {
			if strings.EqualFold(key, known) {
				return fmt.Errorf("key %q should be spelled %q", key, known)
			}
		}
	}
	return err
}

// validate returns every problem with the manifest's contents.
// dirName is the directory the package was found under, or "" for the root package.
func (m Manifest) validate(dirName string) []string {
	var problems []string

	if m.Name == "" {
		problems = append(problems, "name is required")
	} else {
		if r, _ := utf8.DecodeRuneInString(m.Name); !unicode.IsUpper(r) {
			problems = append(problems, fmt.Sprintf("name %q must start with an uppercase letter", m.Name))
		}
		if dirName != "" && dirName != m.Name {
			problems = append(problems, fmt.Sprintf("name %q does not match directory %q", m.Name, dirName))
		}
	}

	if m.Exports == nil {
		problems = append(problems, "exports must be declared (use [] to export nothing)")
	}

	for _, flags := range []string{m.CompileFlags, m.LinkFlags} {
		if slices.Contains(strings.Fields(flags), "-g") {
			problems = append(problems, "debug flag -g is controlled by the build config, not package flags")
			break
		}
	}

	return problems
}

// digest returns a stable hash of the compilation-relevant manifest fields.
func (m Manifest) digest() (uint64, error) {
	return hashstructure.Hash(m, hashstructure.FormatV2, nil)
}
