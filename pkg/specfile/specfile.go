// SPDX-License-Identifier: MPL-2.0

// Package specfile parses coldwrap build-spec files: CUE documents describing
// the applications to package and how.
package specfile

import (
	_ "embed"
	"fmt"
	"os"

	"coldwrap/pkg/cueutil"
	"coldwrap/pkg/manifest"
)

//go:embed schema.cue
var specSchema string

// Entry is one named source file in a build spec.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// App describes one application to package.
type App struct {
	Name   string `json:"name"`
	Script string `json:"script"`

	OneFile bool `json:"onefile"`
	Console bool `json:"console"`
	Debug   bool `json:"debug"`
	Strip   bool `json:"strip"`
	Pack    bool `json:"pack"`

	EncryptKey string `json:"encrypt_key,omitempty"`

	Icon        string   `json:"icon,omitempty"`
	VersionInfo string   `json:"version_info,omitempty"`
	ManifestXML string   `json:"manifest_xml,omitempty"`
	Resources   []string `json:"resources,omitempty"`

	Modules  []Entry `json:"modules"`
	Binaries []Entry `json:"binaries"`
	Datas    []Entry `json:"datas"`
	Zips     []Entry `json:"zips"`
}

// Spec is a parsed build-spec file.
type Spec struct {
	WorkPath string `json:"work_path,omitempty"`
	DistPath string `json:"dist_path,omitempty"`
	Apps     []App  `json:"apps"`
	Merge    bool   `json:"merge"`

	// FilePath is where the spec was loaded from.
	FilePath string `json:"-"`
}

// Parse reads and parses a build spec from the given path.
func Parse(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build spec at %s: %w", path, err)
	}
	return ParseBytes(data, path)
}

// ParseBytes parses build-spec content from bytes. Uses the 3-step CUE
// parsing flow: compile schema, compile user data, validate and decode.
func ParseBytes(data []byte, path string) (*Spec, error) {
	result, err := cueutil.ParseAndDecodeString[Spec](
		specSchema,
		data,
		"#Spec",
		cueutil.WithFilename(path),
	)
	if err != nil {
		return nil, err
	}

	spec := result.Value
	spec.FilePath = path
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// validate covers the constraints the CUE schema cannot express.
func (s *Spec) validate() error {
	if len(s.Apps) == 0 {
		return fmt.Errorf("build spec declares no apps")
	}
	seen := make(map[string]bool, len(s.Apps))
	for _, app := range s.Apps {
		if seen[app.Name] {
			return fmt.Errorf("app %q declared twice", app.Name)
		}
		seen[app.Name] = true
		if app.EncryptKey != "" && len(app.EncryptKey) != 16 {
			return fmt.Errorf("app %q: encrypt_key must be exactly 16 bytes, got %d",
				app.Name, len(app.EncryptKey))
		}
	}
	return nil
}

// ModuleManifest returns the app's module entries as a manifest.
func (a *App) ModuleManifest() *manifest.Manifest {
	return toManifest(a.Modules, manifest.Module)
}

// BinaryManifest returns the app's native-binary entries as a manifest.
func (a *App) BinaryManifest() *manifest.Manifest {
	return toManifest(a.Binaries, manifest.Binary)
}

// DataManifest returns the app's data entries, zips included, as a manifest.
func (a *App) DataManifest() *manifest.Manifest {
	m := toManifest(a.Datas, manifest.Data)
	m.Extend(toManifest(a.Zips, manifest.Zip))
	return m
}

func toManifest(entries []Entry, kind manifest.Kind) *manifest.Manifest {
	m := manifest.New()
	for _, e := range entries {
		m.Append(manifest.Entry{Name: e.Name, Path: e.Path, Kind: kind})
	}
	return m
}
