// SPDX-License-Identifier: MPL-2.0

package specfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwrap/pkg/manifest"
)

const sampleSpec = `
apps: [{
	name:   "demo"
	script: "/src/demo/main.py"
	modules: [
		{name: "demo.core", path: "/src/demo/core.mod"},
	]
	binaries: [
		{name: "libdemo.so", path: "/src/demo/libdemo.so"},
	]
	datas: [
		{name: "assets/logo.png", path: "/src/demo/logo.png"},
	]
}]
`

func TestParseBytesDefaults(t *testing.T) {
	spec, err := ParseBytes([]byte(sampleSpec), "coldwrap.cue")
	require.NoError(t, err)
	require.Len(t, spec.Apps, 1)

	app := spec.Apps[0]
	assert.Equal(t, "demo", app.Name)
	assert.True(t, app.OneFile)
	assert.True(t, app.Console)
	assert.False(t, app.Debug)
	assert.False(t, spec.Merge)
	assert.Equal(t, "coldwrap.cue", spec.FilePath)
}

func TestParseFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldwrap.cue")
	require.NoError(t, os.WriteFile(path, []byte(sampleSpec), 0o644))

	spec, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, path, spec.FilePath)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := ParseBytes([]byte(`apps: [{name: "demo", script: "/s", bogus: 1}]`), "coldwrap.cue")
	require.Error(t, err)
}

func TestParseRejectsEmptyName(t *testing.T) {
	_, err := ParseBytes([]byte(`apps: [{name: "", script: "/s"}]`), "coldwrap.cue")
	require.Error(t, err)
}

func TestValidateApps(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no apps",
			content: `apps: []`,
			wantErr: "declares no apps",
		},
		{
			name: "duplicate app name",
			content: `apps: [
				{name: "demo", script: "/a"},
				{name: "demo", script: "/b"},
			]`,
			wantErr: "declared twice",
		},
		{
			name:    "short encrypt key",
			content: `apps: [{name: "demo", script: "/a", encrypt_key: "short"}]`,
			wantErr: "exactly 16 bytes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.content), "coldwrap.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManifestHelpers(t *testing.T) {
	spec, err := ParseBytes([]byte(sampleSpec), "coldwrap.cue")
	require.NoError(t, err)
	app := spec.Apps[0]

	mods := app.ModuleManifest()
	require.Equal(t, 1, mods.Len())
	assert.Equal(t, manifest.Module, mods.Entries()[0].Kind)

	bins := app.BinaryManifest()
	require.Equal(t, 1, bins.Len())
	assert.Equal(t, manifest.Binary, bins.Entries()[0].Kind)

	datas := app.DataManifest()
	require.Equal(t, 1, datas.Len())
	assert.Equal(t, "assets/logo.png", datas.Entries()[0].Name)
}
