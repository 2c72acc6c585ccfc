// SPDX-License-Identifier: MPL-2.0

package target

// ResourceEditor edits platform resources on a scratch copy of a launcher
// stub. The binary formats involved (icons, version blocks, manifests) are
// outside coldwrap's scope; implementations wrap the platform tooling.
// Each method edits exe in place.
type ResourceEditor interface {
	SetIcon(exe, icon string) error
	SetVersionInfo(exe, versionFile string) error
	SetManifest(exe, manifestXML string) error
	AddResource(exe, spec string) error
}
