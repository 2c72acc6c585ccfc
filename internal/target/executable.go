// SPDX-License-Identifier: MPL-2.0

package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"coldwrap/internal/cache"
	"coldwrap/internal/config"
	"coldwrap/internal/guts"
	"coldwrap/internal/issue"
	"coldwrap/pkg/manifest"
)

// ExecutableOpts tunes an executable build.
type ExecutableOpts struct {
	// Console selects the console stub; false selects the windowed stub
	// (meaningful on windows and darwin only).
	Console bool
	// Debug selects the verbose launcher stub variant.
	Debug bool
	// Icon, VersionInfo, ManifestXML, and Resources request resource edits
	// on the stub copy. They need a ResourceEditor to take effect; each
	// individual edit failure is a warning only.
	Icon        string
	VersionInfo string
	ManifestXML string
	Resources   []string
	// Strip and Pack shrink the stub and are forwarded to the package
	// archive for its binaries.
	Strip bool
	Pack  bool
	// AppendPkg appends the package archive to the executable (onefile).
	// When false the archive is placed beside it instead.
	AppendPkg bool
	// ExcludeBinaries and CDict are forwarded to the package archive.
	ExcludeBinaries bool
	CDict           map[manifest.Kind]bool
}

// defaultRuntimeOptions is appended to every executable's manifest; the
// launcher reads these option entries before touching any module.
var defaultRuntimeOptions = []manifest.Entry{
	{Name: "no-user-site", Kind: manifest.Option},
}

// Executable assembles the final launcher: a precompiled stub with the
// package archive appended or side-placed.
type Executable struct {
	cfg     *config.Config
	name    string
	out     string
	pkgSide string
	stubCat string
	toc     *manifest.Manifest
	pkg     *PackageArchive
	opts    ExecutableOpts
	editor  ResourceEditor
	cache   *cache.Cache
}

// NewExecutable creates the target. name is the output base name; the target
// builds its own package archive from the inputs and forwards the archive
// options to it. editor may be nil when no resource edits are wanted or
// possible.
func NewExecutable(cfg *config.Config, name string, inputs []Input, opts ExecutableOpts, editor ResourceEditor) *Executable {
	toc := manifest.New()
	resolve(toc, inputs)
	for _, e := range defaultRuntimeOptions {
		toc.Append(e)
	}

	outName := name
	if isWindows(cfg.Platform) {
		outName += ".exe"
	}
	outDir := cfg.DistPath
	if opts.ExcludeBinaries {
		// Onedir mode: the executable lands in the work dir and the
		// collect target copies it into the distribution tree.
		outDir = cfg.WorkPath
	}

	t := &Executable{
		cfg:     cfg,
		name:    name,
		out:     filepath.Join(outDir, outName),
		pkgSide: filepath.Join(outDir, name+".cwp"),
		stubCat: "run",
		toc:     toc,
		opts:    opts,
		editor:  editor,
		cache: &cache.Cache{
			Dir:      cfg.CacheDir,
			StripCmd: cfg.StripCmd,
			PackCmd:  cfg.PackCmd,
		},
	}
	t.pkg = NewPackageArchive(cfg, name, []Input{FromManifest(toc)}, PackageArchiveOpts{
		CDict:           opts.CDict,
		ExcludeBinaries: opts.ExcludeBinaries,
		Strip:           opts.Strip,
		Pack:            opts.Pack,
	})
	return t
}

// NewDynlib creates the in-process library variant: same assembly state
// machine with the library stub category and no resource editing.
func NewDynlib(cfg *config.Config, name string, inputs []Input, opts ExecutableOpts) *Executable {
	t := NewExecutable(cfg, name, inputs, opts, nil)
	t.stubCat = "runlib"
	t.opts.Icon, t.opts.VersionInfo, t.opts.ManifestXML, t.opts.Resources = "", "", "", nil
	return t
}

// Pkg exposes the inner package-archive target so the graph can schedule it
// before this one.
func (t *Executable) Pkg() *PackageArchive { return t.pkg }

// Name implements Target.
func (t *Executable) Name() string { return t.name }

// Kind implements Target.
func (t *Executable) Kind() string { return "EXE" }

// OutPath implements Target.
func (t *Executable) OutPath() string { return t.out }

// PkgSidePath is where the archive lands in side-by-side mode.
func (t *Executable) PkgSidePath() string { return t.pkgSide }

// EntryKind marks the assembled binary when referenced by a collect target.
func (t *Executable) EntryKind() manifest.Kind { return manifest.Executable }

// Dependencies forwards the package archive's withheld binaries.
func (t *Executable) Dependencies() *manifest.Manifest { return t.pkg.Dependencies() }

// GutsSchema implements Target.
func (t *Executable) GutsSchema() []guts.Field {
	return []guts.Field{
		{Name: "name", Check: guts.CheckEq},
		{Name: "console", Check: guts.CheckEq},
		{Name: "debug", Check: guts.CheckEq},
		{Name: "icon", Check: guts.CheckEq},
		{Name: "version_info", Check: guts.CheckEq},
		{Name: "manifest_xml", Check: guts.CheckEq},
		{Name: "resources", Check: guts.CheckEq},
		{Name: "strip", Check: guts.CheckEq},
		{Name: "pack", Check: guts.CheckEq},
		{Name: "mtm", Check: guts.CheckSkip},
	}
}

// CheckStale implements Target. On top of the field compare: missing side
// archive, an output whose mtime no longer matches the recorded one, or a
// package archive newer than the executable all force a rebuild.
func (t *Executable) CheckStale(prev *guts.Record) bool {
	if staleByGuts(t, prev, t.gutsValues(time.Time{})) {
		return true
	}
	if !t.opts.AppendPkg {
		if _, err := os.Stat(t.pkgSide); err != nil {
			log.Info("rebuilding, side archive missing", "name", t.name)
			return true
		}
	}
	mtm, ok := prev.Get("mtm")
	if !ok || mtm.Int != mtimeOf(t.out) {
		log.Info("rebuilding, output modified since last build", "name", t.name)
		return true
	}
	if mtm.Int < mtimeOf(t.pkg.OutPath()) {
		log.Info("rebuilding, package archive is more recent", "name", t.name)
		return true
	}
	return false
}

// Assemble implements Target. The package archive target has already run.
func (t *Executable) Assemble() error {
	stub, err := t.selectStub()
	if err != nil {
		return err
	}
	stub, err = t.editResources(stub)
	if err != nil {
		return err
	}
	stub, err = t.cache.Transform(stub, t.opts.Strip, t.opts.Pack, filepath.Base(t.out))
	if err != nil {
		return issue.WrapWithContext(err, "transform launcher stub", stub)
	}

	if err := os.MkdirAll(filepath.Dir(t.out), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	out, err := os.Create(t.out)
	if err != nil {
		return fmt.Errorf("creating executable: %w", err)
	}
	if err := copyChunked(out, stub); err != nil {
		out.Close()
		return fmt.Errorf("writing stub: %w", err)
	}
	if t.opts.AppendPkg {
		if err := copyChunked(out, t.pkg.OutPath()); err != nil {
			out.Close()
			return fmt.Errorf("appending package archive: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	// In onedir mode the archive is already where the side path points,
	// copying it onto itself would truncate it.
	if !t.opts.AppendPkg && t.pkgSide != t.pkg.OutPath() {
		if err := copyFileChunked(t.pkg.OutPath(), t.pkgSide, 0o644); err != nil {
			return fmt.Errorf("placing side archive: %w", err)
		}
	}
	if err := os.Chmod(t.out, 0o755); err != nil {
		return err
	}

	info, err := os.Stat(t.out)
	if err != nil {
		return err
	}
	return guts.Save(GutsPath(t.cfg, t), t.Kind(), t.gutsValues(info.ModTime()))
}

// selectStub picks the launcher variant for the configured platform and the
// console/debug flags. A missing variant is fatal; a silently degraded
// launcher would misbehave at user run time, far from the cause.
func (t *Executable) selectStub() (string, error) {
	variant := t.stubCat
	if !t.opts.Console && isWindowedPlatform(t.cfg.Platform) {
		variant += "w"
	}
	if t.opts.Debug {
		variant += "_d"
	}
	if isWindows(t.cfg.Platform) {
		variant += ".exe"
	}
	stub := filepath.Join(t.cfg.StubDir, t.cfg.Platform, variant)
	if _, err := os.Stat(stub); err != nil {
		return "", issue.NewErrorContext().
			WithOperation("select launcher stub").
			WithResource(stub).
			WithSuggestion("Install the launcher stubs for this platform").
			WithSuggestion("Set stub_dir in the coldwrap config").
			Wrap(err).
			BuildError()
	}
	log.Debug("launcher stub", "path", stub)
	return stub, nil
}

// editResources applies the requested resource edits on a scratch copy of
// the stub. Any single edit failure is logged and skipped.
func (t *Executable) editResources(stub string) (string, error) {
	wantsEdits := t.opts.Icon != "" || t.opts.VersionInfo != "" ||
		t.opts.ManifestXML != "" || len(t.opts.Resources) > 0
	if !wantsEdits {
		return stub, nil
	}
	if t.editor == nil {
		log.Warn("resource edits requested but no resource editor is available for this platform",
			"platform", t.cfg.Platform)
		return stub, nil
	}

	scratch := filepath.Join(t.cfg.WorkPath, t.name+".stub")
	if err := copyFileChunked(stub, scratch, 0o755); err != nil {
		return "", fmt.Errorf("copying stub for resource edits: %w", err)
	}
	if t.opts.Icon != "" {
		if err := t.editor.SetIcon(scratch, t.opts.Icon); err != nil {
			log.Warn("icon edit failed, skipping", "icon", t.opts.Icon, "err", err)
		}
	}
	if t.opts.VersionInfo != "" {
		if err := t.editor.SetVersionInfo(scratch, t.opts.VersionInfo); err != nil {
			log.Warn("version info edit failed, skipping", "version", t.opts.VersionInfo, "err", err)
		}
	}
	if t.opts.ManifestXML != "" {
		if err := t.editor.SetManifest(scratch, t.opts.ManifestXML); err != nil {
			log.Warn("manifest edit failed, skipping", "manifest", t.opts.ManifestXML, "err", err)
		}
	}
	for _, res := range t.opts.Resources {
		if err := t.editor.AddResource(scratch, res); err != nil {
			log.Warn("resource edit failed, skipping", "resource", res, "err", err)
		}
	}
	return scratch, nil
}

func (t *Executable) gutsValues(mtm time.Time) []guts.Value {
	return []guts.Value{
		guts.String("name", t.out),
		guts.Bool("console", t.opts.Console),
		guts.Bool("debug", t.opts.Debug),
		guts.String("icon", t.opts.Icon),
		guts.String("version_info", t.opts.VersionInfo),
		guts.String("manifest_xml", t.opts.ManifestXML),
		guts.String("resources", strings.Join(t.opts.Resources, ";")),
		guts.Bool("strip", t.opts.Strip),
		guts.Bool("pack", t.opts.Pack),
		guts.Mtime("mtm", mtm),
	}
}

func isWindows(platform string) bool {
	return strings.HasPrefix(platform, "windows")
}

func isWindowedPlatform(platform string) bool {
	return isWindows(platform) || strings.HasPrefix(platform, "darwin")
}
