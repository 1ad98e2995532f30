package repo

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/etnz/repo-indexer/maint"
	"github.com/etnz/repo-indexer/report"
)

// TreeScan is the scan of one tree: the published release tree when
// Maintainer is empty, a maintainer's upload tree otherwise.
type TreeScan struct {
	Maintainer string
	Result     *ScanResult
}

// Builder assembles tree scans into one immutable candidate PackageSet.
// Validity is not a field of the set: the run is valid only while the
// reporter has no ERROR diagnostics.
type Builder struct {
	Log       zerolog.Logger
	Reporter  *report.Collector
	Resolver  *Resolver
	Authority *maint.Authority // optional, ownership for reporting

	Release           string
	Arch              string
	GeneratorVersion  string
	AllowCurrOverride bool

	// Now supplies the generation timestamp, defaulting to time.Now.
	Now func() time.Time
}

// Build merges the scans, classifies versions, resolves dependencies
// and enforces the set invariants. The returned set must be discarded
// if the reporter holds any error.
func (b *Builder) Build(trees []TreeScan) (*PackageSet, []Removal) {
	packages := map[string]*Package{}
	var removals []Removal

	for _, t := range trees {
		if t.Result == nil {
			continue
		}
		removals = append(removals, t.Result.Removals...)
		for name, pkg := range t.Result.Packages {
			if t.Maintainer != "" && b.Authority != nil && !b.Authority.Authorized(t.Maintainer, name) {
				b.Reporter.Errorf(t.Maintainer, "not authorized to upload package %s", name)
				continue
			}
			b.mergePackage(packages, name, pkg)
		}
	}

	if len(removals) > 0 {
		b.applyRemovals(packages, removals)
	}

	Classify(packages, b.AllowCurrOverride, b.Reporter)
	if b.Resolver != nil {
		b.Resolver.Resolve(packages)
	}
	b.checkSources(packages)

	if b.Authority != nil {
		for name, pkg := range packages {
			pkg.Maintainers = b.Authority.MaintainersOf(name)
		}
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return &PackageSet{
		Release:          b.Release,
		Arch:             b.Arch,
		Timestamp:        now(),
		GeneratorVersion: b.GeneratorVersion,
		Packages:         packages,
	}, removals
}

// mergePackage folds one scanned package into the accumulated set.
// Upload versions extend the published package; the same name at a
// different location is a structural error.
func (b *Builder) mergePackage(packages map[string]*Package, name string, pkg *Package) {
	existing, ok := packages[name]
	if !ok {
		packages[name] = pkg
		return
	}
	if existing.RelPath != pkg.RelPath {
		b.Reporter.Errorf(name, "%v: found at both %s and %s",
			ErrDuplicatePackagePath, existing.RelPath, pkg.RelPath)
		return
	}
	for key, pv := range pkg.Versions {
		// an upload of an existing version supersedes it
		existing.Versions[key] = pv
	}
	existing.Files = append(existing.Files, pkg.Files...)
}

// applyRemovals withdraws artifacts targeted by remove requests, so the
// committed index never references a vaulted file. A version left with
// no artifacts disappears; a package left with no versions disappears.
func (b *Builder) applyRemovals(packages map[string]*Package, removals []Removal) {
	removed := make(map[string]bool, len(removals))
	for _, r := range removals {
		removed[r.RelPath] = true
	}

	for name, pkg := range packages {
		kept := pkg.Files[:0]
		for _, f := range pkg.Files {
			if !removed[f] {
				kept = append(kept, f)
			}
		}
		pkg.Files = kept

		for key, pv := range pkg.Versions {
			hit := false
			if pv.Install != nil && removed[pv.Install.RelPath] {
				pv.Install = nil
				hit = true
			}
			if pv.Source != nil && removed[pv.Source.RelPath] {
				pv.Source = nil
				hit = true
			}
			hintPath := filepath.Join(pkg.RelPath, fmt.Sprintf("%s-%s.hint", pkg.Name, key))
			if removed[hintPath] {
				pv.Hint = nil
				hit = true
			}
			if !hit {
				continue
			}
			if pv.Install == nil && pv.Source == nil {
				delete(pkg.Versions, key)
				b.Log.Info().Str("pkg", name).Str("version", key.String()).Msg("version withdrawn by remove request")
				continue
			}
			if pv.Hint == nil {
				b.Reporter.Errorf(name, "%v: artifacts remain after removing the hint for %s", ErrMissingHint, key)
			}
		}
		if len(pkg.Versions) == 0 {
			delete(packages, name)
			b.Log.Info().Str("pkg", name).Msg("package withdrawn by remove request")
		}
	}
}

// checkSources enforces the source availability rules: every non-empty
// install version must have a source of its own, via external-source,
// or via a named source package; a package providing only sources
// should be used by some install package.
func (b *Builder) checkSources(packages map[string]*Package) {
	// packages referenced as an external source
	referenced := map[string]bool{}
	for _, pkg := range packages {
		for _, pv := range pkg.Versions {
			if pv.Hint == nil {
				continue
			}
			if pv.Hint.ExternalSource != "" {
				referenced[pv.Hint.ExternalSource] = true
			}
			if pv.Hint.Source != "" {
				referenced[pv.Hint.Source] = true
			}
		}
	}

	for name, pkg := range packages {
		if pkg.Skip() {
			continue
		}
		for _, pv := range pkg.Versions {
			if pv.Install == nil || pv.Install.EmptyPlaceholder {
				continue
			}
			if pv.Source != nil {
				continue
			}
			h := pv.Hint
			if h != nil && h.ExternalSource != "" {
				if _, ok := packages[h.ExternalSource]; !ok {
					b.Reporter.Errorf(name, "version %s: external-source %s is not in the set",
						pv.Key, h.ExternalSource)
				}
				continue
			}
			if h != nil && h.Source != "" {
				if _, ok := packages[h.Source]; !ok {
					b.Reporter.Errorf(name, "version %s: source package %s is not in the set",
						pv.Key, h.Source)
				}
				continue
			}
			b.Reporter.Errorf(name, "version %s: no source artifact or external-source", pv.Key)
		}

		if pkg.SourceOnly() && !referenced[name] {
			b.Reporter.Warnf(name, "source package is not used by any install package")
		}
	}
}
