// Package repo holds the package-set data model and the three engine
// stages that produce a candidate set: scanning the trees, resolving
// dependencies, and building the validated snapshot.
package repo

import (
	"sort"
	"time"

	"github.com/etnz/repo-indexer/hint"
	"github.com/etnz/repo-indexer/version"
)

// Kind distinguishes install from source artifacts.
type Kind int

const (
	Install Kind = iota
	Source
)

func (k Kind) String() string {
	if k == Source {
		return "source"
	}
	return "install"
}

// Artifact is one archive file belonging to a package version.
type Artifact struct {
	Path    string // absolute path on disk
	RelPath string // path relative to the tree root, as published
	Size    int64
	MTime   time.Time
	SHA512  string

	// Compression is the archive's compression suffix: "zst", "xz",
	// "bz2", "gz", or "" for a plain tar.
	Compression string

	// EmptyPlaceholder is set when the file is small enough to stand
	// in for a valid empty archive. Such an artifact is never
	// extracted.
	EmptyPlaceholder bool
}

// VersionKey identifies one version of a package.
type VersionKey struct {
	Version string
	Release string
}

func (k VersionKey) String() string { return k.Version + "-" + k.Release }

// Compare orders version keys with the version collation, comparing
// release when versions tie.
func (k VersionKey) Compare(o VersionKey) int {
	return version.Compare(k.String(), o.String())
}

// PackageVersion is one version of a package with its artifacts and the
// metadata snapshot from its hint.
type PackageVersion struct {
	Key       VersionKey
	Stability version.Stability
	Install   *Artifact
	Source    *Artifact
	Hint      *hint.Record

	// Requires is the resolved requirement set: the hint's explicit
	// requires merged with derived ones.
	Requires []string

	// BumpedRelease is set when an incver_ifdep rule advanced the
	// release used for output.
	BumpedRelease string
}

// EffectiveKey is the version identity used in the published index,
// with any release bump applied.
func (pv *PackageVersion) EffectiveKey() VersionKey {
	if pv.BumpedRelease != "" {
		return VersionKey{Version: pv.Key.Version, Release: pv.BumpedRelease}
	}
	return pv.Key
}

// Package is all versions of one named package found at one location.
type Package struct {
	Name        string
	RelPath     string // package directory relative to the tree root
	Versions    map[VersionKey]*PackageVersion
	Maintainers []string // ownership, reporting only

	// Files lists every eligible file the scanner consumed for this
	// package, relative to the tree root. Promotion of an upload into
	// the release tree moves exactly these files.
	Files []string
}

// SortedKeys returns the package's version keys in ascending version
// order.
func (p *Package) SortedKeys() []VersionKey {
	keys := make([]VersionKey, 0, len(p.Versions))
	for k := range p.Versions {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []VersionKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
}

// Curr returns the package version classified current, or nil.
func (p *Package) Curr() *PackageVersion {
	for _, pv := range p.Versions {
		if pv.Stability == version.Curr {
			return pv
		}
	}
	return nil
}

// Skip reports whether every version of the package is marked skip. A
// skipped package is excluded from the published index.
func (p *Package) Skip() bool {
	if len(p.Versions) == 0 {
		return true
	}
	for _, pv := range p.Versions {
		if pv.Hint == nil || !pv.Hint.Skip {
			return false
		}
	}
	return true
}

// SourceOnly reports whether the package carries only source artifacts.
func (p *Package) SourceOnly() bool {
	for _, pv := range p.Versions {
		if pv.Install != nil {
			return false
		}
	}
	return len(p.Versions) > 0
}

// PackageSet is one immutable generation candidate: every package of
// one architecture plus the run's identity fields. It is built once by
// the Builder and never mutated afterwards; committing produces a new
// generation rather than changing this one.
type PackageSet struct {
	Release          string
	Arch             string
	Timestamp        time.Time
	GeneratorVersion string
	Packages         map[string]*Package
}

// Names returns the package names in index order: '!' first, '_' last,
// case-insensitive in between.
func (s *PackageSet) Names() []string {
	names := make([]string, 0, len(s.Packages))
	for n := range s.Packages {
		names = append(names, n)
	}
	version.SortNames(names)
	return names
}
