package repo

import (
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/etnz/repo-indexer/manifest"
	"github.com/etnz/repo-indexer/report"
	"github.com/etnz/repo-indexer/version"
)

// Bumper rewrites a release string to its successor. Packages can
// carry their own bump rule; DefaultBump is used when none is set.
type Bumper func(release string) string

// DefaultBump increments a release: a purely numeric release is
// incremented, otherwise the last bumpable character advances through
// 0-9 then a-z, appending '0' after 'z'.
func DefaultBump(rel string) string {
	if rel == "" {
		return "1"
	}
	if i, err := strconv.Atoi(rel); err == nil {
		return strconv.Itoa(i + 1)
	}
	runes := []rune(rel)
	for i := len(runes) - 1; i >= 0; i-- {
		c := runes[i]
		switch {
		case c >= '0' && c < '9', c >= 'a' && c < 'z':
			runes[i]++
			return string(runes)
		case c == '9':
			runes[i] = 'a'
			return string(runes)
		case c == 'z':
			return string(runes[:i+1]) + "0" + string(runes[i+1:])
		}
	}
	return rel + "1"
}

// Resolver computes each package version's effective requirements and
// validates them against the candidate set.
type Resolver struct {
	Log      zerolog.Logger
	Reporter *report.Collector
	Cache    *manifest.Cache
	Bump     Bumper
}

// Resolve derives requirements from autodep patterns, merges them with
// the explicit ones, applies incver_ifdep release bumps, and validates
// every requirement. Packages must already be classified. Any failure
// is reported as an ERROR diagnostic, which invalidates the build.
func (r *Resolver) Resolve(packages map[string]*Package) {
	owners := autodepOwners(packages)

	for name, pkg := range packages {
		for _, pv := range pkg.Versions {
			derived := r.derive(name, pv, owners)
			pv.Requires = merge(pv.hintRequires(), derived)
		}
	}

	r.applyIncver(packages)

	for name, pkg := range packages {
		for _, pv := range pkg.Versions {
			for _, dep := range pv.Requires {
				if err := checkDep(packages, name, dep); err != nil {
					r.Reporter.Errorf(name, "version %s: %v", pv.Key, err)
				}
			}
		}
	}
}

// autodepPattern couples a doublestar pattern with its owning package.
type autodepPattern struct {
	owner   string
	pattern string
}

// autodepOwners gathers every declared autodep pattern in the set.
func autodepOwners(packages map[string]*Package) []autodepPattern {
	var out []autodepPattern
	for name, pkg := range packages {
		seen := map[string]bool{}
		for _, key := range pkg.SortedKeys() {
			pv := pkg.Versions[key]
			if pv.Hint == nil {
				continue
			}
			for _, pat := range pv.Hint.Autodep {
				if !seen[pat] {
					seen[pat] = true
					out = append(out, autodepPattern{owner: name, pattern: pat})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].owner != out[j].owner {
			return out[i].owner < out[j].owner
		}
		return out[i].pattern < out[j].pattern
	})
	return out
}

// derive matches the version's install manifest against the autodep
// patterns of other packages. A cache hit means the artifact was not
// re-scanned this run and its recorded manifest carries forward.
func (r *Resolver) derive(name string, pv *PackageVersion, owners []autodepPattern) []string {
	if pv.Install == nil || pv.Install.EmptyPlaceholder || len(owners) == 0 {
		return nil
	}
	excluded := map[string]bool{}
	if pv.Hint != nil {
		for _, n := range pv.Hint.Noautodep {
			excluded[n] = true
		}
	}

	entries, carried, err := r.Cache.ListCached(pv.Install.Path)
	if err != nil {
		r.Reporter.Errorf(name, "version %s: %v", pv.Key, err)
		return nil
	}
	if carried {
		r.Log.Debug().Str("pkg", name).Str("version", pv.Key.String()).Msg("manifest carried forward")
	}

	found := map[string]bool{}
	for _, e := range entries {
		if e.Symlink {
			continue
		}
		for _, o := range owners {
			if o.owner == name || excluded[o.owner] || found[o.owner] {
				continue
			}
			if ok, err := doublestar.Match(o.pattern, e.Path); err == nil && ok {
				found[o.owner] = true
			}
		}
	}

	out := make([]string, 0, len(found))
	for dep := range found {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// applyIncver bumps the effective release of versions whose named
// dependency has a strictly newer current install artifact.
func (r *Resolver) applyIncver(packages map[string]*Package) {
	bump := r.Bump
	if bump == nil {
		bump = DefaultBump
	}
	for name, pkg := range packages {
		for _, pv := range pkg.Versions {
			if pv.Hint == nil || len(pv.Hint.IncverIfdep) == 0 || pv.Install == nil {
				continue
			}
			for _, dep := range pv.Hint.IncverIfdep {
				target, ok := packages[dep]
				if !ok {
					r.Reporter.Errorf(name, "version %s: %v: incver_ifdep %q", pv.Key, ErrUnresolvedDependency, dep)
					continue
				}
				curr := target.Curr()
				if curr == nil || curr.Install == nil {
					continue
				}
				if curr.Install.MTime.After(pv.Install.MTime) {
					pv.BumpedRelease = bump(pv.Key.Release)
					r.Log.Info().Str("pkg", name).
						Str("version", pv.Key.String()).
						Str("release", pv.BumpedRelease).
						Str("dep", dep).
						Msg("release bumped for newer dependency")
					break
				}
			}
		}
	}
}

// checkDep validates one requirement target.
func checkDep(packages map[string]*Package, name, dep string) error {
	target, ok := packages[dep]
	if !ok {
		return wrapDep(dep, "not in the set")
	}
	if target.Skip() {
		return wrapDep(dep, "is marked skip")
	}
	if target.Curr() == nil {
		return wrapDep(dep, "has no current version")
	}
	return nil
}

func wrapDep(dep, reason string) error {
	return &depError{dep: dep, reason: reason}
}

type depError struct {
	dep    string
	reason string
}

func (e *depError) Error() string {
	return ErrUnresolvedDependency.Error() + ": requires " + e.dep + " " + e.reason
}

func (e *depError) Unwrap() error { return ErrUnresolvedDependency }

// merge combines explicit and derived requirements into one sorted,
// de-duplicated list.
func merge(explicit, derived []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, lists := range [][]string{explicit, derived} {
		for _, d := range lists {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out
}

// hintRequires returns the version's explicit requirements.
func (pv *PackageVersion) hintRequires() []string {
	if pv.Hint == nil {
		return nil
	}
	return pv.Hint.Requires
}

// Classify assigns curr/prev/test to every version of every package,
// honoring a version-forcing hint only when allowOverride is set.
func Classify(packages map[string]*Package, allowOverride bool, rep *report.Collector) {
	for name, pkg := range packages {
		keys := pkg.SortedKeys()
		vs := make([]string, 0, len(keys))
		byStr := map[string]VersionKey{}
		for _, k := range keys {
			vs = append(vs, k.String())
			byStr[k.String()] = k
		}
		isTest := func(v string) bool {
			pv := pkg.Versions[byStr[v]]
			return pv.Hint != nil && pv.Hint.Test
		}
		for v, st := range version.Classify(vs, isTest) {
			pkg.Versions[byStr[v]].Stability = st
		}

		// a hint may pin curr onto a non-maximum version
		for _, k := range keys {
			pv := pkg.Versions[k]
			if pv.Hint == nil || pv.Hint.Version == "" {
				continue
			}
			forced, ok := byStr[pv.Hint.Version]
			if !ok {
				rep.Errorf(name, "hint pins version %s which does not exist", pv.Hint.Version)
				continue
			}
			if pkg.Versions[forced].Stability == version.Curr {
				continue
			}
			if !allowOverride {
				rep.Warnf(name, "hint pins version %s but overrides are disabled", pv.Hint.Version)
				continue
			}
			for _, other := range keys {
				if opv := pkg.Versions[other]; opv.Stability == version.Curr {
					opv.Stability = version.Prev
				}
			}
			pkg.Versions[forced].Stability = version.Curr
		}
	}
}
