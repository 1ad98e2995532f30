// Package maint builds the maintainer authority for one run: who exists,
// where their upload area is, and which packages each of them may
// upload. Two mappings are built independently from the same inputs,
// maintainer to packages and package to maintainers, so ownership can
// be answered in either direction.
package maint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Markers used in the package-list file in place of a maintainer name.
const (
	orphaned = "ORPHANED"
	obsolete = "OBSOLETE"
)

// Maintainer is one registered uploader.
type Maintainer struct {
	Name    string
	HomeDir string   // upload area root, empty if none exists
	Pkgs    []string // base package names from the package list
}

// Authority answers upload-permission questions for one run. Build it
// once per run with New; it is read-only afterwards.
type Authority struct {
	byName   map[string]*Maintainer // keyed by lower-case name
	byPkg    map[string][]string    // package base name -> maintainer names
	orphaned []string               // base names with no maintainer
}

// New builds the authority from the package-list file and the
// maintainer home-directory root. Either input may be empty.
// orphanMaint, when non-empty, names the maintainer who inherits
// orphaned packages.
func New(pkgList, homeRoot, orphanMaint string) (*Authority, error) {
	a := &Authority{
		byName: map[string]*Maintainer{},
		byPkg:  map[string][]string{},
	}

	if homeRoot != "" {
		entries, err := os.ReadDir(homeRoot)
		if err != nil {
			return nil, fmt.Errorf("reading maintainer homes %s: %w", homeRoot, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			m := a.find(e.Name())
			m.HomeDir = filepath.Join(homeRoot, e.Name())
		}
	}

	if pkgList != "" {
		if err := a.addPackages(pkgList, orphanMaint); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Authority) find(name string) *Maintainer {
	key := strings.ToLower(name)
	m := a.byName[key]
	if m == nil {
		m = &Maintainer{Name: name}
		a.byName[key] = m
	}
	return m
}

// addPackages reads the package list. Each line is
// "<package> <maintainer>[/<maintainer>...]"; the maintainer field may
// instead be the ORPHANED or OBSOLETE marker.
func (a *Authority) addPackages(path, orphanMaint string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading package list %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for lineno := 1; s.Scan(); lineno++ {
		line := strings.TrimRight(s.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("package list %s:%d: unrecognized line %q", path, lineno, line)
		}
		pkg, names := fields[0], strings.Join(fields[1:], " ")

		// a leading all-caps word is a status marker, with any
		// trailing annotation ignored
		if marker := fields[1]; isAllCaps(marker) {
			switch marker {
			case obsolete:
				continue
			case orphaned:
				if orphanMaint == "" {
					a.orphaned = append(a.orphaned, pkg)
					a.byPkg[pkg] = append(a.byPkg[pkg], orphaned)
					continue
				}
				names = orphanMaint
			default:
				return fmt.Errorf("package list %s:%d: unknown package status %q", path, lineno, marker)
			}
		}

		// joint maintainers are separated by '/'
		for _, name := range strings.Split(names, "/") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			m := a.find(name)
			m.Pkgs = append(m.Pkgs, pkg)
			a.byPkg[pkg] = append(a.byPkg[pkg], m.Name)
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("reading package list %s: %w", path, err)
	}
	return nil
}

// Lookup returns the maintainer with the given name, matched
// case-insensitively, or nil.
func (a *Authority) Lookup(name string) *Maintainer {
	return a.byName[strings.ToLower(name)]
}

// Maintainers returns every known maintainer sorted by name.
func (a *Authority) Maintainers() []*Maintainer {
	out := make([]*Maintainer, 0, len(a.byName))
	for _, m := range a.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MaintainersOf returns the names of the maintainers of the package
// whose base name authorizes pkg, for reporting.
func (a *Authority) MaintainersOf(pkg string) []string {
	var out []string
	for base, names := range a.byPkg {
		if nameMatches(base, pkg) {
			out = append(out, names...)
		}
	}
	sort.Strings(out)
	return out
}

// Authorized reports whether the named maintainer may upload pkg. The
// package name matches a registered base name case-insensitively, either
// exactly or with the base name followed by a character that cannot
// continue an identifier. So a maintainer of "foo" may upload "foo-doc"
// and "foo_rebase" but not "xfoo" or "foobar".
func (a *Authority) Authorized(maintainer, pkg string) bool {
	m := a.Lookup(maintainer)
	if m == nil {
		return false
	}
	for _, base := range m.Pkgs {
		if nameMatches(base, pkg) {
			return true
		}
	}
	return false
}

func nameMatches(base, pkg string) bool {
	base = strings.ToLower(base)
	pkg = strings.ToLower(pkg)
	if pkg == base {
		return true
	}
	if !strings.HasPrefix(pkg, base) {
		return false
	}
	return !isIdentChar(pkg[len(base)])
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func isAllCaps(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return s != ""
}

// Orphaned returns the packages carrying the ORPHANED marker with no
// maintainer assigned.
func (a *Authority) Orphaned() []string {
	out := make([]string, len(a.orphaned))
	copy(out, a.orphaned)
	sort.Strings(out)
	return out
}
