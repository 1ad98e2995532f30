package repo

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etnz/repo-indexer/hint"
	"github.com/etnz/repo-indexer/manifest"
	"github.com/etnz/repo-indexer/report"
)

// ReadyMarker is the per-directory file whose modification time gates
// which uploads are eligible: files strictly newer than the marker are
// ignored this run. The marker's mtime applies to the whole subtree
// below it until a deeper marker overrides it.
const ReadyMarker = "!ready"

// compressions in preference order, strongest first. When several
// variants of one artifact exist the first present wins.
var compressions = []string{"zst", "xz", "bz2", "gz"}

var artifactRe = regexp.MustCompile(
	`^(.+)-(\d[^-]*)-(\d[^-]*?)(-src)?\.(tar(?:\.(zst|xz|bz2|gz))?|hint)$`)

// Removal is a remove-request: an empty file named "-<artifact>" asks
// for the artifact to be vaulted. The request file itself is deleted
// once the removal has been carried out, so the next run starts fresh.
type Removal struct {
	Package string
	RelPath string // path of the artifact to remove, relative to the tree root
	Marker  string // path of the remove-request file on disk
}

// ScanResult is the merged outcome of scanning one tree.
type ScanResult struct {
	Packages map[string]*Package
	Removals []Removal
}

// Scanner walks package trees and groups eligible artifacts by package,
// version and kind. Per-package work fans out over Workers goroutines;
// results are merged before the scanner returns.
type Scanner struct {
	Log      zerolog.Logger
	Reporter *report.Collector
	Workers  int
}

// pkgDir is one package directory found while walking, with the marker
// mtime in force for it.
type pkgDir struct {
	name    string
	relPath string
	dir     string
	ready   time.Time
	files   []fs.DirEntry
}

// Scan walks the tree rooted at root. When alwaysReady is true every
// file is eligible regardless of markers, which is how the published
// release tree is read. Structural violations are reported as ERROR
// diagnostics; only unexpected I/O failures return an error.
func (s *Scanner) Scan(root string, alwaysReady bool) (*ScanResult, error) {
	dirs, err := s.collect(root, alwaysReady)
	if err != nil {
		return nil, err
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	type partial struct {
		pkg      *Package
		removals []Removal
	}

	in := make(chan pkgDir)
	out := make(chan partial)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range in {
				pkg, removals := s.scanPackage(d)
				out <- partial{pkg: pkg, removals: removals}
			}
		}()
	}
	go func() {
		for _, d := range dirs {
			in <- d
		}
		close(in)
		wg.Wait()
		close(out)
	}()

	result := &ScanResult{Packages: map[string]*Package{}}
	for p := range out {
		result.Removals = append(result.Removals, p.removals...)
		if p.pkg == nil {
			continue
		}
		if prev, ok := result.Packages[p.pkg.Name]; ok {
			s.Reporter.Errorf(p.pkg.Name, "%v: found at both %s and %s",
				ErrDuplicatePackagePath, prev.RelPath, p.pkg.RelPath)
			continue
		}
		result.Packages[p.pkg.Name] = p.pkg
	}
	sort.Slice(result.Removals, func(i, j int) bool {
		return result.Removals[i].RelPath < result.Removals[j].RelPath
	})
	return result, nil
}

// collect walks the tree once, tracking the readiness marker in force
// for each directory, and returns the package directories to process.
func (s *Scanner) collect(root string, alwaysReady bool) ([]pkgDir, error) {
	var dirs []pkgDir

	// marker mtimes inherit downward: the stack holds the markers of
	// the ancestors of the directory being visited
	type marker struct {
		prefix string
		mtime  time.Time
	}
	stack := []marker{{prefix: "", mtime: time.Time{}}}
	if alwaysReady {
		stack[0].mtime = time.Now().Add(365 * 24 * time.Hour)
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}

		// pop markers that do not cover this directory
		for len(stack) > 1 && !strings.HasPrefix(rel+"/", stack[len(stack)-1].prefix) {
			stack = stack[:len(stack)-1]
		}
		ready := stack[len(stack)-1].mtime

		if fi, err := os.Stat(filepath.Join(path, ReadyMarker)); err == nil && !alwaysReady {
			ready = fi.ModTime()
			prefix := rel + "/"
			if rel == "" {
				prefix = ""
			}
			stack = append(stack, marker{prefix: prefix, mtime: ready})
			s.Log.Debug().Str("dir", rel).Time("ready", ready).Msg("readiness marker")
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		var files []fs.DirEntry
		for _, e := range entries {
			if !e.IsDir() && e.Name() != ReadyMarker {
				files = append(files, e)
			}
		}
		if len(files) == 0 {
			return nil
		}
		dirs = append(dirs, pkgDir{
			name:    filepath.Base(path),
			relPath: rel,
			dir:     path,
			ready:   ready,
			files:   files,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return dirs, nil
}

// scanPackage turns one directory's files into a Package. It returns a
// nil package when the directory holds nothing eligible.
func (s *Scanner) scanPackage(d pkgDir) (*Package, []Removal) {
	type slot struct {
		key  VersionKey
		kind Kind
	}
	artifacts := map[slot]map[string]*Artifact{} // by compression
	hints := map[VersionKey]*hint.Record{}
	var removals []Removal
	var files []string

	for _, e := range d.files {
		name := e.Name()
		path := filepath.Join(d.dir, name)

		fi, err := e.Info()
		if err != nil {
			s.Reporter.Errorf(d.name, "stat %s: %v", name, err)
			continue
		}

		if fi.ModTime().After(d.ready) {
			s.Log.Info().Str("file", name).Str("pkg", d.name).Msg("ignoring, newer than readiness marker")
			continue
		}

		// remove requests are empty files named after the artifact
		if strings.HasPrefix(name, "-") {
			if fi.Size() != 0 {
				s.Reporter.Errorf(d.name, "remove request %s is not empty", name)
				continue
			}
			removals = append(removals, Removal{
				Package: d.name,
				RelPath: filepath.Join(d.relPath, strings.TrimPrefix(name, "-")),
				Marker:  path,
			})
			continue
		}
		if name == "sha512.sum" {
			continue
		}

		m := artifactRe.FindStringSubmatch(name)
		if m == nil || m[1] != d.name {
			s.Reporter.Errorf(d.name, "file %q does not follow the naming convention", name)
			continue
		}
		key := VersionKey{Version: m[2], Release: m[3]}
		kind := Install
		if m[4] == "-src" {
			kind = Source
		}

		if m[5] == "hint" {
			if _, ok := hints[key]; ok {
				s.Reporter.Errorf(d.name, "duplicate hint %s for version %s", name, key)
				continue
			}
			rec, err := hint.ParseFile(path)
			if err != nil {
				s.Reporter.Errorf(d.name, "%v", err)
				continue
			}
			for _, w := range rec.Warnings {
				s.Reporter.Warnf(d.name, "%s: %s", name, w)
			}
			hints[key] = rec
			files = append(files, filepath.Join(d.relPath, name))
			continue
		}

		a := &Artifact{
			Path:             path,
			RelPath:          filepath.Join(d.relPath, name),
			Size:             fi.Size(),
			MTime:            fi.ModTime(),
			Compression:      m[6],
			EmptyPlaceholder: fi.Size() <= manifest.EmptyThreshold,
		}
		sl := slot{key: key, kind: kind}
		if artifacts[sl] == nil {
			artifacts[sl] = map[string]*Artifact{}
		}
		artifacts[sl][a.Compression] = a
		files = append(files, a.RelPath)
	}

	if len(artifacts) == 0 && len(hints) == 0 {
		return nil, removals
	}
	if len(artifacts) > 0 && len(hints) == 0 {
		s.Reporter.Errorf(d.name, "%v: artifacts present in %s", ErrMissingHint, d.relPath)
		return nil, removals
	}

	sort.Strings(files)
	pkg := &Package{
		Name:     d.name,
		RelPath:  d.relPath,
		Versions: map[VersionKey]*PackageVersion{},
		Files:    files,
	}
	for key, rec := range hints {
		if err := checkKey(key); err != nil {
			s.Reporter.Errorf(d.name, "%s: %v", key, err)
			continue
		}
		pkg.Versions[key] = &PackageVersion{Key: key, Hint: rec}
	}

	for sl, variants := range artifacts {
		pv := pkg.Versions[sl.key]
		if pv == nil {
			s.Reporter.Errorf(d.name, "%v: no hint for version %s", ErrMissingHint, sl.key)
			continue
		}
		a := pickVariant(variants)
		if len(variants) > 1 {
			s.Reporter.Warnf(d.name, "%d compressed variants for %s %s, using %s",
				len(variants), sl.key, sl.kind, filepath.Base(a.Path))
		}
		if err := s.checksum(a); err != nil {
			s.Reporter.Errorf(d.name, "%v", err)
			continue
		}
		if sl.kind == Install {
			pv.Install = a
		} else {
			pv.Source = a
		}
	}
	return pkg, removals
}

// checkKey validates the version and release shape: both start with a
// digit, and the filename split guarantees the release has no hyphen.
func checkKey(k VersionKey) error {
	if k.Version == "" || k.Version[0] < '0' || k.Version[0] > '9' {
		return fmt.Errorf("%w: version %q must start with a digit", ErrMalformedVersion, k.Version)
	}
	if k.Release == "" || k.Release[0] < '0' || k.Release[0] > '9' {
		return fmt.Errorf("%w: release %q must start with a digit", ErrMalformedVersion, k.Release)
	}
	if strings.Contains(k.Release, "-") {
		return fmt.Errorf("%w: release %q contains a hyphen", ErrMalformedVersion, k.Release)
	}
	return nil
}

// pickVariant selects the preferred compressed variant.
func pickVariant(variants map[string]*Artifact) *Artifact {
	for _, c := range compressions {
		if a, ok := variants[c]; ok {
			return a
		}
	}
	// plain tar
	for _, a := range variants {
		return a
	}
	return nil
}

// checksum fills in the artifact's sha512, from a sibling sha512.sum
// file when one lists it, computed otherwise.
func (s *Scanner) checksum(a *Artifact) error {
	if sum := lookupSum(a.Path); sum != "" {
		a.SHA512 = sum
		return nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", a.Path, err)
	}
	defer f.Close()
	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing %s: %w", a.Path, err)
	}
	a.SHA512 = hex.EncodeToString(h.Sum(nil))
	return nil
}

// lookupSum reads "<hash> [*]<file>" lines from sha512.sum next to the
// artifact.
func lookupSum(path string) string {
	dir, base := filepath.Split(path)
	data, err := os.ReadFile(filepath.Join(dir, "sha512.sum"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == base {
			return fields[0]
		}
	}
	return ""
}
