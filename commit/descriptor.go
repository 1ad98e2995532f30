// Package commit serializes a package set into the published index and
// commits it transactionally: stage, diff against the previous
// generation, relocate removed artifacts to the vault, then swap the
// index atomically and sign it.
package commit

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/etnz/repo-indexer/hint"
	"github.com/etnz/repo-indexer/repo"
	"github.com/etnz/repo-indexer/version"
)

// generatedAt prefixes the volatile comment line ignored when diffing.
const generatedAt = "# This file was automatically generated at "

// Serialize renders the set as the textual index descriptor.
func Serialize(set *repo.PackageSet) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "%s%s.\n", generatedAt, set.Timestamp.Format("2006-01-02 15:04:05 MST"))
	b.WriteString("#\n# If you edit it, your edits will be discarded next time the file is\n# generated.\n")
	if set.Release != "" {
		fmt.Fprintf(&b, "release: %s\n", set.Release)
	}
	fmt.Fprintf(&b, "arch: %s\n", set.Arch)
	fmt.Fprintf(&b, "setup-timestamp: %d\n", set.Timestamp.Unix())
	if set.GeneratorVersion != "" {
		fmt.Fprintf(&b, "generator-version: %s\n", set.GeneratorVersion)
	}

	for _, name := range set.Names() {
		pkg := set.Packages[name]
		if pkg.Skip() || pkg.SourceOnly() {
			continue
		}
		writePackage(&b, pkg)
	}
	return b.Bytes()
}

// writePackage emits one "@ name" block with its version sections,
// current version first and untagged. A package with no current version
// is still listed with its prev and test sections; the block metadata
// then comes from the newest version carrying a hint.
func writePackage(b *bytes.Buffer, pkg *repo.Package) {
	curr := pkg.Curr()
	meta := curr
	if meta == nil || meta.Hint == nil {
		meta = nil
		for _, pv := range descending(pkg) {
			if pv.Hint != nil {
				meta = pv
				break
			}
		}
	}
	if meta == nil {
		return
	}

	fmt.Fprintf(b, "\n@ %s\n", pkg.Name)
	fmt.Fprintf(b, "sdesc: %s\n", hint.Quote(meta.Hint.Sdesc))
	if meta.Hint.Ldesc != "" {
		fmt.Fprintf(b, "ldesc: %s\n", hint.Quote(meta.Hint.Ldesc))
	}
	categories := meta.Hint.Categories
	if len(pkg.Maintainers) == 0 {
		// orphaned packages are marked with a pseudo-category
		categories = append(append([]string{}, categories...), "Unmaintained")
	}
	fmt.Fprintf(b, "category: %s\n", strings.Join(categories, " "))
	if meta.Hint.Message != "" {
		fmt.Fprintf(b, "message: %s\n", meta.Hint.Message)
	}

	if curr != nil {
		writeVersion(b, curr, "")
	}
	for _, pv := range descending(pkg) {
		if pv == curr {
			continue
		}
		tag := "prev"
		if pv.Stability == version.Test {
			tag = "test"
		}
		writeVersion(b, pv, tag)
	}
}

// descending returns the package's versions from newest to oldest.
func descending(pkg *repo.Package) []*repo.PackageVersion {
	keys := pkg.SortedKeys()
	out := make([]*repo.PackageVersion, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out = append(out, pkg.Versions[keys[i]])
	}
	return out
}

func writeVersion(b *bytes.Buffer, pv *repo.PackageVersion, tag string) {
	if tag != "" {
		fmt.Fprintf(b, "[%s]\n", tag)
	}
	fmt.Fprintf(b, "version: %s\n", pv.EffectiveKey())
	if pv.Install != nil {
		writeArtifact(b, "install", pv.Install)
	}
	if pv.Source != nil {
		writeArtifact(b, "source", pv.Source)
	}
	if len(pv.Requires) > 0 {
		reqs := append([]string{}, pv.Requires...)
		sort.Strings(reqs)
		fmt.Fprintf(b, "requires: %s\n", strings.Join(reqs, " "))
	}
}

func writeArtifact(b *bytes.Buffer, field string, a *repo.Artifact) {
	fmt.Fprintf(b, "%s: %s %d %s\n", field, strings.ReplaceAll(a.RelPath, "\\", "/"), a.Size, a.SHA512)
}

// Changed reports whether two serialized indexes differ in anything but
// the volatile header: the generated-at comment and the
// setup-timestamp line are ignored, like a diff suppressing matches of
// those patterns.
func Changed(prev, next []byte) bool {
	return !bytes.Equal(stripVolatile(prev), stripVolatile(next))
}

func stripVolatile(data []byte) []byte {
	var out bytes.Buffer
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, generatedAt) || strings.HasPrefix(line, "setup-timestamp:") {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
