package commit

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/etnz/repo-indexer/repo"
)

// ErrInvalidSet is returned when a candidate with error diagnostics is
// offered for commit. The previous generation stays untouched.
var ErrInvalidSet = errors.New("candidate package set is invalid")

// MoveList relocates files from one tree to another, preserving their
// relative paths. Renames fall back to copy-and-remove across devices.
type MoveList struct {
	FromRoot string
	ToRoot   string
	Paths    []string // relative paths
}

// Execute performs every move. The first failure stops the list and is
// returned; completed moves are not undone, the next run starts from
// current filesystem state.
func (l MoveList) Execute() error {
	for _, rel := range l.Paths {
		src := filepath.Join(l.FromRoot, rel)
		dst := filepath.Join(l.ToRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("moving %s: %w", rel, err)
		}
		if err := rename(src, dst); err != nil {
			return fmt.Errorf("moving %s: %w", rel, err)
		}
	}
	return nil
}

func rename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var lerr *os.LinkError
	if !errors.As(err, &lerr) {
		return err
	}
	// cross-device: copy then remove
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Committer publishes candidate package sets. One committer serves one
// index file.
type Committer struct {
	Log zerolog.Logger

	// IndexPath is the published index file. The staged copy, the
	// backup, the compressed copy and the signature all live next to
	// it.
	IndexPath string

	// ReleaseRoot is the tree the artifact relative paths are
	// anchored in.
	ReleaseRoot string

	// VaultDir receives removed artifacts, keeping their relative
	// paths.
	VaultDir string

	// Signer, when set, produces a detached signature for every new
	// generation.
	Signer *Signer
}

// Commit publishes the candidate set. Promotions (maintainer uploads
// accepted into the release tree) and vault relocations run first; any
// relocation failure aborts before the index is touched. The index is
// replaced only when the candidate differs from the previous generation
// beyond the volatile header, and the signature is refreshed only in
// that case. It reports whether a new generation was produced.
func (c *Committer) Commit(set *repo.PackageSet, valid bool, promotions []MoveList, removals []repo.Removal) (bool, error) {
	if !valid {
		return false, ErrInvalidSet
	}

	for _, l := range promotions {
		if err := l.Execute(); err != nil {
			return false, err
		}
	}
	if len(removals) > 0 {
		vault := MoveList{FromRoot: c.ReleaseRoot, ToRoot: c.VaultDir}
		for _, r := range removals {
			vault.Paths = append(vault.Paths, r.RelPath)
		}
		if err := vault.Execute(); err != nil {
			return false, fmt.Errorf("vaulting removed artifacts: %w", err)
		}
		// the requests are served, clear them so the next run does not
		// try to vault the same artifacts again
		for _, r := range removals {
			if r.Marker == "" {
				continue
			}
			if err := os.Remove(r.Marker); err != nil && !os.IsNotExist(err) {
				c.Log.Warn().Err(err).Str("marker", r.Marker).Msg("could not clear remove request")
			}
		}
		c.Log.Info().Int("count", len(removals)).Str("vault", c.VaultDir).Msg("artifacts vaulted")
	}

	data := Serialize(set)

	prev, err := os.ReadFile(c.IndexPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading previous index: %w", err)
	}
	if err == nil && !Changed(prev, data) {
		c.Log.Info().Str("index", c.IndexPath).Msg("no substantive change, keeping previous generation")
		return false, nil
	}

	if err := c.replaceIndex(data, prev != nil); err != nil {
		return false, err
	}
	if err := c.writeCompressed(data); err != nil {
		return false, err
	}
	if c.Signer != nil {
		sig, err := c.Signer.Sign(data)
		if err != nil {
			return false, fmt.Errorf("signing index: %w", err)
		}
		if err := stageAndRename(c.IndexPath+".sig", sig); err != nil {
			return false, err
		}
	}
	c.Log.Info().Str("index", c.IndexPath).Msg("new generation committed")
	return true, nil
}

// replaceIndex writes the new index next to the old one and swaps it in
// with a rename, keeping the previous generation as a .bak file.
func (c *Committer) replaceIndex(data []byte, hadPrevious bool) error {
	if hadPrevious {
		if err := os.Rename(c.IndexPath, c.IndexPath+".bak"); err != nil {
			return fmt.Errorf("backing up previous index: %w", err)
		}
	}
	return stageAndRename(c.IndexPath, data)
}

func (c *Committer) writeCompressed(data []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return stageAndRename(c.IndexPath+".gz", buf.Bytes())
}

// stageAndRename writes data to a temp file in the target directory,
// syncs it, and renames it over path so readers never observe a
// half-written file.
func stageAndRename(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("staging %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("staging %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("staging %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("staging %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing %s: %w", path, err)
	}
	return nil
}
