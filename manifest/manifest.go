// Package manifest extracts the file list of install artifacts and
// memoizes it on disk, keyed by artifact identity, so an unchanged
// artifact is inspected at most once across runs.
package manifest

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const (
	// EmptyThreshold is the largest size of a valid empty-archive
	// placeholder. Such an artifact has an empty manifest and must
	// never be extracted.
	EmptyThreshold = 32
	// MinArchiveSize is the smallest size of any valid artifact.
	MinArchiveSize = 14
)

// ErrTooSmall marks an artifact below MinArchiveSize.
var ErrTooSmall = errors.New("artifact too small to be an archive")

// Entry is one path in an artifact's manifest.
type Entry struct {
	Path    string `json:"path"`
	Symlink bool   `json:"symlink,omitempty"`
}

// List extracts the manifest of the artifact at path. Supported
// containers are tar archives, optionally compressed with gzip, bzip2,
// xz or zstd, and ar-wrapped debs whose payload lives in a data.tar
// member. An artifact no larger than EmptyThreshold is a valid empty
// placeholder with an empty manifest.
func List(path string) ([]Entry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() < MinArchiveSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", path, fi.Size(), ErrTooSmall)
	}
	if fi.Size() <= EmptyThreshold {
		return []Entry{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	if strings.HasSuffix(path, ".deb") {
		entries, err = listDeb(f)
	} else {
		entries, err = listTar(f, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return entries, nil
}

// listTar walks a possibly compressed tar stream.
func listTar(r io.Reader, name string) ([]Entry, error) {
	dr, err := decompress(r, name)
	if err != nil {
		return nil, err
	}
	return walkTar(dr)
}

// listDeb locates the data.tar member inside an ar container and walks
// its payload.
func listDeb(r io.Reader) ([]Entry, error) {
	arr := ar.NewReader(r)
	for {
		hdr, err := arr.Next()
		if err == io.EOF {
			return nil, errors.New("no data.tar member found")
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if strings.HasPrefix(name, "data.tar") {
			return listTar(arr, name)
		}
	}
}

// decompress wraps r according to the archive name's final extension.
func decompress(r io.Reader, name string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".bz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(name, ".xz"):
		return xz.NewReader(r)
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case strings.HasSuffix(name, ".tar"):
		return r, nil
	}
	// no recognized extension, sniff for gzip
	br := make([]byte, 2)
	if _, err := io.ReadFull(r, br); err != nil {
		return nil, err
	}
	rest := io.MultiReader(bytes.NewReader(br), r)
	if br[0] == 0x1f && br[1] == 0x8b {
		return gzip.NewReader(rest)
	}
	return rest, nil
}

func walkTar(r io.Reader) ([]Entry, error) {
	entries := []Entry{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		p := strings.TrimPrefix(hdr.Name, "./")
		if p == "" {
			continue
		}
		entries = append(entries, Entry{
			Path:    p,
			Symlink: hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink,
		})
	}
}
