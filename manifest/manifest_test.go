package manifest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/blakesmith/ar"
)

func tarball(t *testing.T, compress bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w *tar.Writer
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		w = tar.NewWriter(gz)
	} else {
		w = tar.NewWriter(&buf)
	}

	if err := w.WriteHeader(&tar.Header{Name: "usr/bin/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	body := []byte("#!/bin/sh\n")
	if err := w.WriteHeader(&tar.Header{Name: "./usr/bin/tool", Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(&tar.Header{Name: "usr/bin/t", Typeflag: tar.TypeSymlink, Linkname: "tool", Mode: 0o777}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

var wantEntries = []Entry{
	{Path: "usr/bin/tool"},
	{Path: "usr/bin/t", Symlink: true},
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListTarGz(t *testing.T) {
	path := writeFile(t, "tool-1.0-1.tar.gz", tarball(t, true))
	got, err := List(path)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got, wantEntries) {
		t.Errorf("List = %v, want %v", got, wantEntries)
	}
}

func TestListPlainTar(t *testing.T) {
	path := writeFile(t, "tool-1.0-1.tar", tarball(t, false))
	got, err := List(path)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got, wantEntries) {
		t.Errorf("List = %v, want %v", got, wantEntries)
	}
}

// a deb container must yield the same manifest as the equivalent tar.gz
func TestListDeb(t *testing.T) {
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatal(err)
	}
	write := func(name string, body []byte) {
		hdr := &ar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), ModTime: time.Unix(0, 0)}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	write("debian-binary", []byte("2.0\n"))
	write("control.tar.gz", tarball(t, true))
	write("data.tar.gz", tarball(t, true))

	path := writeFile(t, "tool_1.0-1_amd64.deb", buf.Bytes())
	got, err := List(path)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got, wantEntries) {
		t.Errorf("List = %v, want %v", got, wantEntries)
	}
}

func TestListEmptyPlaceholder(t *testing.T) {
	path := writeFile(t, "tool-1.0-1.tar.gz", make([]byte, EmptyThreshold))
	got, err := List(path)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("placeholder manifest = %v, want empty", got)
	}
}

func TestListTooSmall(t *testing.T) {
	path := writeFile(t, "tool-1.0-1.tar.gz", make([]byte, MinArchiveSize-1))
	if _, err := List(path); !errors.Is(err, ErrTooSmall) {
		t.Errorf("List err = %v, want ErrTooSmall", err)
	}
}

func TestCacheCarryForward(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "manifests.json")
	artifact := filepath.Join(dir, "tool-1.0-1.tar.gz")
	if err := os.WriteFile(artifact, tarball(t, true), 0o644); err != nil {
		t.Fatal(err)
	}

	c := LoadCache(cachePath)
	got, carried, err := c.ListCached(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if carried {
		t.Error("first inspection reported as carried")
	}
	if !reflect.DeepEqual(got, wantEntries) {
		t.Errorf("entries = %v", got)
	}

	got, carried, err = c.ListCached(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if !carried {
		t.Error("second inspection not carried")
	}
	if !reflect.DeepEqual(got, wantEntries) {
		t.Errorf("carried entries = %v", got)
	}

	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	// a reloaded cache still carries the unchanged artifact
	c2 := LoadCache(cachePath)
	if _, carried, _ := c2.ListCached(artifact); !carried {
		t.Error("persisted entry not carried after reload")
	}

	// a changed identity forces re-extraction
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(artifact, future, future); err != nil {
		t.Fatal(err)
	}
	if _, carried, _ := c2.ListCached(artifact); carried {
		t.Error("stale entry carried after mtime change")
	}
}

func TestCacheInvalidate(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "tool-1.0-1.tar.gz")
	if err := os.WriteFile(artifact, tarball(t, true), 0o644); err != nil {
		t.Fatal(err)
	}
	c := LoadCache(filepath.Join(dir, "manifests.json"))
	if _, _, err := c.ListCached(artifact); err != nil {
		t.Fatal(err)
	}
	c.Invalidate(artifact)
	if _, carried, _ := c.ListCached(artifact); carried {
		t.Error("invalidated entry still carried")
	}
}

func TestLoadCacheCorrupt(t *testing.T) {
	path := writeFile(t, "manifests.json", []byte("{not json"))
	c := LoadCache(path)
	if c == nil {
		t.Fatal("LoadCache returned nil for corrupt file")
	}
	if _, ok := c.Lookup("x", 1, time.Now()); ok {
		t.Error("corrupt cache produced a hit")
	}
}
