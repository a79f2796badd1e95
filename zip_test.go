// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

// buildZip assembles an archive with the given entries and method.
func buildZip(t *testing.T, entries map[string][]byte, method uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("zip create failed, reason: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("zip write failed, reason: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close failed, reason: %v", err)
	}
	return buf.Bytes()
}

func TestZipFileSystemStoredAndDeflated(t *testing.T) {
	entries := map[string][]byte{
		"small.txt": []byte("hello zip"),
		"big.bin":   bytes.Repeat([]byte("0123456789abcdef"), 1024),
	}

	for _, tt := range []struct {
		name   string
		method uint16
	}{
		{"stored", zip.Store},
		{"deflated", zip.Deflate},
	} {
		t.Run(tt.name, func(t *testing.T) {
			archive := buildZip(t, entries, tt.method)
			fs, err := NewZipFileSystem(NewMemorySource(archive))
			if err != nil {
				t.Fatalf("NewZipFileSystem failed, reason: %v", err)
			}
			defer fs.Close()

			if len(fs.Names()) != len(entries) {
				t.Fatalf("entries = %d, want %d", len(fs.Names()), len(entries))
			}
			for name, want := range entries {
				if !fs.Has(name) {
					t.Fatalf("entry %q missing", name)
				}
				src, err := fs.CreateSource(name, nil)
				if err != nil {
					t.Fatalf("CreateSource(%q) failed, reason: %v", name, err)
				}
				stream, err := src.Read(0, SizeUnknown)
				if err != nil {
					t.Fatalf("Read failed, reason: %v", err)
				}
				got, err := ReadAll(stream)
				if err != nil {
					t.Fatalf("ReadAll failed, reason: %v", err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("entry %q contents differ", name)
				}
				src.Close()
			}
		})
	}
}

func TestZipFileSystemRangedStoredEntry(t *testing.T) {
	archive := buildZip(t, map[string][]byte{"a.bin": []byte("0123456789")}, zip.Store)
	fs, err := NewZipFileSystem(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("NewZipFileSystem failed, reason: %v", err)
	}
	src, err := fs.CreateSource("a.bin", nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	if !src.Seekable() {
		t.Fatalf("stored entry must be seekable")
	}
	stream, err := src.Read(3, 7)
	if err != nil {
		t.Fatalf("ranged Read failed, reason: %v", err)
	}
	got, err := ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll failed, reason: %v", err)
	}
	if string(got) != "3456" {
		t.Errorf("ranged read got %q, want %q", got, "3456")
	}
}

func TestZipFileSystemErrors(t *testing.T) {
	if _, err := NewZipFileSystem(NewMemorySource([]byte("not a zip"))); !errors.Is(err, ErrZipBadArchive) {
		t.Errorf("garbage archive got error %v, want %v", err, ErrZipBadArchive)
	}

	archive := buildZip(t, map[string][]byte{"x": []byte("y")}, zip.Store)
	fs, err := NewZipFileSystem(NewMemorySource(archive))
	if err != nil {
		t.Fatalf("NewZipFileSystem failed, reason: %v", err)
	}
	if _, err := fs.CreateSource("missing", nil); err == nil {
		t.Errorf("CreateSource found a missing entry")
	}
}

func TestSogBundleIsPlainZip(t *testing.T) {
	files := SogFiles{
		"meta.json": []byte(`{"version":2}`),
		"a.webp":    []byte("AAAA"),
	}
	var buf bytes.Buffer
	if err := WriteSogBundle(&buf, files); err != nil {
		t.Fatalf("WriteSogBundle failed, reason: %v", err)
	}

	// A conforming third-party reader accepts the archive.
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("stdlib zip rejected the bundle, reason: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("bundle holds %d entries, want 2", len(zr.File))
	}
	for _, f := range zr.File {
		if f.Method != zip.Store {
			t.Errorf("entry %q uses method %d, want STORE", f.Name, f.Method)
		}
	}

	// So does this package's own reader.
	fs, err := NewZipFileSystem(NewMemorySource(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewZipFileSystem failed, reason: %v", err)
	}
	if !fs.Has("meta.json") || !fs.Has("a.webp") {
		t.Errorf("bundle entries missing from own reader")
	}
}
