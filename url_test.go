// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// rangeHandler serves data honoring Range requests.
func rangeHandler(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Write(data)
			return
		}
		var start, end int
		if _, err := fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}
}

func TestURLSourceSeekable(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	server := httptest.NewServer(rangeHandler(data))
	defer server.Close()

	fs := NewURLFileSystem(server.Client())
	src, err := fs.CreateSource(server.URL, nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()

	if !src.Seekable() {
		t.Fatalf("range-capable server must yield a seekable source")
	}
	if src.Size() != int64(len(data)) {
		t.Fatalf("size = %d, want %d", src.Size(), len(data))
	}

	stream, err := src.Read(4, 9)
	if err != nil {
		t.Fatalf("Read failed, reason: %v", err)
	}
	got, err := ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll failed, reason: %v", err)
	}
	if string(got) != "quick" {
		t.Errorf("ranged read got %q, want %q", got, "quick")
	}
}

func TestURLSourceFallbackDownload(t *testing.T) {
	data := []byte("no ranges here")
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Ignore Range entirely, as a simple server would.
		w.Write(data)
	}))
	defer server.Close()

	fs := NewURLFileSystem(server.Client())
	src, err := fs.CreateSource(server.URL, nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()

	if src.Size() != int64(len(data)) {
		t.Fatalf("size = %d, want %d", src.Size(), len(data))
	}

	// The whole resource was downloaded once up front; further reads are
	// served from memory.
	before := requests
	stream, err := src.Read(3, 9)
	if err != nil {
		t.Fatalf("Read failed, reason: %v", err)
	}
	got, err := ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll failed, reason: %v", err)
	}
	if string(got) != "ranges" {
		t.Errorf("read got %q, want %q", got, "ranges")
	}
	if requests != before {
		t.Errorf("memory-backed source issued %d extra requests", requests-before)
	}
}

func TestURLRangeProbeHeader(t *testing.T) {
	var probe string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probe == "" {
			probe = r.Header.Get("Range")
		}
		w.Write([]byte("x"))
	}))
	defer server.Close()

	fs := NewURLFileSystem(server.Client())
	src, err := fs.CreateSource(server.URL, nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	src.Close()

	if probe != "bytes=0-0" {
		t.Errorf("probe range = %q, want %q", probe, "bytes=0-0")
	}
}

func TestURLInclusiveRangeEnds(t *testing.T) {
	data := make([]byte, 100)
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges = append(ranges, r.Header.Get("Range"))
		rangeHandler(data)(w, r)
	}))
	defer server.Close()

	fs := NewURLFileSystem(server.Client())
	src, err := fs.CreateSource(server.URL, nil)
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()

	stream, err := src.Read(10, 20)
	if err != nil {
		t.Fatalf("Read failed, reason: %v", err)
	}
	if _, err := ReadAll(stream); err != nil {
		t.Fatalf("ReadAll failed, reason: %v", err)
	}

	// The half-open [10, 20) request must hit the wire as the inclusive
	// bytes=10-19.
	found := false
	for _, r := range ranges {
		if r == "bytes=10-19" {
			found = true
		}
	}
	if !found {
		t.Errorf("ranges issued %v, want bytes=10-19 among them", ranges)
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"bytes 0-0/1234", 1234},
		{"bytes 5-9/42", 42},
		{"bytes 0-0/*", -1},
		{"garbage", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := parseContentRangeTotal(tt.in); got != tt.want {
			t.Errorf("parseContentRangeTotal(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestURLProgressReported(t *testing.T) {
	data := []byte(strings.Repeat("a", 1000))
	server := httptest.NewServer(rangeHandler(data))
	defer server.Close()

	var reports []int64
	fs := NewURLFileSystem(server.Client())
	src, err := fs.CreateSource(server.URL, func(read, total int64) {
		reports = append(reports, read)
	})
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()

	if len(reports) == 0 {
		t.Fatalf("progress never fired")
	}
	if reports[0] != 0 {
		t.Errorf("first progress report = %d, want 0", reports[0])
	}
}
