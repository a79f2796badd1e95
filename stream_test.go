// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"io"
	"testing"
)

func TestMemorySourceRanges(t *testing.T) {
	data := []byte("0123456789")
	src := NewMemorySource(data)

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"full", 0, SizeUnknown, "0123456789"},
		{"middle", 2, 5, "234"},
		{"clamped end", 8, 100, "89"},
		{"clamped start", -5, 3, "012"},
		{"inverted", 7, 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := src.Read(tt.start, tt.end)
			if err != nil {
				t.Fatalf("Read failed, reason: %v", err)
			}
			got, err := ReadAll(stream)
			if err != nil {
				t.Fatalf("ReadAll failed, reason: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("range read got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemoryFileSystemProgress(t *testing.T) {
	fs := NewMemoryFileSystem(map[string][]byte{"a.bin": make([]byte, 100)})

	var calls int
	var lastRead, lastTotal int64
	src, err := fs.CreateSource("a.bin", func(read, total int64) {
		calls++
		lastRead, lastTotal = read, total
	})
	if err != nil {
		t.Fatalf("CreateSource failed, reason: %v", err)
	}
	defer src.Close()

	if calls != 1 || lastRead != 100 || lastTotal != 100 {
		t.Errorf("progress got (%d calls, %d/%d), want one call at 100/100",
			calls, lastRead, lastTotal)
	}
	if !src.Seekable() || src.Size() != 100 {
		t.Errorf("memory source should be seekable with exact size")
	}

	if _, err := fs.CreateSource("missing", nil); err == nil {
		t.Errorf("CreateSource found a missing file")
	}
}

// chunkCountingStream records the pull sizes a buffered wrapper issues.
type chunkCountingStream struct {
	memoryStream
	pulls []int
}

func (s *chunkCountingStream) Read(dst []byte) (int, error) {
	s.pulls = append(s.pulls, len(dst))
	return s.memoryStream.Read(dst)
}

func TestBufferedStreamAmortizesPulls(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	inner := &chunkCountingStream{memoryStream: memoryStream{data: data}}
	buffered := NewBufferedStream(inner, 128)

	got := make([]byte, 0, len(data))
	one := make([]byte, 1)
	for {
		n, err := buffered.Read(one)
		got = append(got, one[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed, reason: %v", err)
		}
	}

	if !bytes.Equal(got, data) {
		t.Fatalf("buffered reads corrupted the stream")
	}
	if buffered.BytesRead() != int64(len(data)) {
		t.Errorf("BytesRead = %d, want %d", buffered.BytesRead(), len(data))
	}
	// 300 bytes at a 128 byte chunk size needs three refills, not 300.
	if len(inner.pulls) > 6 {
		t.Errorf("inner stream pulled %d times, want a handful", len(inner.pulls))
	}
	for _, p := range inner.pulls {
		if p < 1 {
			t.Errorf("zero-length inner pull")
		}
	}
}

func TestReadAllGrowth(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i * 31)
	}
	got, err := ReadAll(&memoryStream{data: data})
	if err != nil {
		t.Fatalf("ReadAll failed, reason: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadAll returned corrupted data")
	}
	if len(got) != len(data) {
		t.Errorf("ReadAll length = %d, want %d", len(got), len(data))
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := &memoryStream{data: []byte("abc")}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed, reason: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed, reason: %v", err)
	}
	if n, err := s.Read(make([]byte, 1)); n != 0 || err != io.EOF {
		t.Errorf("read after close got (%d, %v), want (0, EOF)", n, err)
	}
}
