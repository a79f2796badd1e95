// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"io"
)

// SizeUnknown marks a ReadSource whose byte length cannot be determined up
// front (a non-seekable URL, for example).
const SizeUnknown = int64(-1)

// readAllInitialCap is the starting capacity of ReadAll when the stream has
// no expected size hint.
const readAllInitialCap = 64 * 1024

// ProgressFunc reports read progress. total is SizeUnknown when the source
// length is not known. It fires at least once per source and on each pull.
type ProgressFunc func(read, total int64)

// ReadStream is a pull-based byte producer over a bounded byte range.
// Read follows io.Reader semantics: (0, io.EOF) signals end of stream.
// Close must be idempotent and aborts any pending pull.
type ReadStream interface {
	io.ReadCloser

	// BytesRead returns the total number of bytes pulled so far.
	BytesRead() int64

	// ExpectedSize returns the number of bytes the stream is scoped to, or
	// SizeUnknown.
	ExpectedSize() int64
}

// ReadSource is an addressable resource that vends streams over byte ranges.
type ReadSource interface {
	// Size returns the exact byte length, or SizeUnknown.
	Size() int64

	// Seekable reports whether ranged reads are supported. Non-seekable
	// sources must be read with Read(0, SizeUnknown) exactly.
	Seekable() bool

	// Read returns a fresh stream over the half-open range [start, end),
	// clamped to [0, Size]. Pass end = SizeUnknown to read to the end.
	Read(start, end int64) (ReadStream, error)

	// Close releases the source and aborts open streams.
	Close() error
}

// ReadFileSystem creates sources by name.
type ReadFileSystem interface {
	CreateSource(name string, progress ProgressFunc) (ReadSource, error)
}

// ReadAll pulls the stream to EOF and returns the exact-length contents. The
// buffer starts at the stream's expected size when known and doubles as
// needed.
func ReadAll(s ReadStream) ([]byte, error) {
	capacity := int64(readAllInitialCap)
	if hint := s.ExpectedSize(); hint > 0 {
		capacity = hint
	}
	buf := make([]byte, capacity)
	n := 0
	for {
		if n == len(buf) {
			grown := make([]byte, len(buf)*2)
			copy(grown, buf)
			buf = grown
		}
		read, err := s.Read(buf[n:])
		n += read
		if err == io.EOF {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// clampRange resolves a [start, end) request against a known size.
func clampRange(start, end, size int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if end == SizeUnknown || end > size {
		end = size
	}
	if start > end {
		start = end
	}
	return start, end
}

// memoryStream serves a byte slice.
type memoryStream struct {
	data     []byte
	off      int
	closed   bool
	progress ProgressFunc
}

func (s *memoryStream) Read(dst []byte) (int, error) {
	if s.closed || s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(dst, s.data[s.off:])
	s.off += n
	if s.progress != nil {
		s.progress(int64(s.off), int64(len(s.data)))
	}
	return n, nil
}

func (s *memoryStream) Close() error {
	s.closed = true
	return nil
}

func (s *memoryStream) BytesRead() int64    { return int64(s.off) }
func (s *memoryStream) ExpectedSize() int64 { return int64(len(s.data)) }

// MemorySource is a seekable source over an in-memory byte slice.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data without copying.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (m *MemorySource) Size() int64    { return int64(len(m.data)) }
func (m *MemorySource) Seekable() bool { return true }

func (m *MemorySource) Read(start, end int64) (ReadStream, error) {
	start, end = clampRange(start, end, int64(len(m.data)))
	return &memoryStream{data: m.data[start:end]}, nil
}

func (m *MemorySource) Close() error { return nil }

// MemoryFileSystem maps names to byte slices. Sources are always seekable;
// progress is reported once at completion.
type MemoryFileSystem struct {
	files map[string][]byte
}

// NewMemoryFileSystem builds a filesystem over the given name -> contents map.
func NewMemoryFileSystem(files map[string][]byte) *MemoryFileSystem {
	if files == nil {
		files = make(map[string][]byte)
	}
	return &MemoryFileSystem{files: files}
}

// Add registers contents under name.
func (fs *MemoryFileSystem) Add(name string, data []byte) {
	fs.files[name] = data
}

// CreateSource implements ReadFileSystem.
func (fs *MemoryFileSystem) CreateSource(name string, progress ProgressFunc) (ReadSource, error) {
	data, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("memory file %q not found", name)
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return NewMemorySource(data), nil
}

// bufferedStream amortizes small pulls: each refill requests at least
// chunkSize bytes from the inner stream and serves callers from the
// retained remainder.
type bufferedStream struct {
	inner     ReadStream
	chunkSize int
	buf       []byte
	pos       int
	read      int64
	eof       bool
}

// defaultStreamChunk is the buffered stream refill size.
const defaultStreamChunk = 64 * 1024

// NewBufferedStream wraps inner with an amortizing read buffer. chunkSize
// <= 0 selects the 64 KiB default.
func NewBufferedStream(inner ReadStream, chunkSize int) ReadStream {
	if chunkSize <= 0 {
		chunkSize = defaultStreamChunk
	}
	return &bufferedStream{inner: inner, chunkSize: chunkSize}
}

func (s *bufferedStream) Read(dst []byte) (int, error) {
	if s.pos == len(s.buf) {
		if s.eof {
			return 0, io.EOF
		}
		if cap(s.buf) < s.chunkSize {
			s.buf = make([]byte, s.chunkSize)
		}
		s.buf = s.buf[:cap(s.buf)]
		n := 0
		for n < s.chunkSize {
			read, err := s.inner.Read(s.buf[n:])
			n += read
			if err == io.EOF {
				s.eof = true
				break
			}
			if err != nil {
				return 0, err
			}
		}
		s.buf = s.buf[:n]
		s.pos = 0
		if n == 0 {
			return 0, io.EOF
		}
	}
	n := copy(dst, s.buf[s.pos:])
	s.pos += n
	s.read += int64(n)
	return n, nil
}

func (s *bufferedStream) Close() error        { return s.inner.Close() }
func (s *bufferedStream) BytesRead() int64    { return s.read }
func (s *bufferedStream) ExpectedSize() int64 { return s.inner.ExpectedSize() }

// readFull pulls exactly len(dst) bytes from s, failing on a short stream.
func readFull(s ReadStream, dst []byte) error {
	n := 0
	for n < len(dst) {
		read, err := s.Read(dst[n:])
		n += read
		if err == io.EOF {
			if n < len(dst) {
				return io.ErrUnexpectedEOF
			}
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}
