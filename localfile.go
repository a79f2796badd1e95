// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// localFileSource is a seekable source over a memory-mapped local file.
// Mapping the file instead of issuing positioned reads lets every range
// request become a slice view with no copying.
type localFileSource struct {
	f        *os.File
	data     mmap.MMap
	progress ProgressFunc
	closed   bool
}

// LocalFileSystem reads sources from the operating system filesystem.
type LocalFileSystem struct{}

// NewLocalFileSystem returns the OS-backed filesystem.
func NewLocalFileSystem() *LocalFileSystem { return &LocalFileSystem{} }

// CreateSource opens and memory-maps the named file.
func (fs *LocalFileSystem) CreateSource(name string, progress ProgressFunc) (ReadSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// An empty file cannot be mapped; serve it from memory.
	if fi.Size() == 0 {
		f.Close()
		if progress != nil {
			progress(0, 0)
		}
		return NewMemorySource(nil), nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	if progress != nil {
		progress(0, fi.Size())
	}
	return &localFileSource{f: f, data: data, progress: progress}, nil
}

func (s *localFileSource) Size() int64    { return int64(len(s.data)) }
func (s *localFileSource) Seekable() bool { return true }

func (s *localFileSource) Read(start, end int64) (ReadStream, error) {
	if s.closed {
		return nil, os.ErrClosed
	}
	start, end = clampRange(start, end, int64(len(s.data)))
	return &memoryStream{data: s.data[start:end], progress: s.progress}, nil
}

func (s *localFileSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.data.Unmap()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
