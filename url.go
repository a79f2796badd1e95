// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// URLFileSystem reads sources over HTTP(S). Servers advertising byte-range
// support serve seekable ranged streams; everything else is downloaded once
// into a memory source.
type URLFileSystem struct {
	client *http.Client
}

// NewURLFileSystem returns a filesystem backed by client, or
// http.DefaultClient when nil.
func NewURLFileSystem(client *http.Client) *URLFileSystem {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLFileSystem{client: client}
}

// CreateSource probes Range support with a one-byte request. A partial
// content response yields a seekable ranged source sized from
// Content-Range; anything else falls back to a full download.
func (fs *URLFileSystem) CreateSource(name string, progress ProgressFunc) (ReadSource, error) {
	req, err := http.NewRequest(http.MethodGet, name, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := fs.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusPartialContent {
		size := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		if size >= 0 {
			if progress != nil {
				progress(0, size)
			}
			return &urlSource{
				client:   fs.client,
				url:      name,
				size:     size,
				progress: progress,
			}, nil
		}
		// Partial content without a usable Content-Range; re-fetch whole.
	} else {
		resp.Body.Close()
	}

	// No range support: download the resource once.
	resp, err = fs.client.Get(name)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", name, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return NewMemorySource(data), nil
}

// parseContentRangeTotal extracts the total length from a
// "bytes start-end/total" header, returning -1 when absent or unparsable.
func parseContentRangeTotal(v string) int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 {
		return -1
	}
	total := v[idx+1:]
	if total == "*" {
		return -1
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// urlSource issues one ranged GET per stream.
type urlSource struct {
	client   *http.Client
	url      string
	size     int64
	progress ProgressFunc
	closed   bool
}

func (u *urlSource) Size() int64    { return u.size }
func (u *urlSource) Seekable() bool { return true }

func (u *urlSource) Read(start, end int64) (ReadStream, error) {
	if u.closed {
		return nil, fmt.Errorf("url source closed")
	}
	start, end = clampRange(start, end, u.size)
	if start == end {
		return &memoryStream{}, nil
	}

	req, err := http.NewRequest(http.MethodGet, u.url, nil)
	if err != nil {
		return nil, err
	}
	// HTTP ranges use an inclusive end byte.
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", u.url, resp.Status)
	}
	return &urlStream{
		body:     resp.Body,
		expected: end - start,
		progress: u.progress,
	}, nil
}

func (u *urlSource) Close() error {
	u.closed = true
	return nil
}

// urlStream adapts a response body to ReadStream.
type urlStream struct {
	body     io.ReadCloser
	expected int64
	read     int64
	progress ProgressFunc
	closed   bool
}

func (s *urlStream) Read(dst []byte) (int, error) {
	if s.closed {
		return 0, io.EOF
	}
	n, err := s.body.Read(dst)
	s.read += int64(n)
	if s.progress != nil && n > 0 {
		s.progress(s.read, s.expected)
	}
	if err != nil && err != io.EOF {
		return n, err
	}
	if err == io.EOF {
		return n, io.EOF
	}
	return n, nil
}

func (s *urlStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *urlStream) BytesRead() int64    { return s.read }
func (s *urlStream) ExpectedSize() int64 { return s.expected }
