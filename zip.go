// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Zip record signatures and layouts.
const (
	zipEOCDSignature    = 0x06054b50
	zipCentralSignature = 0x02014b50
	zipLocalSignature   = 0x04034b50

	zipEOCDSize    = 22
	zipCentralSize = 46
	zipLocalSize   = 30

	// Compression methods.
	zipMethodStore   = 0
	zipMethodDeflate = 8

	// Longest possible EOCD scan window: record plus a 64 KiB comment.
	zipEOCDScan = zipEOCDSize + 0xFFFF
)

// zipEntry describes one central directory record.
type zipEntry struct {
	name             string
	method           uint16
	compressedSize   int64
	uncompressedSize int64
	localOffset      int64
	dataOffset       int64 // resolved lazily from the local header
}

// ZipFileSystem exposes the entries of a zip archive as read sources.
// Stored entries become direct range views of the container; deflated
// entries are inflated into memory sources when opened. Zip64 archives are
// rejected.
type ZipFileSystem struct {
	source  ReadSource
	entries map[string]*zipEntry
}

// NewZipFileSystem parses the archive's central directory. Non-seekable
// containers are slurped into memory first.
func NewZipFileSystem(source ReadSource) (*ZipFileSystem, error) {
	if !source.Seekable() || source.Size() == SizeUnknown {
		s, err := source.Read(0, SizeUnknown)
		if err != nil {
			return nil, err
		}
		data, err := ReadAll(s)
		s.Close()
		if err != nil {
			return nil, err
		}
		source = NewMemorySource(data)
	}

	fs := &ZipFileSystem{source: source, entries: make(map[string]*zipEntry)}
	if err := fs.parseCentralDirectory(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Names returns the entry names in the archive.
func (fs *ZipFileSystem) Names() []string {
	names := make([]string, 0, len(fs.entries))
	for name := range fs.entries {
		names = append(names, name)
	}
	return names
}

// Has reports whether the archive contains the named entry.
func (fs *ZipFileSystem) Has(name string) bool {
	_, ok := fs.entries[name]
	return ok
}

// Close releases the underlying container source.
func (fs *ZipFileSystem) Close() error { return fs.source.Close() }

// readRange pulls [start, end) from the container into a fresh buffer.
func (fs *ZipFileSystem) readRange(start, end int64) ([]byte, error) {
	s, err := fs.source.Read(start, end)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	buf := make([]byte, end-start)
	if err := readFull(s, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// parseCentralDirectory locates the end-of-central-directory record and
// walks the central directory records it points at.
func (fs *ZipFileSystem) parseCentralDirectory() error {
	size := fs.source.Size()
	if size < zipEOCDSize {
		return ErrZipBadArchive
	}

	scan := int64(zipEOCDScan)
	if scan > size {
		scan = size
	}
	tail, err := fs.readRange(size-scan, size)
	if err != nil {
		return err
	}

	// Scan backwards for the EOCD signature; the comment may contain
	// arbitrary bytes, so accept only a record whose comment length fits.
	eocd := -1
	for i := len(tail) - zipEOCDSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != zipEOCDSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+zipEOCDSize+commentLen == len(tail) {
			eocd = i
			break
		}
	}
	if eocd < 0 {
		return ErrZipBadArchive
	}

	rec := tail[eocd:]
	diskEntries := binary.LittleEndian.Uint16(rec[8:])
	totalEntries := binary.LittleEndian.Uint16(rec[10:])
	cdSize := binary.LittleEndian.Uint32(rec[12:])
	cdOffset := binary.LittleEndian.Uint32(rec[16:])

	if totalEntries == 0xFFFF || cdSize == 0xFFFFFFFF || cdOffset == 0xFFFFFFFF {
		return ErrZip64Unsupported
	}
	if diskEntries != totalEntries {
		return fmt.Errorf("%w: multi-disk archive", ErrZipBadArchive)
	}

	cd, err := fs.readRange(int64(cdOffset), int64(cdOffset)+int64(cdSize))
	if err != nil {
		return err
	}

	off := 0
	for i := 0; i < int(totalEntries); i++ {
		if off+zipCentralSize > len(cd) ||
			binary.LittleEndian.Uint32(cd[off:]) != zipCentralSignature {
			return ErrZipBadArchive
		}
		method := binary.LittleEndian.Uint16(cd[off+10:])
		csize := binary.LittleEndian.Uint32(cd[off+20:])
		usize := binary.LittleEndian.Uint32(cd[off+24:])
		nameLen := int(binary.LittleEndian.Uint16(cd[off+28:]))
		extraLen := int(binary.LittleEndian.Uint16(cd[off+30:]))
		commentLen := int(binary.LittleEndian.Uint16(cd[off+32:]))
		localOffset := binary.LittleEndian.Uint32(cd[off+42:])

		if csize == 0xFFFFFFFF || usize == 0xFFFFFFFF || localOffset == 0xFFFFFFFF {
			return ErrZip64Unsupported
		}
		if off+zipCentralSize+nameLen > len(cd) {
			return ErrZipBadArchive
		}
		name := string(cd[off+zipCentralSize : off+zipCentralSize+nameLen])

		fs.entries[name] = &zipEntry{
			name:             name,
			method:           method,
			compressedSize:   int64(csize),
			uncompressedSize: int64(usize),
			localOffset:      int64(localOffset),
			dataOffset:       -1,
		}
		off += zipCentralSize + nameLen + extraLen + commentLen
	}
	return nil
}

// resolveDataOffset reads the entry's local header to skip its variable
// length name and extra fields.
func (fs *ZipFileSystem) resolveDataOffset(e *zipEntry) error {
	if e.dataOffset >= 0 {
		return nil
	}
	hdr, err := fs.readRange(e.localOffset, e.localOffset+zipLocalSize)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(hdr) != zipLocalSignature {
		return ErrZipBadArchive
	}
	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
	e.dataOffset = e.localOffset + zipLocalSize + nameLen + extraLen
	return nil
}

// CreateSource implements ReadFileSystem over the archive entries.
func (fs *ZipFileSystem) CreateSource(name string, progress ProgressFunc) (ReadSource, error) {
	e, ok := fs.entries[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	if err := fs.resolveDataOffset(e); err != nil {
		return nil, err
	}

	switch e.method {
	case zipMethodStore:
		if progress != nil {
			progress(e.uncompressedSize, e.uncompressedSize)
		}
		return &zipRangeSource{
			fs:     fs,
			off:    e.dataOffset,
			length: e.uncompressedSize,
		}, nil

	case zipMethodDeflate:
		raw, err := fs.readRange(e.dataOffset, e.dataOffset+e.compressedSize)
		if err != nil {
			return nil, err
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		data := make([]byte, e.uncompressedSize)
		if _, err := io.ReadFull(fr, data); err != nil {
			fr.Close()
			return nil, fmt.Errorf("inflating zip entry %q: %w", name, err)
		}
		fr.Close()
		if progress != nil {
			progress(e.uncompressedSize, e.uncompressedSize)
		}
		return NewMemorySource(data), nil
	}
	return nil, fmt.Errorf("zip entry %q: %w", name, ErrZipMethod)
}

// zipRangeSource is a seekable view over a stored entry's bytes in the
// container.
type zipRangeSource struct {
	fs     *ZipFileSystem
	off    int64
	length int64
}

func (z *zipRangeSource) Size() int64    { return z.length }
func (z *zipRangeSource) Seekable() bool { return true }

func (z *zipRangeSource) Read(start, end int64) (ReadStream, error) {
	start, end = clampRange(start, end, z.length)
	return z.fs.source.Read(z.off+start, z.off+end)
}

func (z *zipRangeSource) Close() error { return nil }
