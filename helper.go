// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"errors"
	"math"
)

// Errors
var (

	// ErrNotPly is returned when the input is missing the "ply\n" magic.
	ErrNotPly = errors.New("not a ply file, magic not found")

	// ErrPlyHeaderTooLarge is returned when no end_header marker is found
	// within the header size cap.
	ErrPlyHeaderTooLarge = errors.New("ply header end marker not found within 128 KiB")

	// ErrPlyUnsupportedFormat is returned for any ply format other than
	// binary_little_endian 1.0 (ascii and big-endian are not supported).
	ErrPlyUnsupportedFormat = errors.New("unsupported ply format, expected binary_little_endian 1.0")

	// ErrPlyMissingVertex is returned when a standard ply carries no vertex
	// element.
	ErrPlyMissingVertex = errors.New("ply file has no vertex element")

	// ErrEmptyTable is returned by writers handed a table with zero rows.
	ErrEmptyTable = errors.New("data table contains no rows")

	// ErrNotGaussianSplat is returned by writers that require the standard
	// Gaussian-Splat column set.
	ErrNotGaussianSplat = errors.New("data table is not a gaussian splat table")

	// ErrUnknownColumn is returned when a filter references a column the
	// table does not carry.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrColumnLength is returned when a column's length differs from the
	// table row count.
	ErrColumnLength = errors.New("column length does not match table row count")

	// ErrDuplicateColumn is returned when a column name is already taken.
	ErrDuplicateColumn = errors.New("duplicate column name")

	// ErrZip64Unsupported is returned when a zip archive requires zip64
	// extensions.
	ErrZip64Unsupported = errors.New("zip64 archives are not supported")

	// ErrZipBadArchive is returned when the end-of-central-directory or a
	// central directory record cannot be located or parsed.
	ErrZipBadArchive = errors.New("corrupt zip archive")

	// ErrZipMethod is returned for compression methods other than stored
	// and deflate.
	ErrZipMethod = errors.New("unsupported zip compression method")

	// ErrChunkCount is returned when a compressed ply chunk element cannot
	// cover the vertex element.
	ErrChunkCount = errors.New("compressed ply chunk count too small for splat count")

	// ErrUnsupportedFormat is returned when no codec matches the file name.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrOverwriteRefused is returned when the target exists and overwrite
	// was not requested.
	ErrOverwriteRefused = errors.New("target file exists and overwrite not set")

	// ErrOutsideBoundary is reported when attempting to read beyond the
	// limits of a source.
	ErrOutsideBoundary = errors.New("reading data outside boundary")
)

// sigmoid maps a logit to (0, 1).
func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// logit is the inverse of sigmoid; v is clamped away from 0 and 1.
func logit(v float64) float64 {
	v = clamp(v, 1e-6, 1-1e-6)
	return -math.Log(1/v - 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// unlerp maps v from [a, b] to [0, 1]; a degenerate range maps to 0.
func unlerp(a, b, v float64) float64 {
	if b == a {
		return 0
	}
	return (v - a) / (b - a)
}

// Vec3 is a position or extent in world space.
type Vec3 [3]float64

func (v Vec3) add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Quat is a quaternion with scalar part W, matching the rot_0..rot_3 column
// order (w, x, y, z).
type Quat struct {
	W, X, Y, Z float64
}

// mul returns the Hamilton product q * r.
func (q Quat) mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// normalize returns the unit quaternion; the identity is returned for a
// zero-length input.
func (q Quat) normalize() Quat {
	l := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if l == 0 {
		return Quat{W: 1}
	}
	return Quat{q.W / l, q.X / l, q.Y / l, q.Z / l}
}

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [9]float64

// mat3FromEuler builds the rotation for euler angles given in degrees,
// composed as Rz * Ry * Rx.
func mat3FromEuler(x, y, z float64) Mat3 {
	toRad := math.Pi / 180
	sx, cx := math.Sincos(x * toRad)
	sy, cy := math.Sincos(y * toRad)
	sz, cz := math.Sincos(z * toRad)

	return Mat3{
		cy * cz, sx*sy*cz - cx*sz, cx*sy*cz + sx*sz,
		cy * sz, sx*sy*sz + cx*cz, cx*sy*sz - sx*cz,
		-sy, sx * cy, cx * cy,
	}
}

// mulVec applies the rotation to v.
func (m Mat3) mulVec(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// quat converts the rotation matrix to a unit quaternion.
func (m Mat3) quat() Quat {
	t := m[0] + m[4] + m[8]
	var q Quat
	if t > 0 {
		s := math.Sqrt(t+1) * 2
		q = Quat{W: s / 4, X: (m[7] - m[5]) / s, Y: (m[2] - m[6]) / s, Z: (m[3] - m[1]) / s}
	} else if m[0] > m[4] && m[0] > m[8] {
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = Quat{W: (m[7] - m[5]) / s, X: s / 4, Y: (m[1] + m[3]) / s, Z: (m[2] + m[6]) / s}
	} else if m[4] > m[8] {
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = Quat{W: (m[2] - m[6]) / s, X: (m[1] + m[3]) / s, Y: s / 4, Z: (m[5] + m[7]) / s}
	} else {
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = Quat{W: (m[3] - m[1]) / s, X: (m[2] + m[6]) / s, Y: (m[5] + m[7]) / s, Z: s / 4}
	}
	return q.normalize()
}

// affine is a 3x4 row-major transform: rotation+scale in the left 3x3,
// translation in the last column.
type affine [12]float64

// affineTRS composes translation * rotation * uniform scale.
func affineTRS(t Vec3, r Mat3, s float64) affine {
	return affine{
		r[0] * s, r[1] * s, r[2] * s, t[0],
		r[3] * s, r[4] * s, r[5] * s, t[1],
		r[6] * s, r[7] * s, r[8] * s, t[2],
	}
}

// mulPoint applies the affine transform to a point.
func (a affine) mulPoint(v Vec3) Vec3 {
	return Vec3{
		a[0]*v[0] + a[1]*v[1] + a[2]*v[2] + a[3],
		a[4]*v[0] + a[5]*v[1] + a[6]*v[2] + a[7],
		a[8]*v[0] + a[9]*v[1] + a[10]*v[2] + a[11],
	}
}
