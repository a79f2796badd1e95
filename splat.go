// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

// Package splat converts and transforms 3D Gaussian Splat scenes between a
// family of on-disk representations. All in-memory splat collections are
// columnar DataTables; readers decode a format into a table, a linear action
// pipeline transforms or filters it, and writers encode the result, with
// optional chunked quantization (compressed PLY), codebook compression (SOG)
// or a self-contained HTML viewer bundle.
package splat

import (
	"math"

	"github.com/playcanvas/splat-transform/log"
)

// Version of the tool, stamped into SOG meta.json and the CLI version output.
const Version = "1.2.0"

// Generator string recorded in emitted asset metadata.
const Generator = "splat-transform " + Version

const (
	// SHC0 is the band-0 spherical harmonic normalization constant 1/(2*sqrt(pi)).
	SHC0 = 0.28209479177387814

	// SHC0Spz is the band-0 constant variant used by the SPZ color codec.
	SHC0Spz = 0.15

	// ChunkSize is the number of splats grouped per chunk in compressed PLY.
	ChunkSize = 256

	// MaxSHCoeffs is the number of f_rest_* columns for SH degree 3.
	MaxSHCoeffs = 45
)

// shBandCoeffs maps SH degree to the cumulative per-channel coefficient count.
var shBandCoeffs = [4]int{0, 3, 8, 15}

// gaussianColumns is the minimum column set of a Gaussian-Splat table. rot_0
// holds the scalar quaternion component; scale_* hold log-scale; opacity is a
// logit.
var gaussianColumns = []string{
	"x", "y", "z",
	"rot_0", "rot_1", "rot_2", "rot_3",
	"scale_0", "scale_1", "scale_2",
	"f_dc_0", "f_dc_1", "f_dc_2",
	"opacity",
}

// IsGaussianSplat reports whether the table carries the minimum column set
// describing anisotropic 3D Gaussians.
func IsGaussianSplat(dt *DataTable) bool {
	for _, name := range gaussianColumns {
		if !dt.HasColumn(name) {
			return false
		}
	}
	return true
}

// SHDegree returns the spherical harmonic degree implied by the table's
// f_rest_* columns: the highest degree whose full coefficient complement is
// present. A partial band does not count.
func SHDegree(dt *DataTable) int {
	n := 0
	for dt.HasColumn(shRestName(n)) {
		n++
	}
	for deg := 3; deg > 0; deg-- {
		if n >= shBandCoeffs[deg]*3 {
			return deg
		}
	}
	return 0
}

// Options carries writer and pipeline configuration. The zero value selects
// every default; writers normalize it once and treat it as immutable.
type Options struct {
	// Overwrite allows writers to replace existing output files.
	Overwrite bool

	// Iterations bounds SH palette k-means rounds, by default (10).
	Iterations int

	// DeviceIdx selects the k-means backend: -2 CPU, -1 auto, >= 0 a
	// specific adapter of the accelerated backend.
	DeviceIdx int

	// Unbundled emits the HTML viewer as loose files instead of a single
	// self-contained page.
	Unbundled bool

	// ViewerSettings is an optional JSON document merged into the HTML
	// viewer configuration.
	ViewerSettings []byte

	// LodSelect restricts LOD output to the listed levels. Empty keeps all.
	LodSelect []int

	// LodChunkCount is the maximum splat count per LOD chunk file, by
	// default (512).
	LodChunkCount int

	// LodChunkExtent is the spatial cell size used to group LOD chunks, by
	// default (16).
	LodChunkExtent float64

	// A custom logger.
	Logger log.Logger
}

// defaults returns a copy of o with zero-valued knobs normalized.
func (o Options) defaults() Options {
	if o.Iterations <= 0 {
		o.Iterations = 10
	}
	if o.LodChunkCount <= 0 {
		o.LodChunkCount = 512
	}
	if o.LodChunkExtent <= 0 || math.IsNaN(o.LodChunkExtent) {
		o.LodChunkExtent = 16
	}
	return o
}

// helper returns a log helper for the options' logger, falling back to a
// discard logger.
func (o Options) helper() *log.Helper {
	if o.Logger == nil {
		return log.NewHelper(nopLogger{})
	}
	return log.NewHelper(o.Logger)
}

type nopLogger struct{}

func (nopLogger) Log(log.Level, ...interface{}) error { return nil }
