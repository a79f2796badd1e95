// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import "math"

// shRotation holds per-band rotation matrices in the real spherical
// harmonic basis, built recursively from a 3x3 rotation (Ivanic and
// Ruedenberg). bands[l] is a (2l+1) x (2l+1) matrix indexed [m+l][n+l].
type shRotation struct {
	maxBand int
	r1      [3][3]float64
	bands   [4][][]float64
}

// newSHRotation derives band matrices 1..maxBand from rotation m.
func newSHRotation(m Mat3, maxBand int) *shRotation {
	sh := &shRotation{maxBand: maxBand}

	// Band 1 is the rotation itself re-indexed into the real SH component
	// order (y, z, x): r1[i+1][j+1] = R[p(i)][p(j)].
	p := [3]int{1, 2, 0}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sh.r1[i][j] = m[p[i]*3+p[j]]
		}
	}

	band1 := make([][]float64, 3)
	for i := range band1 {
		band1[i] = make([]float64, 3)
		copy(band1[i], sh.r1[i][:])
	}
	sh.bands[1] = band1

	for l := 2; l <= maxBand; l++ {
		size := 2*l + 1
		band := make([][]float64, size)
		for mi := range band {
			band[mi] = make([]float64, size)
		}
		for mm := -l; mm <= l; mm++ {
			for nn := -l; nn <= l; nn++ {
				band[mm+l][nn+l] = sh.entry(l, mm, nn)
			}
		}
		sh.bands[l] = band
	}
	return sh
}

// kdelta is the Kronecker delta.
func kdelta(a, b int) float64 {
	if a == b {
		return 1
	}
	return 0
}

// p evaluates the shared sub-expression of U, V and W against the previous
// band matrix.
func (sh *shRotation) p(i, a, b, l int) float64 {
	prev := sh.bands[l-1]
	ri1 := sh.r1[i+1][2]
	rim1 := sh.r1[i+1][0]
	ri0 := sh.r1[i+1][1]

	switch b {
	case l:
		return ri1*prev[a+l-1][2*l-2] - rim1*prev[a+l-1][0]
	case -l:
		return ri1*prev[a+l-1][0] + rim1*prev[a+l-1][2*l-2]
	default:
		return ri0 * prev[a+l-1][b+l-1]
	}
}

func (sh *shRotation) u(m, n, l int) float64 {
	return sh.p(0, m, n, l)
}

func (sh *shRotation) v(m, n, l int) float64 {
	switch {
	case m == 0:
		return sh.p(1, 1, n, l) + sh.p(-1, -1, n, l)
	case m > 0:
		return sh.p(1, m-1, n, l)*math.Sqrt(1+kdelta(m, 1)) -
			sh.p(-1, -m+1, n, l)*(1-kdelta(m, 1))
	default:
		return sh.p(1, m+1, n, l)*(1-kdelta(m, -1)) +
			sh.p(-1, -m-1, n, l)*math.Sqrt(1+kdelta(m, -1))
	}
}

func (sh *shRotation) w(m, n, l int) float64 {
	switch {
	case m == 0:
		return 0
	case m > 0:
		return sh.p(1, m+1, n, l) + sh.p(-1, -m-1, n, l)
	default:
		return sh.p(1, m-1, n, l) - sh.p(-1, -m+1, n, l)
	}
}

// entry computes one element of the band-l matrix from the band l-1 matrix.
func (sh *shRotation) entry(l, m, n int) float64 {
	d := kdelta(m, 0)
	var denom float64
	if n == l || n == -l {
		denom = float64(2*l) * float64(2*l-1)
	} else {
		denom = float64(l+n) * float64(l-n)
	}

	abs := m
	if abs < 0 {
		abs = -abs
	}
	uc := math.Sqrt(float64(l+m) * float64(l-m) / denom)
	vc := 0.5 * math.Sqrt((1+d)*float64(l+abs-1)*float64(l+abs)/denom) * (1 - 2*d)
	wc := -0.5 * math.Sqrt(float64(l-abs-1)*float64(l-abs)/denom) * (1 - d)

	result := 0.0
	if uc != 0 {
		result += uc * sh.u(m, n, l)
	}
	if vc != 0 {
		result += vc * sh.v(m, n, l)
	}
	if wc != 0 {
		result += wc * sh.w(m, n, l)
	}
	return result
}

// apply rotates one channel's coefficients in place. coeffs holds the
// cumulative band layout: 3 values for band 1, then 5 for band 2, then 7
// for band 3, trimmed to the channel's degree.
func (sh *shRotation) apply(coeffs []float64) {
	scratch := [7]float64{}
	offset := 0
	for l := 1; l <= sh.maxBand; l++ {
		size := 2*l + 1
		if offset+size > len(coeffs) {
			return
		}
		band := sh.bands[l]
		src := coeffs[offset : offset+size]
		for mi := 0; mi < size; mi++ {
			sum := 0.0
			for ni := 0; ni < size; ni++ {
				sum += band[mi][ni] * src[ni]
			}
			scratch[mi] = sum
		}
		copy(src, scratch[:size])
		offset += size
	}
}
