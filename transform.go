// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"fmt"
	"math"
	"sort"
)

// CompareOp names the comparison of a value filter.
type CompareOp string

const (
	CompareLt  CompareOp = "lt"
	CompareLte CompareOp = "lte"
	CompareGt  CompareOp = "gt"
	CompareGte CompareOp = "gte"
	CompareEq  CompareOp = "eq"
	CompareNeq CompareOp = "neq"
)

func (op CompareOp) eval(a, b float64) (bool, error) {
	switch op {
	case CompareLt:
		return a < b, nil
	case CompareLte:
		return a <= b, nil
	case CompareGt:
		return a > b, nil
	case CompareGte:
		return a >= b, nil
	case CompareEq:
		return a == b, nil
	case CompareNeq:
		return a != b, nil
	}
	return false, fmt.Errorf("unrecognized comparison %q", string(op))
}

// ProcessAction is one step of the linear transformation pipeline. Action
// ordering is observable and preserved; only adjacent geometric actions are
// fused into a single affine pass.
type ProcessAction interface {
	isAction()
}

// Translate moves positions by V.
type Translate struct{ V Vec3 }

// Rotate applies euler angles (degrees, xyz order) to positions, rotations
// and spherical harmonics.
type Rotate struct{ Euler Vec3 }

// Scale scales positions and gaussian extents uniformly.
type Scale struct{ Factor float64 }

// FilterNaN drops rows holding any non-finite value.
type FilterNaN struct{}

// FilterValue keeps rows where column op value holds.
type FilterValue struct {
	Column string
	Op     CompareOp
	Value  float64
}

// FilterBands drops SH coefficient columns beyond the given band count.
type FilterBands struct{ Bands int }

// FilterBox keeps rows inside the inclusive axis-aligned box.
type FilterBox struct{ Min, Max Vec3 }

// FilterSphere keeps rows within Radius of Center.
type FilterSphere struct {
	Center Vec3
	Radius float64
}

// FilterVisibility ranks rows by visibility score and keeps the top N
// (or top percent when UsePercent is set).
type FilterVisibility struct {
	Count      int
	Percent    float64
	UsePercent bool
}

// MortonSort permutes rows into morton order.
type MortonSort struct{}

// Lod tags every row with a level-of-detail value, adding the column when
// absent.
type Lod struct{ Level int }

// Param passes a named value to a generator input; it is a no-op for
// ordinary tables.
type Param struct{ Name, Value string }

func (Translate) isAction()        {}
func (Rotate) isAction()           {}
func (Scale) isAction()            {}
func (FilterNaN) isAction()        {}
func (FilterValue) isAction()      {}
func (FilterBands) isAction()      {}
func (FilterBox) isAction()        {}
func (FilterSphere) isAction()     {}
func (FilterVisibility) isAction() {}
func (MortonSort) isAction()       {}
func (Lod) isAction()              {}
func (Param) isAction()            {}

// ProcessTable applies the action list in order and returns the resulting
// table. Geometric actions mutate in place; filters replace the working
// table with a gathered copy.
func ProcessTable(dt *DataTable, actions []ProcessAction) (*DataTable, error) {
	var (
		pendingAffine   bool
		pendingMat      affine
		pendingRot      Mat3
		pendingScale    float64
		pendingIdentity = func() {
			pendingMat = affineTRS(Vec3{}, Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}, 1)
			pendingRot = Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
			pendingScale = 1
		}
	)
	pendingIdentity()

	flush := func() {
		if pendingAffine {
			applyAffine(dt, pendingMat, pendingRot, pendingScale)
			pendingAffine = false
			pendingIdentity()
		}
	}

	compose := func(a affine, r Mat3, s float64) {
		// Left-multiply onto the pending transform.
		pendingMat = composeAffine(a, pendingMat)
		pendingRot = mulMat3(r, pendingRot)
		pendingScale *= s
		pendingAffine = true
	}

	identity := Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}

	for _, action := range actions {
		switch a := action.(type) {
		case Translate:
			compose(affineTRS(a.V, identity, 1), identity, 1)

		case Rotate:
			r := mat3FromEuler(a.Euler[0], a.Euler[1], a.Euler[2])
			compose(affineTRS(Vec3{}, r, 1), r, 1)

		case Scale:
			compose(affineTRS(Vec3{}, identity, a.Factor), identity, a.Factor)

		case FilterNaN:
			flush()
			keep := make([]uint32, 0, dt.NumRows())
			for i := 0; i < dt.NumRows(); i++ {
				if dt.finiteRow(i) {
					keep = append(keep, uint32(i))
				}
			}
			dt = dt.PermuteRows(keep)

		case FilterValue:
			flush()
			col := dt.GetColumn(a.Column)
			if col == nil {
				return nil, fmt.Errorf("filter column %q: %w", a.Column, ErrUnknownColumn)
			}
			keep := make([]uint32, 0, dt.NumRows())
			for i := 0; i < dt.NumRows(); i++ {
				ok, err := a.Op.eval(col.Get(i), a.Value)
				if err != nil {
					return nil, err
				}
				if ok {
					keep = append(keep, uint32(i))
				}
			}
			dt = dt.PermuteRows(keep)

		case FilterBands:
			flush()
			if a.Bands < 0 || a.Bands > 3 {
				return nil, fmt.Errorf("invalid band count %d", a.Bands)
			}
			first := shBandCoeffs[a.Bands] * 3
			for k := first; k < MaxSHCoeffs; k++ {
				dt.RemoveColumn(shRestName(k))
			}

		case FilterBox:
			flush()
			keep, err := filterPositions(dt, func(p Vec3) bool {
				return p[0] >= a.Min[0] && p[0] <= a.Max[0] &&
					p[1] >= a.Min[1] && p[1] <= a.Max[1] &&
					p[2] >= a.Min[2] && p[2] <= a.Max[2]
			})
			if err != nil {
				return nil, err
			}
			dt = dt.PermuteRows(keep)

		case FilterSphere:
			flush()
			r2 := a.Radius * a.Radius
			keep, err := filterPositions(dt, func(p Vec3) bool {
				d := p.sub(a.Center)
				return d[0]*d[0]+d[1]*d[1]+d[2]*d[2] <= r2
			})
			if err != nil {
				return nil, err
			}
			dt = dt.PermuteRows(keep)

		case FilterVisibility:
			flush()
			keep, err := visibilityRank(dt, a)
			if err != nil {
				return nil, err
			}
			dt = dt.PermuteRows(keep)

		case MortonSort:
			flush()
			indices := make([]uint32, dt.NumRows())
			for i := range indices {
				indices[i] = uint32(i)
			}
			MortonOrder(dt, indices)
			dt = dt.PermuteRows(indices)

		case Lod:
			flush()
			col := dt.GetColumn("lod")
			if col == nil || col.Type() != TypeInt32 {
				dt.RemoveColumn("lod")
				col = NewColumn("lod", TypeInt32, dt.NumRows())
				if err := dt.AddColumn(col); err != nil {
					return nil, err
				}
			}
			data := col.Data.([]int32)
			for i := range data {
				data[i] = int32(a.Level)
			}

		case Param:
			flush()

		default:
			return nil, fmt.Errorf("unrecognized process action %T", action)
		}
	}
	flush()
	return dt, nil
}

func mulMat3(a, b Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}

func composeAffine(a, b affine) affine {
	var out affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*4+c] = a[r*4]*b[c] + a[r*4+1]*b[4+c] + a[r*4+2]*b[8+c]
		}
		out[r*4+3] = a[r*4]*b[3] + a[r*4+1]*b[7] + a[r*4+2]*b[11] + a[r*4+3]
	}
	return out
}

// applyAffine transforms positions by m, rotations by r, log-scales by
// ln(s), and rotates SH coefficients in the real basis.
func applyAffine(dt *DataTable, m affine, r Mat3, s float64) {
	x := dt.GetColumn("x")
	y := dt.GetColumn("y")
	z := dt.GetColumn("z")
	if x != nil && y != nil && z != nil {
		for i := 0; i < dt.NumRows(); i++ {
			p := m.mulPoint(Vec3{x.Get(i), y.Get(i), z.Get(i)})
			x.Set(i, p[0])
			y.Set(i, p[1])
			z.Set(i, p[2])
		}
	}

	rq := r.quat()
	rot := [4]*Column{
		dt.GetColumn("rot_0"), dt.GetColumn("rot_1"),
		dt.GetColumn("rot_2"), dt.GetColumn("rot_3"),
	}
	if rot[0] != nil && rot[1] != nil && rot[2] != nil && rot[3] != nil {
		for i := 0; i < dt.NumRows(); i++ {
			q := rq.mul(Quat{
				W: rot[0].Get(i), X: rot[1].Get(i),
				Y: rot[2].Get(i), Z: rot[3].Get(i),
			})
			rot[0].Set(i, q.W)
			rot[1].Set(i, q.X)
			rot[2].Set(i, q.Y)
			rot[3].Set(i, q.Z)
		}
	}

	if s != 1 {
		logS := math.Log(s)
		for k := 0; k < 3; k++ {
			if c := dt.GetColumn(fmt.Sprintf("scale_%d", k)); c != nil {
				for i := 0; i < dt.NumRows(); i++ {
					c.Set(i, c.Get(i)+logS)
				}
			}
		}
	}

	deg := SHDegree(dt)
	if deg > 0 {
		rotateSHColumns(dt, r, deg)
	}
}

// rotateSHColumns rotates every channel's higher-order coefficients. The
// f_rest layout is channel-major: all red coefficients, then green, then
// blue.
func rotateSHColumns(dt *DataTable, r Mat3, deg int) {
	coeffs := shBandCoeffs[deg]
	cols := make([]*Column, coeffs*3)
	for i := range cols {
		cols[i] = dt.GetColumn(shRestName(i))
		if cols[i] == nil {
			return
		}
	}

	rot := newSHRotation(r, deg)
	scratch := make([]float64, coeffs)
	for i := 0; i < dt.NumRows(); i++ {
		for ch := 0; ch < 3; ch++ {
			base := ch * coeffs
			for j := 0; j < coeffs; j++ {
				scratch[j] = cols[base+j].Get(i)
			}
			rot.apply(scratch)
			for j := 0; j < coeffs; j++ {
				cols[base+j].Set(i, scratch[j])
			}
		}
	}
}

func filterPositions(dt *DataTable, keepFn func(Vec3) bool) ([]uint32, error) {
	x := dt.GetColumn("x")
	y := dt.GetColumn("y")
	z := dt.GetColumn("z")
	if x == nil || y == nil || z == nil {
		return nil, fmt.Errorf("position filter: %w", ErrUnknownColumn)
	}
	keep := make([]uint32, 0, dt.NumRows())
	for i := 0; i < dt.NumRows(); i++ {
		if keepFn(Vec3{x.Get(i), y.Get(i), z.Get(i)}) {
			keep = append(keep, uint32(i))
		}
	}
	return keep, nil
}

// visibilityRank orders rows by descending opacity x bounding volume and
// returns the kept prefix.
func visibilityRank(dt *DataTable, f FilterVisibility) ([]uint32, error) {
	opacity := dt.GetColumn("opacity")
	s0 := dt.GetColumn("scale_0")
	s1 := dt.GetColumn("scale_1")
	s2 := dt.GetColumn("scale_2")
	if opacity == nil || s0 == nil || s1 == nil || s2 == nil {
		return nil, fmt.Errorf("visibility filter: %w", ErrUnknownColumn)
	}

	n := dt.NumRows()
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = sigmoid(opacity.Get(i)) *
			math.Exp(s0.Get(i)+s1.Get(i)+s2.Get(i))
	}

	order := make([]uint32, n)
	for i := range order {
		order[i] = uint32(i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	keep := f.Count
	if f.UsePercent {
		keep = int(math.Round(f.Percent * float64(n) / 100))
	}
	if keep < 0 {
		keep = 0
	}
	if keep > n {
		keep = n
	}
	return order[:keep], nil
}
