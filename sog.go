// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

package splat

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"path"
	"sort"

	"github.com/HugoSmits86/nativewebp"
	xwebp "golang.org/x/image/webp"
)

// sogCodebookSize is the entry count of the scale, color and SH codebooks.
const sogCodebookSize = 256

// sogMeta is the meta.json document tying the webp planes together.
// Field order is fixed so identical inputs emit byte-identical documents.
type sogMeta struct {
	Version int      `json:"version"`
	Asset   sogAsset `json:"asset"`
	Count   int      `json:"count"`
	Means   sogMeans `json:"means"`
	Scales  sogBand  `json:"scales"`
	Quats   sogQuats `json:"quats"`
	Sh0     sogBand  `json:"sh0"`
	ShN     *sogShN  `json:"shN,omitempty"`
}

type sogAsset struct {
	Generator string `json:"generator"`
}

type sogMeans struct {
	Mins  []float64 `json:"mins"`
	Maxs  []float64 `json:"maxs"`
	Files []string  `json:"files"`
}

type sogBand struct {
	Codebook []float64 `json:"codebook"`
	Files    []string  `json:"files"`
}

type sogQuats struct {
	Files []string `json:"files"`
}

type sogShN struct {
	Count    int       `json:"count"`
	Bands    int       `json:"bands"`
	Codebook []float64 `json:"codebook"`
	Files    []string  `json:"files"`
}

// SogFiles maps emitted file names to contents: the webp planes plus
// meta.json.
type SogFiles map[string][]byte

// sogTextureSize derives the splat texture dimensions: both multiples of
// four, wide enough to hold every splat.
func sogTextureSize(count int) (int, int) {
	w := int(math.Ceil(math.Sqrt(float64(count))))
	w = (w + 3) / 4 * 4
	if w == 0 {
		w = 4
	}
	h := (count + w - 1) / w
	h = (h + 3) / 4 * 4
	if h == 0 {
		h = 4
	}
	return w, h
}

// encodeWebP emits a lossless RGBA webp of the given dimensions.
func encodeWebP(pix []uint8, w, h int) ([]byte, error) {
	img := &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newPlane allocates an opaque RGBA plane.
func newPlane(w, h int) []uint8 {
	pix := make([]uint8, w*h*4)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 255
	}
	return pix
}

// EncodeSog compresses a Gaussian-Splat table into the SOG plane set. The
// returned map holds every webp plus meta.json; the caller decides between
// loose files and the zip bundle.
func EncodeSog(dt *DataTable, opts Options) (SogFiles, error) {
	opts = opts.defaults()
	if dt.NumRows() == 0 {
		return nil, ErrEmptyTable
	}
	if !IsGaussianSplat(dt) {
		return nil, ErrNotGaussianSplat
	}

	numRows := dt.NumRows()
	deg := SHDegree(dt)

	// Morton pre-pass: texel i holds row order[i].
	order := make([]uint32, numRows)
	for i := range order {
		order[i] = uint32(i)
	}
	MortonOrder(dt, order)

	w, h := sogTextureSize(numRows)
	files := make(SogFiles)
	meta := sogMeta{
		Version: 2,
		Asset:   sogAsset{Generator: Generator},
		Count:   numRows,
	}

	if err := encodeSogMeans(dt, order, w, h, files, &meta); err != nil {
		return nil, err
	}
	if err := encodeSogQuats(dt, order, w, h, files, &meta); err != nil {
		return nil, err
	}
	if err := encodeSogScales(dt, order, w, h, files, &meta); err != nil {
		return nil, err
	}
	if err := encodeSogSh0(dt, order, w, h, files, &meta); err != nil {
		return nil, err
	}
	if deg > 0 {
		if err := encodeSogShN(dt, order, w, h, deg, opts, files, &meta); err != nil {
			return nil, err
		}
	}

	doc, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	files["meta.json"] = doc
	return files, nil
}

// encodeSogMeans quantizes log-transformed positions to 16 bits split over
// a low and a high byte plane.
func encodeSogMeans(dt *DataTable, order []uint32, w, h int, files SogFiles, meta *sogMeta) error {
	cols := [3]*Column{dt.GetColumn("x"), dt.GetColumn("y"), dt.GetColumn("z")}

	logPos := func(v float64) float64 {
		return math.Copysign(math.Log(math.Abs(v)+1), v)
	}

	mins := []float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxs := []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, row := range order {
		for k := 0; k < 3; k++ {
			v := logPos(cols[k].Get(int(row)))
			mins[k] = math.Min(mins[k], v)
			maxs[k] = math.Max(maxs[k], v)
		}
	}

	low := newPlane(w, h)
	high := newPlane(w, h)
	for i, row := range order {
		for k := 0; k < 3; k++ {
			v := logPos(cols[k].Get(int(row)))
			q := 0.0
			if maxs[k] > mins[k] {
				q = math.Round(65535 * (v - mins[k]) / (maxs[k] - mins[k]))
			}
			u := uint32(clamp(q, 0, 65535))
			low[i*4+k] = uint8(u & 0xFF)
			high[i*4+k] = uint8(u >> 8)
		}
	}

	var err error
	if files["means_l.webp"], err = encodeWebP(low, w, h); err != nil {
		return err
	}
	if files["means_u.webp"], err = encodeWebP(high, w, h); err != nil {
		return err
	}
	meta.Means = sogMeans{
		Mins:  mins,
		Maxs:  maxs,
		Files: []string{"means_l.webp", "means_u.webp"},
	}
	return nil
}

// encodeSogQuats drops each quaternion's largest component, storing the
// remaining three in 8 bits and the component index in alpha (252..255).
func encodeSogQuats(dt *DataTable, order []uint32, w, h int, files SogFiles, meta *sogMeta) error {
	rot := [4]*Column{
		dt.GetColumn("rot_0"), dt.GetColumn("rot_1"),
		dt.GetColumn("rot_2"), dt.GetColumn("rot_3"),
	}

	pix := newPlane(w, h)
	for i, row := range order {
		q := Quat{
			W: rot[0].Get(int(row)), X: rot[1].Get(int(row)),
			Y: rot[2].Get(int(row)), Z: rot[3].Get(int(row)),
		}.normalize()

		// Component order (x, y, z, w).
		comps := [4]float64{q.X, q.Y, q.Z, q.W}
		largest := 0
		for k := 1; k < 4; k++ {
			if math.Abs(comps[k]) > math.Abs(comps[largest]) {
				largest = k
			}
		}
		if comps[largest] < 0 {
			for k := range comps {
				comps[k] = -comps[k]
			}
		}

		out := 0
		for k := 0; k < 4; k++ {
			if k == largest {
				continue
			}
			v := comps[k] * math.Sqrt2
			pix[i*4+out] = uint8(clamp(math.Round(255*(v*0.5+0.5)), 0, 255))
			out++
		}
		pix[i*4+3] = uint8(252 + largest)
	}

	var err error
	if files["quats.webp"], err = encodeWebP(pix, w, h); err != nil {
		return err
	}
	meta.Quats = sogQuats{Files: []string{"quats.webp"}}
	return nil
}

// encodeSogScales jointly quantizes the three log-scale columns into one
// 256-entry codebook and stores per-axis indices.
func encodeSogScales(dt *DataTable, order []uint32, w, h int, files SogFiles, meta *sogMeta) error {
	cols := []*Column{
		dt.GetColumn("scale_0"), dt.GetColumn("scale_1"), dt.GetColumn("scale_2"),
	}
	cb := Quantize1D(cols, sogCodebookSize)

	pix := newPlane(w, h)
	for i, row := range order {
		for k := 0; k < 3; k++ {
			pix[i*4+k] = uint8(cb.Label(cols[k].Get(int(row))))
		}
	}

	var err error
	if files["scales.webp"], err = encodeWebP(pix, w, h); err != nil {
		return err
	}
	meta.Scales = sogBand{Codebook: cb, Files: []string{"scales.webp"}}
	return nil
}

// encodeSogSh0 stores codebook indices for the SH DC color and a uniformly
// quantized sigmoid opacity in alpha.
func encodeSogSh0(dt *DataTable, order []uint32, w, h int, files SogFiles, meta *sogMeta) error {
	cols := []*Column{
		dt.GetColumn("f_dc_0"), dt.GetColumn("f_dc_1"), dt.GetColumn("f_dc_2"),
	}
	opacity := dt.GetColumn("opacity")
	cb := Quantize1D(cols, sogCodebookSize)

	pix := newPlane(w, h)
	for i, row := range order {
		for k := 0; k < 3; k++ {
			pix[i*4+k] = uint8(cb.Label(cols[k].Get(int(row))))
		}
		pix[i*4+3] = uint8(clamp(math.Round(255*sigmoid(opacity.Get(int(row)))), 0, 255))
	}

	var err error
	if files["sh0.webp"], err = encodeWebP(pix, w, h); err != nil {
		return err
	}
	meta.Sh0 = sogBand{Codebook: cb, Files: []string{"sh0.webp"}}
	return nil
}

// sogPaletteSize derives the SH palette entry count from the splat count:
// min(64, 2^floor(log2(numRows/1024))) x 1024, where the power of two may
// be fractional for small counts. The result is clamped to [1, 65536].
func sogPaletteSize(numRows int) int {
	e := int(math.Floor(math.Log2(float64(numRows) / 1024)))
	if e > 6 {
		e = 6
	}
	if e <= -10 {
		return 1
	}
	return 1 << (10 + e)
}

// encodeSogShN palettizes the higher-order SH coefficients with k-means,
// then re-expresses the centroid coordinates through a 256-entry codebook.
func encodeSogShN(dt *DataTable, order []uint32, w, h, deg int, opts Options, files SogFiles, meta *sogMeta) error {
	coeffs := shBandCoeffs[deg]
	dims := coeffs * 3
	numRows := dt.NumRows()

	cols := make([]*Column, dims)
	for i := range cols {
		cols[i] = dt.GetColumn(shRestName(i))
	}

	// Points are gathered in morton order so labels line up with texels.
	points := make([]float32, numRows*dims)
	for i, row := range order {
		for d := 0; d < dims; d++ {
			points[i*dims+d] = float32(cols[d].Get(int(row)))
		}
	}

	accel, err := acquireAccelerator(opts.DeviceIdx)
	if err != nil {
		return err
	}
	paletteSize := sogPaletteSize(numRows)
	km, err := KMeans(points, dims, paletteSize, opts.Iterations, accel)
	if err != nil {
		return err
	}
	paletteSize = km.K
	opts.helper().Debugf("sh palette: %d entries, %d dims, %d iterations",
		paletteSize, dims, opts.Iterations)

	centroidCol := &Column{Name: "centroids", Data: km.Centroids}
	cb := Quantize1D([]*Column{centroidCol}, sogCodebookSize)

	// Centroid plane: each centroid occupies coeffs consecutive texels,
	// 64 centroids per row.
	cw := 64 * coeffs
	ch := (paletteSize + 63) / 64
	centPix := newPlane(cw, ch)
	for k := 0; k < paletteSize; k++ {
		rowBase := (k/64)*cw + (k%64)*coeffs
		for j := 0; j < coeffs; j++ {
			t := (rowBase + j) * 4
			centPix[t] = uint8(cb.Label(float64(km.Centroids[k*dims+j])))
			centPix[t+1] = uint8(cb.Label(float64(km.Centroids[k*dims+coeffs+j])))
			centPix[t+2] = uint8(cb.Label(float64(km.Centroids[k*dims+2*coeffs+j])))
		}
	}

	labelPix := newPlane(w, h)
	for i := range order {
		label := km.Labels[i]
		labelPix[i*4] = uint8(label & 0xFF)
		labelPix[i*4+1] = uint8(label >> 8 & 0xFF)
		labelPix[i*4+2] = 0
	}

	if files["shN_centroids.webp"], err = encodeWebP(centPix, cw, ch); err != nil {
		return err
	}
	if files["shN_labels.webp"], err = encodeWebP(labelPix, w, h); err != nil {
		return err
	}
	meta.ShN = &sogShN{
		Count:    paletteSize,
		Bands:    deg,
		Codebook: cb,
		Files:    []string{"shN_centroids.webp", "shN_labels.webp"},
	}
	return nil
}

// WriteSogBundle packs the plane set into a single STORE-only zip archive.
func WriteSogBundle(w io.Writer, files SogFiles) error {
	zw := zip.NewWriter(w)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return err
		}
		if _, err := fw.Write(files[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}

// readSogFile slurps one named file from the filesystem.
func readSogFile(fs ReadFileSystem, dir, name string) ([]byte, error) {
	src, err := fs.CreateSource(path.Join(dir, name), nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	stream, err := src.Read(0, SizeUnknown)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return ReadAll(stream)
}

// decodeSogPlane decodes a webp plane into NRGBA pixels.
func decodeSogPlane(data []byte) (*image.NRGBA, error) {
	img, err := xwebp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if n, ok := img.(*image.NRGBA); ok {
		return n, nil
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out, nil
}

// ReadSog decodes a SOG plane set (loose directory or extracted bundle)
// back into a Gaussian-Splat table. dir locates meta.json within fs.
func ReadSog(fs ReadFileSystem, dir string) (*DataTable, error) {
	doc, err := readSogFile(fs, dir, "meta.json")
	if err != nil {
		return nil, err
	}
	var meta sogMeta
	if err := json.Unmarshal(doc, &meta); err != nil {
		return nil, fmt.Errorf("parsing meta.json: %w", err)
	}
	if meta.Version != 2 {
		return nil, fmt.Errorf("unsupported sog version %d", meta.Version)
	}
	if meta.Count <= 0 {
		return nil, ErrEmptyTable
	}

	planes := make(map[string]*image.NRGBA)
	for _, group := range [][]string{
		meta.Means.Files, meta.Quats.Files, meta.Scales.Files, meta.Sh0.Files,
	} {
		for _, name := range group {
			data, err := readSogFile(fs, dir, name)
			if err != nil {
				return nil, err
			}
			if planes[name], err = decodeSogPlane(data); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", name, err)
			}
		}
	}

	shCols := 0
	if meta.ShN != nil {
		shCols = shBandCoeffs[meta.ShN.Bands] * 3
		for _, name := range meta.ShN.Files {
			data, err := readSogFile(fs, dir, name)
			if err != nil {
				return nil, err
			}
			if planes[name], err = decodeSogPlane(data); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", name, err)
			}
		}
	}

	columns := make([]*Column, 0, 14+shCols)
	for _, name := range gaussianColumns {
		columns = append(columns, NewColumn(name, TypeFloat32, meta.Count))
	}
	for i := 0; i < shCols; i++ {
		columns = append(columns, NewColumn(shRestName(i), TypeFloat32, meta.Count))
	}
	dt, err := NewDataTable(columns)
	if err != nil {
		return nil, err
	}

	if err := decodeSogMeans(dt, &meta, planes); err != nil {
		return nil, err
	}
	if err := decodeSogQuats(dt, &meta, planes); err != nil {
		return nil, err
	}
	if err := decodeSogScalesSh0(dt, &meta, planes); err != nil {
		return nil, err
	}
	if meta.ShN != nil {
		if err := decodeSogShN(dt, &meta, planes); err != nil {
			return nil, err
		}
	}
	return dt, nil
}

func sogPlane(planes map[string]*image.NRGBA, name string) (*image.NRGBA, error) {
	p, ok := planes[name]
	if !ok {
		return nil, fmt.Errorf("sog plane %q missing", name)
	}
	return p, nil
}

// sogSplatPlane additionally checks the plane holds a texel per splat.
func sogSplatPlane(planes map[string]*image.NRGBA, name string, count int) (*image.NRGBA, error) {
	p, err := sogPlane(planes, name)
	if err != nil {
		return nil, err
	}
	if len(p.Pix) < count*4 {
		return nil, fmt.Errorf("sog plane %q holds %d texels, need %d",
			name, len(p.Pix)/4, count)
	}
	return p, nil
}

func decodeSogMeans(dt *DataTable, meta *sogMeta, planes map[string]*image.NRGBA) error {
	if len(meta.Means.Files) != 2 || len(meta.Means.Mins) != 3 || len(meta.Means.Maxs) != 3 {
		return fmt.Errorf("malformed means group")
	}
	low, err := sogSplatPlane(planes, meta.Means.Files[0], meta.Count)
	if err != nil {
		return err
	}
	high, err := sogSplatPlane(planes, meta.Means.Files[1], meta.Count)
	if err != nil {
		return err
	}

	cols := [3]*Column{dt.GetColumn("x"), dt.GetColumn("y"), dt.GetColumn("z")}
	for i := 0; i < meta.Count; i++ {
		for k := 0; k < 3; k++ {
			q := float64(uint32(low.Pix[i*4+k]) | uint32(high.Pix[i*4+k])<<8)
			v := lerp(meta.Means.Mins[k], meta.Means.Maxs[k], q/65535)
			cols[k].Set(i, math.Copysign(math.Exp(math.Abs(v))-1, v))
		}
	}
	return nil
}

func decodeSogQuats(dt *DataTable, meta *sogMeta, planes map[string]*image.NRGBA) error {
	if len(meta.Quats.Files) != 1 {
		return fmt.Errorf("malformed quats group")
	}
	plane, err := sogSplatPlane(planes, meta.Quats.Files[0], meta.Count)
	if err != nil {
		return err
	}

	rot := [4]*Column{
		dt.GetColumn("rot_0"), dt.GetColumn("rot_1"),
		dt.GetColumn("rot_2"), dt.GetColumn("rot_3"),
	}
	for i := 0; i < meta.Count; i++ {
		largest := int(plane.Pix[i*4+3]) - 252
		if largest < 0 || largest > 3 {
			return fmt.Errorf("invalid quaternion mode %d", plane.Pix[i*4+3])
		}
		var comps [4]float64
		sum := 0.0
		at := 0
		for k := 0; k < 4; k++ {
			if k == largest {
				continue
			}
			v := (float64(plane.Pix[i*4+at])/255*2 - 1) / math.Sqrt2
			comps[k] = v
			sum += v * v
			at++
		}
		comps[largest] = math.Sqrt(math.Max(0, 1-sum))

		// comps order is (x, y, z, w).
		rot[0].Set(i, comps[3])
		rot[1].Set(i, comps[0])
		rot[2].Set(i, comps[1])
		rot[3].Set(i, comps[2])
	}
	return nil
}

func decodeSogScalesSh0(dt *DataTable, meta *sogMeta, planes map[string]*image.NRGBA) error {
	if len(meta.Scales.Files) != 1 || len(meta.Sh0.Files) != 1 {
		return fmt.Errorf("malformed scales or sh0 group")
	}
	scales, err := sogSplatPlane(planes, meta.Scales.Files[0], meta.Count)
	if err != nil {
		return err
	}
	sh0, err := sogSplatPlane(planes, meta.Sh0.Files[0], meta.Count)
	if err != nil {
		return err
	}

	lookup := func(cb []float64, idx uint8) float64 {
		if int(idx) >= len(cb) {
			return 0
		}
		return cb[idx]
	}

	scaleCols := [3]*Column{
		dt.GetColumn("scale_0"), dt.GetColumn("scale_1"), dt.GetColumn("scale_2"),
	}
	dcCols := [3]*Column{
		dt.GetColumn("f_dc_0"), dt.GetColumn("f_dc_1"), dt.GetColumn("f_dc_2"),
	}
	opacity := dt.GetColumn("opacity")

	for i := 0; i < meta.Count; i++ {
		for k := 0; k < 3; k++ {
			scaleCols[k].Set(i, lookup(meta.Scales.Codebook, scales.Pix[i*4+k]))
			dcCols[k].Set(i, lookup(meta.Sh0.Codebook, sh0.Pix[i*4+k]))
		}
		opacity.Set(i, logit(float64(sh0.Pix[i*4+3])/255))
	}
	return nil
}

func decodeSogShN(dt *DataTable, meta *sogMeta, planes map[string]*image.NRGBA) error {
	if len(meta.ShN.Files) != 2 {
		return fmt.Errorf("malformed shN group")
	}
	centroids, err := sogPlane(planes, meta.ShN.Files[0])
	if err != nil {
		return err
	}
	labels, err := sogSplatPlane(planes, meta.ShN.Files[1], meta.Count)
	if err != nil {
		return err
	}

	coeffs := shBandCoeffs[meta.ShN.Bands]
	cw := centroids.Rect.Dx()
	cols := make([]*Column, coeffs*3)
	for i := range cols {
		cols[i] = dt.GetColumn(shRestName(i))
	}

	lookup := func(idx uint8) float64 {
		if int(idx) >= len(meta.ShN.Codebook) {
			return 0
		}
		return meta.ShN.Codebook[idx]
	}

	for i := 0; i < meta.Count; i++ {
		label := int(labels.Pix[i*4]) | int(labels.Pix[i*4+1])<<8
		if label >= meta.ShN.Count {
			return fmt.Errorf("sh label %d out of range", label)
		}
		rowBase := (label/64)*cw + (label%64)*coeffs
		for j := 0; j < coeffs; j++ {
			t := (rowBase + j) * 4
			cols[j].Set(i, lookup(centroids.Pix[t]))
			cols[coeffs+j].Set(i, lookup(centroids.Pix[t+1]))
			cols[2*coeffs+j].Set(i, lookup(centroids.Pix[t+2]))
		}
	}
	return nil
}
