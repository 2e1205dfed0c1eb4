package rectify

import (
	"fmt"
	"math"

	"github.com/unwarphq/unwarp/internal/domain"
)

// Homography is a 3x3 projective transform in row-major order, mapping
// source pixel coordinates to destination pixel coordinates.
type Homography [9]float64

// Geometry is the solved output of one rectification: the destination
// rectangle dimensions and the corner mapping, with the inverse precomputed
// for the resampler.
type Geometry struct {
	Width   float64
	Height  float64
	H       Homography
	Inverse Homography
}

// NormalizeCorners clamps each corner into [0, w-1] x [0, h-1]. Order is
// preserved and coincident points are left alone. Idempotent. Coordinates
// are expected in image pixel space; mapping from display coordinates is the
// caller's job.
func NormalizeCorners(quad [4]domain.CornerPoint, w, h int) [4]domain.CornerPoint {
	maxX := float64(w - 1)
	maxY := float64(h - 1)
	for i, p := range quad {
		quad[i] = domain.CornerPoint{
			X: clamp(p.X, 0, maxX),
			Y: clamp(p.Y, 0, maxY),
		}
	}
	return quad
}

// ComputeGeometry derives the destination rectangle and perspective mapping
// for a clamped corner set ordered top-left, top-right, bottom-right,
// bottom-left. Each output dimension takes the longer of its pair of
// opposing edges, so the higher-resolution side of a skewed quadrilateral
// keeps its detail.
func ComputeGeometry(quad [4]domain.CornerPoint) (Geometry, error) {
	topW := dist(quad[1], quad[0])
	bottomW := dist(quad[2], quad[3])
	leftH := dist(quad[3], quad[0])
	rightH := dist(quad[2], quad[1])

	width := math.Max(topW, bottomW)
	height := math.Max(leftH, rightH)
	if width <= 0 || height <= 0 {
		return Geometry{}, fmt.Errorf("%w: output rectangle %.2fx%.2f", ErrDegenerateGeometry, width, height)
	}

	dst := [4]domain.CornerPoint{
		{X: 0, Y: 0},
		{X: width, Y: 0},
		{X: width, Y: height},
		{X: 0, Y: height},
	}
	h, ok := computeHomography(quad, dst)
	if !ok {
		return Geometry{}, fmt.Errorf("%w: corner correspondence is unsolvable", ErrDegenerateGeometry)
	}
	inv, ok := h.Invert()
	if !ok {
		return Geometry{}, fmt.Errorf("%w: mapping is not invertible", ErrDegenerateGeometry)
	}

	return Geometry{Width: width, Height: height, H: h, Inverse: inv}, nil
}

// computeHomography solves the projective transform H with H*src[i] ~ dst[i]
// for four point pairs: eight unknowns (h22 pinned to 1), eight constraints,
// Gaussian elimination with partial pivoting over the augmented system.
// Returns false when the system is singular (collinear corners).
func computeHomography(src, dst [4]domain.CornerPoint) (Homography, bool) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		sx, sy := src[i].X, src[i].Y
		dx, dy := dst[i].X, dst[i].Y
		r := 2 * i
		a[r] = [9]float64{sx, sy, 1, 0, 0, 0, -sx * dx, -sy * dx, dx}
		a[r+1] = [9]float64{0, 0, 0, sx, sy, 1, -sx * dy, -sy * dy, dy}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return Homography{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		inv := 1 / a[col][col]
		for c := col; c < 9; c++ {
			a[col][c] *= inv
		}
		for r := 0; r < 8; r++ {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	return Homography{a[0][8], a[1][8], a[2][8], a[3][8], a[4][8], a[5][8], a[6][8], a[7][8], 1}, true
}

// Apply maps (x, y) through the transform. Points on the vanishing line have
// no finite image and map to a far out-of-range sentinel, which downstream
// sampling treats as out of bounds.
func (h Homography) Apply(x, y float64) (float64, float64) {
	denom := h[6]*x + h[7]*y + h[8]
	if denom == 0 {
		return -1e9, -1e9
	}
	return (h[0]*x + h[1]*y + h[2]) / denom, (h[3]*x + h[4]*y + h[5]) / denom
}

// Invert returns the inverse mapping via the adjugate. For a projective
// transform the adjugate equals the inverse up to scale, and scale cancels
// in the homogeneous divide.
func (h Homography) Invert() (Homography, bool) {
	adj := Homography{
		h[4]*h[8] - h[5]*h[7],
		h[2]*h[7] - h[1]*h[8],
		h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8],
		h[0]*h[8] - h[2]*h[6],
		h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6],
		h[1]*h[6] - h[0]*h[7],
		h[0]*h[4] - h[1]*h[3],
	}
	det := h[0]*adj[0] + h[1]*adj[3] + h[2]*adj[6]
	if math.Abs(det) < 1e-12 {
		return Homography{}, false
	}
	return adj, true
}

func dist(a, b domain.CornerPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
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
