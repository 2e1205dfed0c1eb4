package rectify

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/unwarphq/unwarp/internal/domain"
)

var (
	ErrDecode             = errors.New("image decode failed")
	ErrInvalidCorners     = errors.New("invalid corner points")
	ErrDegenerateGeometry = errors.New("degenerate corner geometry")
	ErrEncode             = errors.New("image encode failed")
)

// Process runs the full correction pipeline over raw image bytes: decode,
// clamp the four corners into bounds, solve the perspective mapping,
// resample into an upright rectangle, enhance, and encode the result as PNG.
//
// Corners are in source pixel space, ordered top-left, top-right,
// bottom-right, bottom-left. Every stage is a pure function of its input;
// nothing is cached across invocations. Errors wrap one of the sentinel
// values above, all of which indicate bad caller input and are not worth
// retrying.
func Process(ctx context.Context, raw []byte, corners []domain.CornerPoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := decodeRGBA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	quad, err := cornerQuad(corners)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	quad = NormalizeCorners(quad, bounds.Dx(), bounds.Dy())

	geom, err := ComputeGeometry(quad)
	if err != nil {
		return nil, err
	}

	rectified := Resample(src, geom)
	enhanced := Enhance(rectified)

	out, err := encodePNG(enhanced)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return out, nil
}

func cornerQuad(corners []domain.CornerPoint) ([4]domain.CornerPoint, error) {
	var quad [4]domain.CornerPoint
	if len(corners) != 4 {
		return quad, fmt.Errorf("%w: expected 4 corner points, got %d", ErrInvalidCorners, len(corners))
	}
	for i, p := range corners {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			return quad, fmt.Errorf("%w: corner %d has a non-finite coordinate", ErrInvalidCorners, i)
		}
		quad[i] = p
	}
	return quad, nil
}
