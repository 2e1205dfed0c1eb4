//go:build !govips || !cgo

package preview

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

type imagingResizer struct{}

func newResizer() Resizer {
	return imagingResizer{}
}

func (imagingResizer) Resize(ctx context.Context, input []byte, width int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if width < 1 {
		return nil, fmt.Errorf("preview width must be positive")
	}

	src, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("decode preview source: %w", err)
	}

	out := src
	if src.Bounds().Dx() > width {
		out = imaging.Resize(src, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
