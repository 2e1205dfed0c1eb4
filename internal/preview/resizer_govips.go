//go:build govips && cgo

package preview

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsResizer struct{}

func newResizer() Resizer {
	return govipsResizer{}
}

func (govipsResizer) Resize(ctx context.Context, input []byte, width int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if width < 1 {
		return nil, fmt.Errorf("preview width must be positive")
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("decode preview source: %w", err)
	}
	defer img.Close()

	if img.Width() > width {
		scale := float64(width) / float64(img.Width())
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("resize preview: %w", err)
		}
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return data, nil
}
