package preview

import "context"

// Resizer scales an encoded image down to the requested width, keeping the
// aspect ratio, and returns PNG bytes. Sources already narrower than the
// target are re-encoded without upscaling.
type Resizer interface {
	Resize(ctx context.Context, input []byte, width int) ([]byte, error)
}

// New returns the resizer selected at build time: libvips when compiled with
// the govips tag under cgo, pure Go otherwise.
func New() Resizer {
	return newResizer()
}
