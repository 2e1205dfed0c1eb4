//go:build govips && cgo

package preview

import (
	"log"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup boots the vips runtime once and routes its warnings through the
// process logger.
func Startup(logger *log.Logger) error {
	startupOnce.Do(func() {
		if logger != nil {
			vips.LoggingSettings(func(domain string, _ vips.LogLevel, msg string) {
				logger.Printf("vips %s: %s", domain, msg)
			}, vips.LogLevelWarning)
		}
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}
