//go:build !govips || !cgo

package preview

import "log"

func Startup(_ *log.Logger) error {
	return nil
}

func Shutdown() {}
