//go:build !(windows || linux || freebsd || openbsd || netbsd || (darwin && cgo))

package capture

import "runtime"

// Default returns the platform capturer. This build has no capture backend.
func Default() Capturer {
	return Unavailable{Reason: "no capture backend for " + runtime.GOOS}
}
