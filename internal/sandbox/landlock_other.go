//go:build !linux

package sandbox

import "github.com/codefionn/scee/internal/logger"

// Restrict is a no-op outside Linux.
func Restrict(p Policy) error {
	logger.Debug("Landlock sandboxing not available on this platform, %d rules ignored", len(p.Rules))
	return nil
}

// Supported reports whether Restrict can take effect on this platform.
func Supported() bool {
	return false
}
