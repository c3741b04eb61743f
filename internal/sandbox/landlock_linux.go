//go:build linux

package sandbox

import (
	"fmt"
	"os"

	"github.com/codefionn/scee/internal/logger"
	landlock "github.com/landlock-lsm/go-landlock/landlock"
)

// Restrict applies p to the calling process and every thread it spawns.
// It cannot be undone.
func Restrict(p Policy) error {
	rules := make([]landlock.Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		// Landlock rejects directory access rights on regular files.
		isFile := false
		if info, err := os.Stat(r.Path); err == nil && !info.IsDir() {
			isFile = true
		}

		switch {
		case r.Access == AccessReadWrite && isFile:
			rules = append(rules, landlock.RWFiles(r.Path))
		case r.Access == AccessReadWrite:
			rules = append(rules, landlock.RWDirs(r.Path))
		case isFile:
			rules = append(rules, landlock.ROFiles(r.Path))
		default:
			rules = append(rules, landlock.RODirs(r.Path))
		}
	}

	var err error
	if p.BestEffort {
		err = landlock.V6.BestEffort().RestrictPaths(rules...)
	} else {
		err = landlock.V6.RestrictPaths(rules...)
	}
	if err != nil {
		return fmt.Errorf("landlock restriction failed: %w", err)
	}

	logger.Debug("Landlock restrictions applied: %d rules", len(rules))
	return nil
}

// Supported reports whether Restrict can take effect on this platform.
func Supported() bool {
	return true
}
