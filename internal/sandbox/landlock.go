// Package sandbox confines the auth worker process with Linux Landlock.
// On Linux kernels with Landlock (5.13+) the worker loses filesystem access
// outside the database directory. Elsewhere, or when Landlock is missing,
// restriction is a logged no-op.
package sandbox

import (
	"os"
	"path/filepath"
)

// AccessLevel represents the type of filesystem access granted to a path.
type AccessLevel int

const (
	// AccessReadOnly grants read-only access
	AccessReadOnly AccessLevel = iota
	// AccessReadWrite grants read and write access
	AccessReadWrite
)

// PathRule grants one access level to one path.
type PathRule struct {
	Path   string
	Access AccessLevel
}

// Policy is the set of paths a restricted process may still open.
type Policy struct {
	Rules []PathRule
	// BestEffort degrades to the strongest Landlock ABI the kernel offers
	// instead of failing.
	BestEffort bool
}

// WorkerPolicy allows read-write access to the directory holding dbPath,
// where SQLite keeps its journal, plus read-only zoneinfo for log timestamps.
func WorkerPolicy(dbPath string) Policy {
	dbDir := filepath.Dir(dbPath)
	if abs, err := filepath.Abs(dbDir); err == nil {
		dbDir = abs
	}

	rules := []PathRule{{Path: dbDir, Access: AccessReadWrite}}
	for _, p := range []string{"/etc/localtime", "/usr/share/zoneinfo"} {
		if _, err := os.Stat(p); err == nil {
			rules = append(rules, PathRule{Path: p, Access: AccessReadOnly})
		}
	}

	return Policy{Rules: rules, BestEffort: true}
}
