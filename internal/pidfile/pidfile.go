// Package pidfile records the server PID and keeps two servers from running
// against the same PID file
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunning is returned by Acquire when the PID file belongs to a live process
var ErrRunning = errors.New("server is already running")

// Pidfile represents a PID file
type Pidfile struct {
	path string
	pid  int
	held bool
}

// New creates a new PID file instance
func New(path string) *Pidfile {
	return &Pidfile{
		path: path,
	}
}

// Acquire writes the current PID to the file. A file left behind by a
// process that is gone is replaced; one held by a live process yields
// ErrRunning.
func (p *Pidfile) Acquire() error {
	if p.held {
		return nil
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}

	err := p.create()
	if errors.Is(err, os.ErrExist) {
		pid, readErr := p.Read()
		if readErr == nil && pid != os.Getpid() {
			if running, _ := isProcessRunning(pid); running {
				return fmt.Errorf("%w (pid %d, %s)", ErrRunning, pid, p.path)
			}
		}
		if removeErr := os.Remove(p.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to remove stale pidfile: %w", removeErr)
		}
		err = p.create()
	}
	if err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}

	p.pid = os.Getpid()
	p.held = true
	return nil
}

func (p *Pidfile) create() error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		f.Close()
		os.Remove(p.path)
		return err
	}
	return f.Close()
}

// Read reads the PID from the PID file
func (p *Pidfile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}

	return pid, nil
}

// Release removes the PID file if this process wrote it
func (p *Pidfile) Release() error {
	if !p.held {
		return nil
	}
	p.held = false

	// Someone may have replaced it; leave theirs alone
	if pid, err := p.Read(); err == nil && pid != p.pid {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Path returns the PID file path
func (p *Pidfile) Path() string {
	return p.path
}

// Held reports whether this process owns the PID file
func (p *Pidfile) Held() bool {
	return p.held
}
