package pidfile

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidfile_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "scee.pid")
	p := New(path)

	if err := p.Acquire(); err != nil {
		t.Fatalf("Failed to acquire pidfile: %v", err)
	}
	if !p.Held() {
		t.Error("Pidfile should be held")
	}

	pid, err := p.Read()
	if err != nil {
		t.Fatalf("Failed to read pidfile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Failed to release pidfile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Pidfile should be removed, stat err: %v", err)
	}

	// Release twice is a no-op
	if err := p.Release(); err != nil {
		t.Errorf("Second release failed: %v", err)
	}
}

func TestPidfile_LiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scee.pid")

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		t.Fatal(err)
	}

	err := New(path).Acquire()
	if !errors.Is(err, ErrRunning) {
		t.Fatalf("Expected ErrRunning, got %v", err)
	}
}

func TestPidfile_StaleFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scee.pid")

	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.ProcessState.Pid())), 0644); err != nil {
		t.Fatal(err)
	}

	p := New(path)
	if err := p.Acquire(); err != nil {
		t.Fatalf("Expected stale pidfile to be replaced, got %v", err)
	}
	defer p.Release()

	pid, err := p.Read()
	if err != nil || pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d (%v)", os.Getpid(), pid, err)
	}
}

func TestPidfile_GarbageIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scee.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0644); err != nil {
		t.Fatal(err)
	}

	p := New(path)
	if err := p.Acquire(); err != nil {
		t.Fatalf("Failed to acquire over garbage pidfile: %v", err)
	}
	p.Release()
}

func TestPidfile_ReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scee.pid")
	p := New(path)
	if err := p.Acquire(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Foreign pidfile should be kept: %v", err)
	}
}
