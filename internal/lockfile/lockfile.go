// Package lockfile guards a DeskPipe state directory against a second instance.
//
// The lock is an flock on a file inside the state directory. The kernel drops
// it when the process exits, so a crash never leaves the directory locked;
// the file itself may linger and only describes the last owner.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "deskpipe.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
	APIAddr string
}

// String renders the owner the way it appears in error messages.
func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	s := fmt.Sprintf("PID %d", o.PID)
	if isProcessRunning(o.PID) {
		s += " (running)"
	} else {
		s += " (not running - stale lock)"
	}
	if !o.Started.IsZero() {
		s += ", started " + o.Started.Format(time.RFC3339)
	}
	if o.APIAddr != "" {
		s += ", API on " + o.APIAddr
	}
	return s
}

// Option configures the owner record written into the lock file.
type Option func(*Owner)

// WithAPIAddr records the control API address of the owning process.
func WithAPIAddr(addr string) Option {
	return func(o *Owner) { o.APIAddr = addr }
}

// Lock represents an active directory lock
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if
// needed. If another process holds it, a *LockError describing that process
// is returned.
func AcquireLock(stateDir string, opts ...Option) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the current owner's record before we know we hold the lock
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		existing, _ := readOwner(lockPath)
		file.Close()
		slog.Error("AcquireLock: state directory is locked by another DeskPipe instance",
			"lock_path", lockPath, "owner", existing.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Owner: existing, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), Started: time.Now().UTC().Truncate(time.Second)}
	for _, opt := range opts {
		opt(&owner)
	}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Owner returns the record this process wrote.
func (l *Lock) Owner() Owner { return l.owner }

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another DeskPipe instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	fmt.Fprintf(&b, "\nExisting process: %s", e.Owner)
	b.WriteString("\n\nIf no other DeskPipe instance is running, the lock file is stale and can be removed with:\n")
	fmt.Fprintf(&b, "  rm %s", e.LockPath)
	b.WriteString("\n\nTwo instances sharing a state directory will corrupt the WhatsApp session store.")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	record := fmt.Sprintf("pid=%d\nstarted=%s\n", o.PID, o.Started.Format(time.RFC3339))
	if o.APIAddr != "" {
		record += "api=" + o.APIAddr + "\n"
	}
	if _, err := f.WriteString(record); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("writeOwner: failed to sync lock file", "error", err)
	}
	return nil
}

func readOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	return parseOwner(string(data)), nil
}

// parseOwner reads the key=value lines of a lock file; unknown keys are ignored.
func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				o.Started = t
			}
		case "api":
			o.APIAddr = v
		}
	}
	return o
}

// isProcessRunning checks pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
