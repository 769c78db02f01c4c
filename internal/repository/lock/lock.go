package lock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
)

// Filename is the lock file created inside the locked directory.
const Filename = ".lock"

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("work directory is in use")

// Lock is an exclusive advisory lock on a work directory.
// The holder's PID is written into the lock file so a second build can name it.
type Lock struct {
	// file keeps the flock alive while open.
	file *os.File
}

// Acquire locks dir without waiting, creating the directory when needed.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pkgerr.IO("create "+dir, err)
	}

	path := filepath.Join(dir, Filename)

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, pkgerr.IO("open lock "+path, err)
	}

	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := describeHolder(f)

		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is held by %s", ErrHeld, dir, holder)
		}

		return nil, pkgerr.IO("lock "+path, err)
	}

	if err = writePID(f); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, pkgerr.IO("record lock owner in "+path, err)
	}

	return &Lock{file: f}, nil
}

// Release clears the owner and unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	f := l.file
	l.file = nil

	_ = f.Truncate(0)

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()

		return pkgerr.IO("unlock "+f.Name(), err)
	}

	if err := f.Close(); err != nil {
		return pkgerr.IO("close "+f.Name(), err)
	}

	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return err
}

// describeHolder names the process recorded in the lock file, as far as it can be found.
func describeHolder(f *os.File) string {
	buf := make([]byte, 32)

	n, _ := f.ReadAt(buf, 0)

	pid, err := strconv.Atoi(string(bytes.TrimSpace(buf[:n])))
	if err != nil || pid <= 0 {
		return "another process"
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return "pid " + strconv.Itoa(pid)
	}

	return fmt.Sprintf("pid %d (%s)", pid, process.Executable())
}
