package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// externalArchiver runs the system tar over the listed staging entries.
type externalArchiver struct {
	// command is the tar executable name or path.
	command string
	// compression selects the tar compression switch.
	compression string
	// dereference makes tar store link targets instead of links.
	dereference bool
}

func (a *externalArchiver) archive(ctx context.Context, stagingDir string, names []string, w io.Writer) error {
	list, err := writeNameList(names)
	if err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(list)
	}()

	args := []string{"-c"}
	if a.dereference {
		args = append(args, "-h")
	}

	// Directories are listed one by one; recursing would pick up unrecorded entries.
	args = append(args, "--no-recursion", "--null")
	args = append(args, tarFlags[a.compression]...)
	args = append(args, "-f", "-", "-T", list)

	//nolint:gosec // The tar command comes from the operator's configuration.
	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Dir = stagingDir
	cmd.Stdout = w

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.DebugKV(ctx, "Running archiver", "command", a.command, "args", args, "dir", stagingDir)

	if err = cmd.Run(); err != nil {
		status := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}

		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}

		return pkgerr.Command(a.command, status, err)
	}

	return nil
}

// writeNameList stores names NUL-separated in a temporary file outside the staging area.
func writeNameList(names []string) (string, error) {
	f, err := os.CreateTemp("", "xbps-builder-names-")
	if err != nil {
		return "", pkgerr.IO("create archive name list", err)
	}

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
	}

	_, err = f.Write(buf.Bytes())
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(f.Name())

		return "", pkgerr.IO("write archive name list", err)
	}

	return f.Name(), nil
}
