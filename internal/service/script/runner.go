package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// Prelude makes the shell stop at the first failing statement, failing pipeline or unset variable.
const Prelude = "set -e -o pipefail -u"

// waitDelay bounds how long output pipes are drained after the shell exits or is killed.
const waitDelay = 5 * time.Second

// Runner executes install script statements.
type Runner interface {
	// Run executes lines in dir with env added to the inherited environment
	// and returns the exit status. A non-zero status is reported as an error.
	Run(ctx context.Context, env map[string]string, lines []string, dir string) (int, error)
}

// Bash feeds the statements to a bash process on its standard input.
// The shell runs in its own process group, which is killed on cancellation.
type Bash struct {
	// Shell is the interpreter, "bash" when empty.
	Shell string
	// Stdout and Stderr receive the script output; nil forwards it to the logger.
	Stdout io.Writer
	Stderr io.Writer
}

// NewBash returns a Bash runner that logs script output.
func NewBash() *Bash {
	return new(Bash)
}

// Run implements Runner.
func (b *Bash) Run(ctx context.Context, env map[string]string, lines []string, dir string) (int, error) {
	shell := b.Shell
	if shell == "" {
		shell = "bash"
	}

	ctx = logger.WithName(ctx, "script")

	//nolint:gosec // The interpreter comes from the operator's configuration.
	cmd := exec.CommandContext(ctx, shell)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdin = strings.NewReader(Prelude + "\n" + strings.Join(lines, "\n") + "\n")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdout, stderr := b.Stdout, b.Stderr

	if stdout == nil {
		w := newLogWriter(ctx, "stdout")
		defer w.Flush()

		stdout = w
	}

	if stderr == nil {
		w := newLogWriter(ctx, "stderr")
		defer w.Flush()

		stderr = w
	}

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.DebugKV(ctx, "Running install script", "shell", shell, "dir", dir, "statements", len(lines))

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, pkgerr.Command(shell, -1, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", err, ctxErr)
	}

	return exitErr.ExitCode(), pkgerr.Command(shell, exitErr.ExitCode(), err)
}

// mergeEnv appends the extra variables in a stable order, overriding inherited ones.
func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	result := make([]string, 0, len(base)+len(extra))

	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, overridden := extra[key]; !overridden {
			result = append(result, entry)
		}
	}

	for _, key := range keys {
		result = append(result, key+"="+extra[key])
	}

	return result
}
