package script

import (
	"bytes"
	"context"
	"sync"

	"github.com/oshokin/xbps-builder/internal/logger"
)

// logWriter forwards complete lines of process output to the logger.
type logWriter struct {
	ctx    context.Context
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogWriter(ctx context.Context, stream string) *logWriter {
	return &logWriter{ctx: ctx, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}

		line := string(w.buf.Next(i + 1))
		w.emit(line[:len(line)-1])
	}

	return len(p), nil
}

// Flush logs a trailing line that had no newline.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *logWriter) emit(line string) {
	if w.stream == "stderr" {
		logger.WarnKV(w.ctx, line, "stream", w.stream)

		return
	}

	logger.InfoKV(w.ctx, line, "stream", w.stream)
}
