package subprocess

import (
	"bytes"
	"context"
	"log/slog"
)

// lineWriter logs every line written to it and keeps a bounded tail of the
// raw output. exec.Cmd copies each stream from a single goroutine, so it
// needs no locking.
type lineWriter struct {
	ctx       context.Context
	stream    string
	level     slog.Level
	lineLimit int
	tailLimit int
	partial   []byte
	tail      []byte
}

func newLineWriter(ctx context.Context, stream string, level slog.Level, lineLimit, tailLimit int) *lineWriter {
	return &lineWriter{
		ctx:       ctx,
		stream:    stream,
		level:     level,
		lineLimit: lineLimit,
		tailLimit: tailLimit,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.keepTail(p)

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.log(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	// a line without newline is emitted once it can't be logged whole anyway
	if w.lineLimit > 0 && len(w.partial) > w.lineLimit {
		w.log(w.partial)
		w.partial = w.partial[:0]
	}
	w.partial = append([]byte(nil), w.partial...)
	return len(p), nil
}

// Flush logs a trailing line without a newline.
func (w *lineWriter) Flush() {
	if len(w.partial) > 0 {
		w.log(w.partial)
		w.partial = nil
	}
}

func (w *lineWriter) Tail() []byte {
	return bytes.Clone(w.tail)
}

func (w *lineWriter) log(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	truncated := false
	if w.lineLimit > 0 && len(line) > w.lineLimit {
		line = line[:w.lineLimit]
		truncated = true
	}
	attrs := []slog.Attr{
		slog.String("stream", w.stream),
		slog.String("line", string(line)),
	}
	if truncated {
		attrs = append(attrs, slog.Bool("truncated", true))
	}
	slog.LogAttrs(w.ctx, w.level, "process output", attrs...)
}

func (w *lineWriter) keepTail(p []byte) {
	if w.tailLimit <= 0 {
		return
	}
	if len(p) >= w.tailLimit {
		w.tail = append(w.tail[:0], p[len(p)-w.tailLimit:]...)
		return
	}
	w.tail = append(w.tail, p...)
	if over := len(w.tail) - w.tailLimit; over > 0 {
		w.tail = append(w.tail[:0], w.tail[over:]...)
	}
}
