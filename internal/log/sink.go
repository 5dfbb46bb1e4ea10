package log

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Sink opens the log destination configured by service.log: stderr,
// stdout, discard or a path of a size rotated file.
func Sink(dest string) (io.WriteCloser, error) {
	switch dest {
	case "", model.LogStderr:
		return nopCloser{os.Stderr}, nil
	case model.LogStdout:
		return nopCloser{os.Stdout}, nil
	case model.LogDiscard:
		return nopCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   dest,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}, nil
}
