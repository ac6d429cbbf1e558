package log

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func SetLogger(l zerolog.Logger) {
	zlog.Logger = l
}

func GetLogger() zerolog.Logger {
	return zlog.Logger
}

// Setup builds the process logger: console output plus an optional rotated file.
func Setup(level string, file *FileConfig) (zerolog.Logger, io.Closer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var closer io.Closer = nopCloser{}
	writers := []io.Writer{zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})}

	if file != nil && file.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(lvl)
	SetLogger(l)
	return l, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var (
	Error = zlog.Error
	Warn  = zlog.Warn
	Info  = zlog.Info
	Debug = zlog.Debug
	Trace = zlog.Trace
	Fatal = zlog.Fatal
)
