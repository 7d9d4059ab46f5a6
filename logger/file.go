package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotation controls log file rotation for NewRotatingSlog.
type FileRotation struct {
	// MaxSizeMB is the maximum size in megabytes of the log file before it gets rotated.
	MaxSizeMB int
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int
	// MaxAgeDays is the maximum number of days to retain old log files.
	MaxAgeDays int
	// Compress determines if the rotated log files should be compressed.
	Compress bool
}

// NewRotatingSlog creates a slog instance that writes JSON records to filename
// with size-based rotation, regardless of the ENV development switch.
// Long-running daemon deployments should prefer this over NewSlog so the
// control daemon log cannot grow without bound.
func NewRotatingSlog(filename string, level Level, rotation FileRotation) Logger {
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 10
	}
	if rotation.MaxBackups <= 0 {
		rotation.MaxBackups = 3
	}
	if rotation.MaxAgeDays <= 0 {
		rotation.MaxAgeDays = 7
	}

	output := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	return newJSONSlog(level, false, output)
}
