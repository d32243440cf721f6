// Package logs sets up the application logger.
package logs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destinations
type Options struct {
	File    string // rotating log file instead of stderr
	Verbose bool
	Level   string // overrides the level implied by Verbose
}

// Loggers bundles the root logger with its in-memory copies
type Loggers struct {
	Log zerolog.Logger
	// Short is shown in the window and on the status page
	Short *MemoryWriter
	// Long is the detailed log offered for download
	Long *MemoryWriter

	closer io.Closer
}

func consoleWriter(out io.Writer, color bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    !color,
		FormatLevel: func(i any) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i any) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i any) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i any) string {
			return fmt.Sprintf("%s", i)
		},
	}
}

// Setup creates the loggers. The short memory log only receives info and
// above; the long one receives everything the root logger emits.
func Setup(opts Options) (*Loggers, error) {
	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	l := &Loggers{
		Short: NewMemoryWriter(2000, 200, false),
		Long:  NewMemoryWriter(90000, 200, true),
	}

	var out io.Writer = consoleWriter(os.Stderr, true)
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		}
		l.closer = file
		out = consoleWriter(file, false)
	}

	writer := zerolog.MultiLevelWriter(
		out,
		infoWriter{consoleWriter(l.Short, false)},
		consoleWriter(l.Long, false),
	)
	l.Log = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close flushes the log file
func (l *Loggers) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// infoWriter drops debug and trace events
type infoWriter struct {
	w io.Writer
}

func (iw infoWriter) Write(p []byte) (int, error) {
	return iw.w.Write(p)
}

func (iw infoWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.InfoLevel {
		return len(p), nil
	}
	return iw.w.Write(p)
}
