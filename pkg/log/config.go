package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
)

// Config declares how a process-wide logger is built.
type Config struct {
	Level  string
	Format string
	// Output is "stderr" (default), "stdout", "null" or a file path.
	Output string
}

// ApplyConfig builds a Logger from cfg. Unknown formats fall back to json.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := FormatJSON
	if strings.EqualFold(cfg.Format, string(FormatText)) {
		format = FormatText
	}
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLogger(WithLevel(lvl), WithFormat(format), WithOutput(out)), nil
}

func openOutput(name string) (io.Writer, error) {
	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "null":
		return io.Discard, nil
	default:
		return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimSpace(string(p)), Str("source", "stdlog"))
	return len(p), nil
}

// RedirectStdLog routes the standard library logger through l.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l: l})
}

// ToStdLogger returns a *log.Logger writing through l.
func ToStdLogger(l Logger) *stdlog.Logger {
	return stdlog.New(stdWriter{l: l}, "", 0)
}
