package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		log.Fatal("Bad error level string")
	}
}

// SetupLogFiles sends every entry to <logdir>/log.log and warnings and above
// to <logdir>/error.log as well. The console gets info and above when verbose
// is set, warnings and above otherwise. The returned func closes both files.
func SetupLogFiles(logdir string, verbose bool) (func() error, error) {
	return setupLogFiles(Log, logdir, verbose, os.Stderr)
}

func setupLogFiles(l *logrus.Logger, logdir string, verbose bool, console io.Writer) (func() error, error) {
	if err := os.MkdirAll(logdir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	all, err := os.OpenFile(filepath.Join(logdir, "log.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	errs, err := os.OpenFile(filepath.Join(logdir, "error.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		all.Close()
		return nil, err
	}

	plain := &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	consoleMin := logrus.WarnLevel
	if verbose {
		consoleMin = logrus.InfoLevel
	}

	l.SetOutput(io.Discard)
	l.AddHook(&writerHook{w: console, levels: levelsUpTo(consoleMin), formatter: &logrus.TextFormatter{}})
	l.AddHook(&writerHook{w: all, levels: logrus.AllLevels, formatter: plain})
	l.AddHook(&writerHook{w: errs, levels: levelsUpTo(logrus.WarnLevel), formatter: plain})

	return func() error {
		err1 := all.Close()
		if err2 := errs.Close(); err2 != nil {
			return err2
		}
		return err1
	}, nil
}

// levelsUpTo returns min and every more severe level.
func levelsUpTo(min logrus.Level) []logrus.Level {
	var out []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= min {
			out = append(out, lvl)
		}
	}
	return out
}

type writerHook struct {
	w         io.Writer
	levels    []logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level { return h.levels }

func (h *writerHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}
