// Package logutil mirrors process logs into a file so long analysis runs
// keep a persistent record alongside the console output.
package logutil

import (
	"os"
	"strings"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var _ logrus.Hook = (*WriterHook)(nil)

// WriterHook forwards entries of the configured levels to the file logger.
type WriterHook struct {
	LogLevels []logrus.Level
}

// Fire formats the entry and appends it to the log file.
func (hook *WriterHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	fileLogger.Println(strings.TrimSuffix(line, "\n"))
	return nil
}

// Levels reports which log levels the hook receives.
func (hook *WriterHook) Levels() []logrus.Level {
	return hook.LogLevels
}

var fileLogger = &logrus.Logger{
	Level: logrus.TraceLevel,
}

// ConfigurePersistentLogging appends every subsequent log entry to the given
// file, formatted per format ("text", "fluentd" or "json").
func ConfigurePersistentLogging(logFileName, format string) error {
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	fileLogger.SetOutput(f)

	switch format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = true
		fileLogger.SetFormatter(formatter)
	case "fluentd":
		fileLogger.SetFormatter(joonix.NewFormatter())
	case "json":
		fileLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log file format %q", format)
	}

	logrus.AddHook(&WriterHook{LogLevels: logrus.AllLevels})
	logrus.WithField("file", logFileName).Info("Logs will be made persistent")
	return nil
}
