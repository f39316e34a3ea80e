package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	logwriter "github.com/sirupsen/logrus/hooks/writer"
	"github.com/spf13/cast"

	"github.com/junsooki/RemoteDisplay/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.999"

// levelMapping lists the levels written to the log file for each configured level.
var levelMapping = map[string][]logrus.Level{
	"debug": {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel},
	"info":  {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel},
	"warn":  {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel},
	"error": {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	"fatal": {logrus.PanicLevel, logrus.FatalLevel},
}

func resolveLevels(l string) []logrus.Level {
	l = strings.ToLower(l)
	if l == "warning" {
		l = "warn"
	}
	if levels, ok := levelMapping[l]; ok {
		return levels
	}
	return levelMapping["info"]
}

func resolveLevel(l string) logrus.Level {
	lvl, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Setup configures the standard logrus logger: JSON to console, and when
// c.Path is set, a daily-rotated file as well. The returned func closes the
// file writer.
func Setup(c config.Log, console io.Writer) (func() error, error) {
	if console == nil {
		console = os.Stderr
	}
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	logrus.SetOutput(console)
	logrus.SetLevel(resolveLevel(c.Level))
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	if c.Path == "" {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create %s: %w", c.Path, err)
	}
	name := c.Name
	if name == "" {
		name = "remotedisplay"
	}
	logFilePath := filepath.Join(c.Path, name+".log")

	opts := []rotatelogs.Option{rotatelogs.WithLinkName(logFilePath)}
	if c.MaxAge != "" {
		opts = append(opts, rotatelogs.WithMaxAge(cast.ToDuration(c.MaxAge)))
	}
	if c.RotateTime != "" {
		opts = append(opts, rotatelogs.WithRotationTime(cast.ToDuration(c.RotateTime)))
	}
	fileWriter, err := rotatelogs.New(logFilePath+".%Y%m%d", opts...)
	if err != nil {
		return nil, fmt.Errorf("logging: open rotating log: %w", err)
	}

	logrus.AddHook(&logwriter.Hook{
		Writer:    fileWriter,
		LogLevels: resolveLevels(c.Level),
	})
	return fileWriter.Close, nil
}
