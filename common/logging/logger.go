package logging

import (
	"os"
	"path"
	"time"

	"github.com/lestrrat/go-file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/stream-uploader/common/config"
)

type utcFormatter struct {
	logrus.Formatter
}

func (f utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}

// Setup configures the global logrus logger. Console output goes to stderr
// because stdout carries the upload result.
func Setup(conf config.GeneralConfig) error {
	level := conf.LogLevel
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	formatter := &utcFormatter{newLineFormatter(conf.JsonLogs, conf.LogColors)}
	logrus.SetFormatter(formatter)
	logrus.SetOutput(os.Stderr)

	dir := conf.LogDirectory
	if dir == "" || dir == "-" {
		return nil
	}
	_ = os.MkdirAll(dir, os.ModePerm)

	logFile := path.Join(dir, "stream_uploader.log")
	writer, err := rotatelogs.New(
		logFile+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logFile),
		rotatelogs.WithMaxAge((24*time.Hour)*14),  // keep for 14 days
		rotatelogs.WithRotationTime(24*time.Hour), // rotate every 24 hours
	)
	if err != nil {
		return err
	}

	// The file always gets plain text, regardless of console colours.
	logrus.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: writer,
		logrus.InfoLevel:  writer,
		logrus.WarnLevel:  writer,
		logrus.ErrorLevel: writer,
		logrus.FatalLevel: writer,
		logrus.PanicLevel: writer,
	}, &utcFormatter{newLineFormatter(conf.JsonLogs, false)}))

	return nil
}

func newLineFormatter(json bool, colors bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{
			TimestampFormat:  "2006-01-02 15:04:05.000 Z07:00",
			DisableTimestamp: false,
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.000 Z07:00",
		FullTimestamp:    true,
		ForceColors:      colors,
		DisableColors:    !colors,
		DisableTimestamp: false,
		QuoteEmptyFields: true,
	}
}
