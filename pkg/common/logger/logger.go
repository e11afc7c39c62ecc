package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func Init() {
	Log = logrus.New()
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// WithRun tags entries with the pipeline run they belong to.
func WithRun(runID string) *logrus.Entry {
	return Log.WithField("run_id", runID)
}

// WithStage tags entries with a pipeline run and the stage acting on it.
func WithStage(runID, stage string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"run_id": runID, "stage": stage})
}
