package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type loggerContextKey struct{}

var defaultLogger = logrus.New()

func init() {
	defaultLogger.SetOutput(os.Stdout)
	defaultLogger.SetLevel(logrus.InfoLevel)
}

// For returns a logger carrying the fields stored on ctx. ctx may be nil.
func For(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerContextKey{}).(*logrus.Entry); ok {
			return entry.WithContext(ctx)
		}
		return logrus.NewEntry(defaultLogger).WithContext(ctx)
	}
	return logrus.NewEntry(defaultLogger)
}

// NewContextWithFields returns a context whose logger also carries fields
func NewContextWithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, For(ctx).WithFields(fields))
}

// NewContextWithLogger returns a context that logs through entry
func NewContextWithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, entry)
}

// SetLevel sets the level of the default logger
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// InitWithGCPDefaults configures the default logger to write structured logs that GCP understands
func InitWithGCPDefaults() {
	defaultLogger.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyTime:  "timestamp",
		},
	})
	defaultLogger.SetReportCaller(true)
}
