package sentryutil

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/logger"
)

// Init initializes sentry outside of local environments
func Init() {
	if env.GetString("ENV") == "local" || env.GetString("SENTRY_DSN") == "" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              env.GetString("SENTRY_DSN"),
		Environment:      env.GetString("ENV"),
		TracesSampleRate: env.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          env.GetString("VERSION"),
		AttachStacktrace: true,
	})
	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}
}

// NewSentryHubContext returns a context carrying its own hub so scopes don't leak across goroutines
func NewSentryHubContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return sentry.SetHubOnContext(ctx, hub.Clone())
}

// SentryHubFromContext returns the hub stored on ctx, if any
func SentryHubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return nil
	}
	return sentry.GetHubFromContext(ctx)
}

// ReportError sends err to sentry
func ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := SentryHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// SetTradeContext tags the scope with trade identifiers
func SetTradeContext(scope *sentry.Scope, tradeID string, chainTradeID string) {
	scope.SetContext("trade context", map[string]interface{}{
		"TradeID":      tradeID,
		"ChainTradeID": chainTradeID,
	})
}

// RecoverAndRaise reports a panic to sentry and re-panics
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		hub := SentryHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.Recover(err)
		hub.Flush(2 * time.Second)
		logger.For(ctx).WithFields(logrus.Fields{"panic": fmt.Sprint(err)}).Error("recovered from panic")
		panic(err)
	}
}
