package util

import (
	"context"
	"time"

	"github.com/SplitFi/go-barter/service/logger"
)

// Track logs the time it takes to execute a function
func Track(ctx context.Context, s string, startTime time.Time) {
	logger.For(ctx).Debugf("%s took %v", s, time.Since(startTime))
}
