package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeProcs aligns GOMAXPROCS with the container CPU quota. Call it at
// the top of main; the returned function restores the previous value.
func InitializeProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	sugar := logger.Sugar()

	undo, err := maxprocs.Set(maxprocs.Logger(sugar.Infof))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS from CPU quota", zap.Error(err))
		return func() {}
	}

	logger.Info("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}

// DefaultObserverConcurrency sizes the observer pool from the available CPUs
func DefaultObserverConcurrency() int {
	n := runtime.GOMAXPROCS(0) * 2
	if n < 4 {
		n = 4
	}
	return n
}
