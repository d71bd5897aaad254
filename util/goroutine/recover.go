package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"argus/metrics"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines, logs them and counts them per goroutine name.
// It must be deferred directly by the goroutine it protects.
// If logger is nil, falls back to stderr to ensure panic is recorded
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		report(name, r, logger)
	}
}

// RecoverWith behaves like Recover and additionally hands the panic value to onPanic,
// letting callers turn a crashed task into a regular error result.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(r interface{})) {
	if r := recover(); r != nil {
		report(name, r, logger)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func report(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	metrics.GoroutinePanics.WithLabelValues(name).Inc()

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
