package callback

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the callback logger, a no-op until SetLogger is called.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger replaces the callback logger. nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
