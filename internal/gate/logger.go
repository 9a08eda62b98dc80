package gate

import (
	"sync"

	"github.com/tphakala/wildwatch/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the gate module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("gate")
	})
	return serviceLogger
}
