package taxonomy

import (
	"sync"

	"github.com/tphakala/wildwatch/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the taxonomy module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("taxonomy")
	})
	return serviceLogger
}
