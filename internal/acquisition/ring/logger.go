package ring

import (
	"github.com/vibrolab/daqbench/internal/logger"
)

// GetLogger returns the ring buffer logger. Fetched on use so it follows
// the current global logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("acquisition.ring")
}
