package metrics

import "github.com/vibrolab/daqbench/internal/logger"

var log = logger.Global().Module("metrics")
