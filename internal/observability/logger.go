package observability

import "github.com/vibrolab/daqbench/internal/logger"

var log = logger.Global().Module("metrics")
