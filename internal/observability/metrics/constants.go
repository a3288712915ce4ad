package metrics

import "time"

// Operation names recorded by AnalysisMetrics.
const (
	OpProcess     = "process"
	OpFit         = "fit"
	OpArchiveSave = "archive_save"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

const namespace = "daqbench"

// ShutdownTimeout bounds the metrics endpoint shutdown.
const ShutdownTimeout = 5 * time.Second
