package meter

import (
	"log/slog"

	ld "github.com/ineyio/llmdispatch"
)

// LogMeter logs unit transitions using slog. Queued and executing
// transitions are logged at Debug, retries at Info, terminal failures at
// Warn.
type LogMeter = ld.LogMeter

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	return ld.NewLogMeter(logger)
}
