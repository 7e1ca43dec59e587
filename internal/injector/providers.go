package injector

import (
	"github.com/zeusync/forcebridge/internal/config"
	"github.com/zeusync/forcebridge/internal/core/observability/log"
)

// ProvideLogger builds the process logger at the configured level.
func ProvideLogger(cfg *config.Config) log.Log {
	return log.New(log.ParseLevel(cfg.Log.Level))
}
