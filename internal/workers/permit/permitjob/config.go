// internal/workers/permit/permitjob/config.go
package permitjob

import (
	"time"

	"permit-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

// ConfigFor reads workers.<taskType> from the application config, falling
// back to defaults for anything not set. A worker missing from the config is
// enabled.
func ConfigFor(app *config.Config, taskType string, defaults Config) *Config {
	cfg := defaults
	if cfg.MaxJobsActive == 0 {
		cfg.MaxJobsActive = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Enabled = true

	if app == nil {
		return &cfg
	}
	wc, ok := app.Workers[taskType]
	if !ok {
		return &cfg
	}
	cfg.Enabled = wc.Enabled
	if wc.MaxJobsActive > 0 {
		cfg.MaxJobsActive = wc.MaxJobsActive
	}
	if wc.Timeout > 0 {
		cfg.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	return &cfg
}
