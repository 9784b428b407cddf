// internal/workers/permit/delete-application/config.go
package deleteapplication

import (
	"time"

	"permit-workers/internal/common/config"
	"permit-workers/internal/workers/permit/permitjob"
)

func LoadConfig(app *config.Config) *permitjob.Config {
	return permitjob.ConfigFor(app, TaskType, permitjob.Config{
		MaxJobsActive: 5,
		Timeout:       10 * time.Second,
	})
}
