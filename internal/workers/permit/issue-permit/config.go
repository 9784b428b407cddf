// internal/workers/permit/issue-permit/config.go
package issuepermit

import (
	"time"

	"permit-workers/internal/common/config"
	"permit-workers/internal/workers/permit/permitjob"
)

func LoadConfig(app *config.Config) *permitjob.Config {
	return permitjob.ConfigFor(app, TaskType, permitjob.Config{
		MaxJobsActive: 5,
		Timeout:       15 * time.Second,
	})
}
