// internal/workers/permit/record-payment/config.go
package recordpayment

import (
	"time"

	"permit-workers/internal/common/config"
	"permit-workers/internal/workers/permit/permitjob"
)

func LoadConfig(app *config.Config) *permitjob.Config {
	return permitjob.ConfigFor(app, TaskType, permitjob.Config{
		MaxJobsActive: 10,
		Timeout:       10 * time.Second,
	})
}
