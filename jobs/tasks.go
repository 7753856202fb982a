package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRolesVerifyOrdering renumbers the role hierarchy when positions drifted.
	TaskRolesVerifyOrdering = "roles:verify_ordering"
)

// VerifyOrderingPayload describes a verify-ordering run.
type VerifyOrderingPayload struct {
	// Trigger records who asked for the run: "cron" or "manual".
	Trigger string `json:"trigger"`
}

// NewVerifyOrderingTask constructs an Asynq task.
func NewVerifyOrderingTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	body, err := json.Marshal(VerifyOrderingPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRolesVerifyOrdering, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
