package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/guildhall/guildhall/internal/jobs"
	"github.com/guildhall/guildhall/internal/roles"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OrderingVerifier runs the role renumbering pass.
type OrderingVerifier interface {
	VerifyOrdering(ctx context.Context) ([]roles.Change, error)
}

// VerifyOrderingJob repairs gaps and duplicates in role positions.
type VerifyOrderingJob struct {
	Verifier OrderingVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewVerifyOrderingJob constructs the job handler.
func NewVerifyOrderingJob(verifier OrderingVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *VerifyOrderingJob {
	return &VerifyOrderingJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle executes the verify-ordering job.
func (j *VerifyOrderingJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("verify ordering: dependencies not configured")
	}
	var payload VerifyOrderingPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRolesVerifyOrdering)
	start := time.Now()
	changes, err := j.Verifier.VerifyOrdering(ctx)
	if err != nil {
		j.log().Error("verify ordering", slog.String("trigger", payload.Trigger), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddRepairs(len(changes))
	for _, c := range changes {
		j.log().Warn("role position repaired", slog.Int64("role_id", c.RoleID), slog.Int("from", c.From), slog.Int("to", c.To))
	}
	j.log().Info("verified role ordering",
		slog.String("trigger", payload.Trigger),
		slog.Int("repaired", len(changes)),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *VerifyOrderingJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *VerifyOrderingJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRolesVerifyOrdering))
	}
	return slog.Default().With(slog.String("job", TaskRolesVerifyOrdering))
}
