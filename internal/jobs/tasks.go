// Package jobs runs periodic maintenance on asynq: purging old webhook
// idempotency markers and failing generations that never finished.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePurgeMessages = "maintenance:purge_messages"
	TaskTypeSweepStale    = "generation:sweep_stale"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighted queue set the worker consumes.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

type PurgeMessagesPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

type SweepStalePayload struct {
	OlderThan time.Duration `json:"older_than"`
}

func NewPurgeMessagesTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("purge messages: older_than must be positive, got %s", olderThan)
	}
	payload, err := json.Marshal(PurgeMessagesPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypePurgeMessages, payload, asynq.Queue(QueueLow), asynq.MaxRetry(3)), nil
}

// NewSweepStaleTask refunds stuck generations, so it runs on the default queue
// and a missed run must not pile up: Unique drops duplicates within the window.
func NewSweepStaleTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("sweep stale: older_than must be positive, got %s", olderThan)
	}
	payload, err := json.Marshal(SweepStalePayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeSweepStale, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Unique(5*time.Minute),
	), nil
}
