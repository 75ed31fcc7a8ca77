package jobs

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPurgeMessagesTask(t *testing.T) {
	task, err := NewPurgeMessagesTask(48 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TaskTypePurgeMessages, task.Type())

	var p PurgeMessagesPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, 48*time.Hour, p.OlderThan)

	_, err = NewPurgeMessagesTask(0)
	assert.Error(t, err)
}

func TestNewSweepStaleTask(t *testing.T) {
	task, err := NewSweepStaleTask(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSweepStale, task.Type())

	var p SweepStalePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, 30*time.Minute, p.OlderThan)

	_, err = NewSweepStaleTask(-time.Second)
	assert.Error(t, err)
}

func TestSchedulerRegisterTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("empty specs disable jobs", func(t *testing.T) {
		s := NewScheduler(opt, Schedule{}, log)
		assert.NoError(t, s.RegisterTasks())
	})

	t.Run("invalid cron spec", func(t *testing.T) {
		s := NewScheduler(opt, Schedule{PurgeSpec: "every now and then", PurgeOlderThan: time.Hour}, log)
		assert.Error(t, s.RegisterTasks())
	})

	t.Run("zero retention", func(t *testing.T) {
		s := NewScheduler(opt, Schedule{SweepSpec: "*/10 * * * *"}, log)
		assert.Error(t, s.RegisterTasks())
	})
}
