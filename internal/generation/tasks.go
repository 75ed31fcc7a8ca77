package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/kie"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/internal/storage"
	"github.com/Proton-105/photostudio/pkg/metrics"
)

var aspectRatios = map[string]struct{}{
	"auto": {}, "1:1": {}, "3:4": {}, "4:3": {}, "2:3": {}, "3:2": {},
	"4:5": {}, "5:4": {}, "9:16": {}, "16:9": {}, "21:9": {},
}

const sweepBatch = 100

type Request struct {
	UserID      int64  `json:"user_id"`
	AvatarID    int64  `json:"avatar_id"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// Start charges the user and submits a generation task to kie.ai.
func (s *Service) Start(ctx context.Context, req Request) (*domain.GenerationTask, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if n := utf8.RuneCountInString(prompt); n == 0 || n > s.opts.MaxPromptLength {
		return nil, apperrors.NewValidationError(fmt.Sprintf("prompt must be 1-%d characters", s.opts.MaxPromptLength))
	}

	ratio := strings.TrimSpace(req.AspectRatio)
	if ratio == "" {
		ratio = s.opts.DefaultRatio
	}
	if _, ok := aspectRatios[ratio]; !ok {
		return nil, apperrors.NewValidationError("unsupported aspect ratio " + ratio)
	}

	if _, err := s.ownedAvatar(ctx, req.UserID, req.AvatarID); err != nil {
		return nil, err
	}

	photos, err := s.Avatars.ListPhotos(ctx, req.AvatarID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	if len(photos) == 0 {
		return nil, apperrors.NewValidationError("avatar has no reference photos")
	}

	if s.Limiter != nil {
		if err := s.Limiter.AllowGeneration(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	task := &domain.GenerationTask{
		AvatarID:     req.AvatarID,
		UserID:       req.UserID,
		Model:        s.Generator.Model(),
		Prompt:       prompt,
		AspectRatio:  ratio,
		Status:       domain.TaskPending,
		CreditsSpent: s.opts.Cost,
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Users.DebitCredits(ctx, req.UserID, s.opts.Cost)
		if err != nil {
			return dbError(err, "user")
		}
		if !ok {
			available := 0
			if u, err := s.Users.FindByID(ctx, req.UserID); err == nil {
				available = u.Credits
			}
			return apperrors.NewInsufficientCreditsError(s.opts.Cost, available)
		}
		if err := s.Tasks.Create(ctx, task); err != nil {
			return dbError(err, "task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, req.UserID)

	log := s.Log.With(slog.Int64("task_id", task.ID), slog.Int64("user_id", task.UserID))

	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL)
	}

	externalID, err := s.Generator.CreateTask(ctx, kie.TaskInput{
		Prompt:      prompt,
		ImageURLs:   urls,
		AspectRatio: ratio,
		CallbackURL: s.opts.CallbackURL,
	})
	if err != nil {
		log.ErrorContext(ctx, "kie task submission failed", slog.Any("error", err))
		s.failAndRefund(context.WithoutCancel(ctx), task, "submit: "+err.Error(), false)
		return nil, err
	}

	if _, err := s.Tasks.MarkProcessing(ctx, task.ID, externalID); err != nil {
		// the callback and the sweeper still finalize the task
		log.ErrorContext(ctx, "failed to store external task id", slog.String("external_id", externalID), slog.Any("error", err))
	}
	task.ExternalTaskID = externalID
	task.Status = domain.TaskProcessing

	if err := s.schedulePoll(ctx, task.ID); err != nil {
		log.WarnContext(ctx, "failed to schedule status poll", slog.Any("error", err))
	}

	metrics.RecordGeneration("started")
	log.InfoContext(ctx, "generation started", slog.String("external_id", externalID))
	return task, nil
}

// GetTask returns the task with its generated photos.
func (s *Service) GetTask(ctx context.Context, id int64) (*domain.GenerationTask, error) {
	task, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return nil, dbError(err, "task")
	}

	photos, err := s.Tasks.ListPhotosByTask(ctx, id)
	if err != nil {
		return nil, dbError(err, "task")
	}
	task.Photos = photos
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, status domain.TaskStatus, page repository.Page) ([]domain.GenerationTask, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidationError("unknown task status " + string(status))
	}
	tasks, err := s.Tasks.ListByStatus(ctx, status, page)
	if err != nil {
		return nil, dbError(err, "task")
	}
	return tasks, nil
}

func (s *Service) ListUserPhotos(ctx context.Context, userID int64, page repository.Page) ([]domain.GeneratedPhoto, error) {
	photos, err := s.Tasks.ListPhotosByUser(ctx, userID, page)
	if err != nil {
		return nil, dbError(err, "photo")
	}
	return photos, nil
}

// Poll checks a task with kie.ai and moves it forward. Terminal tasks are left alone,
// so repeated deliveries of the same poll message are harmless.
func (s *Service) Poll(ctx context.Context, taskID int64) error {
	task, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Log.WarnContext(ctx, "poll for unknown task", slog.Int64("task_id", taskID))
			return nil
		}
		return dbError(err, "task")
	}
	if task.Status.Terminal() {
		return nil
	}

	if task.ExternalTaskID == "" {
		return s.waitOrGiveUp(ctx, task)
	}

	info, err := s.Generator.GetTask(ctx, task.ExternalTaskID)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return err
		}
		s.failAndRefund(ctx, task, "status: "+err.Error(), true)
		return nil
	}

	return s.apply(ctx, task, info)
}

// HandleCallback finalizes a task from a kie.ai callback body.
func (s *Service) HandleCallback(ctx context.Context, body []byte) error {
	info, err := kie.ParseCallback(body)
	if err != nil {
		return err
	}

	task, err := s.Tasks.GetByExternalID(ctx, info.TaskID)
	if err != nil {
		return dbError(err, "task")
	}
	if task.Status.Terminal() || !info.State.Finished() {
		return nil
	}

	return s.apply(ctx, task, info)
}

// SweepStale fails and refunds tasks that stayed open longer than olderThan.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tasks, err := s.Tasks.ListStale(ctx, s.now().Add(-olderThan), sweepBatch)
	if err != nil {
		return 0, dbError(err, "task")
	}

	swept := 0
	for i := range tasks {
		if s.failAndRefund(ctx, &tasks[i], "timed out", true) {
			swept++
		}
	}

	if swept > 0 {
		s.Log.WarnContext(ctx, "stale generations swept", slog.Int("count", swept))
		msg := fmt.Sprintf("%d generation(s) timed out and were refunded", swept)
		if err := s.Notifier.Admin(ctx, domain.NotifyTaskStuck, msg, map[string]any{"count": swept, "older_than": olderThan.String()}); err != nil {
			s.Log.WarnContext(ctx, "failed to notify admins about stale tasks", slog.Any("error", err))
		}
	}
	return swept, nil
}

func (s *Service) apply(ctx context.Context, task *domain.GenerationTask, info *kie.TaskInfo) error {
	switch info.State {
	case kie.StateSuccess:
		return s.complete(ctx, task, info.ResultURLs)
	case kie.StateFail:
		reason := strings.TrimSpace(strings.Join([]string{info.FailCode, info.FailMsg}, " "))
		if reason == "" {
			reason = "generation failed"
		}
		s.failAndRefund(ctx, task, reason, true)
		return nil
	default:
		return s.waitOrGiveUp(ctx, task)
	}
}

// waitOrGiveUp schedules the next poll and only then counts the attempt, so a
// failed publish that QStash redelivers does not use up attempts.
func (s *Service) waitOrGiveUp(ctx context.Context, task *domain.GenerationTask) error {
	if next := task.PollAttempts + 1; next >= s.opts.MaxPollAttempts {
		s.failAndRefund(ctx, task, fmt.Sprintf("no result after %d checks", next), true)
		return nil
	}

	if err := s.schedulePoll(ctx, task.ID); err != nil {
		return err
	}

	// the next poll is already queued; failing here would start a second chain
	if _, err := s.Tasks.IncrementAttempts(ctx, task.ID); err != nil {
		s.Log.WarnContext(ctx, "failed to count poll attempt", slog.Int64("task_id", task.ID), slog.Any("error", err))
	}
	return nil
}

func (s *Service) complete(ctx context.Context, task *domain.GenerationTask, urls []string) error {
	urls, mirrored := s.mirror(ctx, urls)

	var (
		photos    []domain.GeneratedPhoto
		completed bool
	)
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Tasks.Complete(ctx, task.ID)
		if err != nil || !ok {
			return err
		}
		completed = true

		photos, err = s.Tasks.AddPhotos(ctx, task, urls)
		return err
	})
	if err != nil {
		s.discard(ctx, task.ID, mirrored)
		return dbError(err, "task")
	}
	if !completed {
		// another delivery finished the task first
		s.discard(ctx, task.ID, mirrored)
		return nil
	}

	task.Status = domain.TaskCompleted
	task.Photos = photos
	metrics.RecordGeneration(string(domain.TaskCompleted))
	s.Log.InfoContext(ctx, "generation completed", slog.Int64("task_id", task.ID), slog.Int("photos", len(photos)))

	s.Notifier.GenerationCompleted(ctx, task, photos)
	return nil
}

// failAndRefund reports whether this call moved the task to failed.
func (s *Service) failAndRefund(ctx context.Context, task *domain.GenerationTask, reason string, notify bool) bool {
	var failed bool
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Tasks.Fail(ctx, task.ID, reason)
		if err != nil || !ok {
			return err
		}
		failed = true

		if task.CreditsSpent > 0 {
			if _, err := s.Users.AddCredits(ctx, task.UserID, task.CreditsSpent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Log.ErrorContext(ctx, "failed to fail task", slog.Int64("task_id", task.ID), slog.Any("error", err))
		return false
	}
	if !failed {
		return false
	}

	s.invalidate(ctx, task.UserID)
	task.Status = domain.TaskFailed
	task.FailReason = reason
	metrics.RecordGeneration(string(domain.TaskFailed))
	s.Log.WarnContext(ctx, "generation failed", slog.Int64("task_id", task.ID), slog.String("reason", reason))

	if notify {
		s.Notifier.GenerationFailed(ctx, task)
	}
	return true
}

func (s *Service) schedulePoll(ctx context.Context, taskID int64) error {
	if s.Scheduler == nil || s.opts.PollURL == "" {
		return nil
	}

	_, err := s.Scheduler.Publish(ctx, s.opts.PollURL, PollMessage{Type: MessageTypePoll, TaskID: taskID}, s.opts.PollDelay)
	if err != nil {
		return apperrors.NewExternalAPIError("qstash", err)
	}
	return nil
}

// mirror copies results to S3 and returns the urls to store together with the
// objects it created.
func (s *Service) mirror(ctx context.Context, urls []string) ([]string, []string) {
	if !s.opts.MirrorResults || s.Uploader == nil {
		return urls, nil
	}

	out := make([]string, 0, len(urls))
	var created []string
	for _, src := range urls {
		location, err := s.Uploader.Mirror(ctx, src, storage.PrefixResults)
		if err != nil {
			s.Log.WarnContext(ctx, "failed to mirror result, keeping provider url", slog.String("url", src), slog.Any("error", err))
			out = append(out, src)
			continue
		}
		out = append(out, location)
		created = append(created, location)
	}
	return out, created
}

// discard deletes mirrored objects that will never be referenced.
func (s *Service) discard(ctx context.Context, taskID int64, objects []string) {
	for _, obj := range objects {
		if err := s.Uploader.Delete(context.WithoutCancel(ctx), obj); err != nil {
			s.Log.WarnContext(ctx, "failed to delete unused result copy",
				slog.Int64("task_id", taskID), slog.String("url", obj), slog.Any("error", err))
		}
	}
}
