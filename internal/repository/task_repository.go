package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Proton-105/photostudio/internal/domain"
)

// TaskRepository persists generation jobs in kie_tasks and their output photos.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.GenerationTask) error
	Get(ctx context.Context, id int64) (*domain.GenerationTask, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationTask, error)
	// MarkProcessing stores the provider task id on a pending task.
	MarkProcessing(ctx context.Context, id int64, externalID string) (bool, error)
	// Complete and Fail only touch tasks that are not terminal yet and report whether they did.
	Complete(ctx context.Context, id int64) (bool, error)
	Fail(ctx context.Context, id int64, reason string) (bool, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	ListByAvatar(ctx context.Context, avatarID int64, page Page) ([]domain.GenerationTask, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, page Page) ([]domain.GenerationTask, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.GenerationTask, error)
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)
	TruncateAll(ctx context.Context) (int64, error)

	AddPhotos(ctx context.Context, task *domain.GenerationTask, urls []string) ([]domain.GeneratedPhoto, error)
	ListPhotosByTask(ctx context.Context, taskID int64) ([]domain.GeneratedPhoto, error)
	ListPhotosByUser(ctx context.Context, userID int64, page Page) ([]domain.GeneratedPhoto, error)
	CountPhotos(ctx context.Context) (int, error)
}

type taskRepository struct {
	base
}

func NewTaskRepository(db *sql.DB, log *slog.Logger) TaskRepository {
	return &taskRepository{base: newBase(db, log)}
}

const taskColumns = `id, avatar_id, user_id, COALESCE(external_task_id, ''), model, prompt, aspect_ratio, status, fail_reason, poll_attempts, credits_spent, created_at, updated_at, completed_at`

var openStatuses = pq.Array([]string{string(domain.TaskPending), string(domain.TaskProcessing)})

func scanTask(row interface{ Scan(...any) error }) (*domain.GenerationTask, error) {
	var (
		t           domain.GenerationTask
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.AvatarID, &t.UserID, &t.ExternalTaskID, &t.Model, &t.Prompt, &t.AspectRatio,
		&t.Status, &t.FailReason, &t.PollAttempts, &t.CreditsSpent, &t.CreatedAt, &t.UpdatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (r *taskRepository) listTasks(ctx context.Context, query string, args ...any) ([]domain.GenerationTask, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *taskRepository) Create(ctx context.Context, t *domain.GenerationTask) error {
	if t.Status == "" {
		t.Status = domain.TaskPending
	}

	const query = `
		INSERT INTO kie_tasks (avatar_id, user_id, model, prompt, aspect_ratio, status, credits_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	if err := r.q(ctx).QueryRowContext(ctx, query,
		t.AvatarID, t.UserID, t.Model, t.Prompt, t.AspectRatio, t.Status, t.CreditsSpent,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id int64) (*domain.GenerationTask, error) {
	t, err := scanTask(r.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM kie_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("select task %d: %w", id, notFound(err))
	}
	return t, nil
}

func (r *taskRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationTask, error) {
	t, err := scanTask(r.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM kie_tasks WHERE external_task_id = $1`, externalID))
	if err != nil {
		return nil, fmt.Errorf("select task by external id %q: %w", externalID, notFound(err))
	}
	return t, nil
}

func (r *taskRepository) MarkProcessing(ctx context.Context, id int64, externalID string) (bool, error) {
	const query = `
		UPDATE kie_tasks SET external_task_id = $2, status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("mark task %d processing: %w", id, ErrDuplicate)
		}
		return false, fmt.Errorf("mark task %d processing: %w", id, err)
	}
	return affected(res)
}

func (r *taskRepository) Complete(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE kie_tasks SET status = 'completed', updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, openStatuses)
	if err != nil {
		return false, fmt.Errorf("complete task %d: %w", id, err)
	}
	return affected(res)
}

func (r *taskRepository) Fail(ctx context.Context, id int64, reason string) (bool, error) {
	const query = `
		UPDATE kie_tasks SET status = 'failed', fail_reason = $2, updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, reason, openStatuses)
	if err != nil {
		return false, fmt.Errorf("fail task %d: %w", id, err)
	}
	return affected(res)
}

func (r *taskRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE kie_tasks SET poll_attempts = poll_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING poll_attempts
	`
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment attempts of task %d: %w", id, notFound(err))
	}
	return n, nil
}

func (r *taskRepository) ListByAvatar(ctx context.Context, avatarID int64, page Page) ([]domain.GenerationTask, error) {
	page = page.Normalize()
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM kie_tasks WHERE avatar_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		avatarID, page.Limit, page.Offset)
}

func (r *taskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, page Page) ([]domain.GenerationTask, error) {
	page = page.Normalize()
	if status == "" {
		return r.listTasks(ctx,
			`SELECT `+taskColumns+` FROM kie_tasks ORDER BY id DESC LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	}
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM kie_tasks WHERE status = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		status, page.Limit, page.Offset)
}

func (r *taskRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.GenerationTask, error) {
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM kie_tasks WHERE status = ANY($1) AND updated_at < $2 ORDER BY id LIMIT $3`,
		openStatuses, before, limit)
}

func (r *taskRepository) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM kie_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var (
			status domain.TaskStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *taskRepository) TruncateAll(ctx context.Context) (int64, error) {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM kie_tasks`)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return res.RowsAffected()
}

// AddPhotos stores result urls for a task, skipping urls already recorded.
func (r *taskRepository) AddPhotos(ctx context.Context, t *domain.GenerationTask, urls []string) ([]domain.GeneratedPhoto, error) {
	const query = `
		INSERT INTO generated_photos (task_id, avatar_id, user_id, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, url) DO NOTHING
		RETURNING id, created_at
	`

	out := make([]domain.GeneratedPhoto, 0, len(urls))
	for _, url := range urls {
		p := domain.GeneratedPhoto{TaskID: t.ID, AvatarID: t.AvatarID, UserID: t.UserID, URL: url}
		err := r.q(ctx).QueryRowContext(ctx, query, t.ID, t.AvatarID, t.UserID, url).Scan(&p.ID, &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert generated photo: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *taskRepository) listPhotos(ctx context.Context, query string, args ...any) ([]domain.GeneratedPhoto, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generated photos: %w", err)
	}
	defer rows.Close()

	var out []domain.GeneratedPhoto
	for rows.Next() {
		var p domain.GeneratedPhoto
		if err := rows.Scan(&p.ID, &p.TaskID, &p.AvatarID, &p.UserID, &p.URL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *taskRepository) ListPhotosByTask(ctx context.Context, taskID int64) ([]domain.GeneratedPhoto, error) {
	return r.listPhotos(ctx,
		`SELECT id, task_id, avatar_id, user_id, url, created_at FROM generated_photos WHERE task_id = $1 ORDER BY id`, taskID)
}

func (r *taskRepository) ListPhotosByUser(ctx context.Context, userID int64, page Page) ([]domain.GeneratedPhoto, error) {
	page = page.Normalize()
	return r.listPhotos(ctx,
		`SELECT id, task_id, avatar_id, user_id, url, created_at FROM generated_photos WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset)
}

func (r *taskRepository) CountPhotos(ctx context.Context) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_photos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count generated photos: %w", err)
	}
	return n, nil
}
