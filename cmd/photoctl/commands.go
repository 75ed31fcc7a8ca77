package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/Proton-105/photostudio/internal/database"
	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/jobs"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/migrations"
)

type command struct {
	summary string
	usage   string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"migrate": {
		summary: "apply pending schema migrations",
		usage:   "[--status]",
		run:     cmdMigrate,
	},
	"stats": {
		summary: "print dashboard counters",
		run:     cmdStats,
	},
	"user": {
		summary: "show a user by Telegram id",
		usage:   "<telegram_id>",
		run:     cmdUser,
	},
	"tasks": {
		summary: "list generation tasks",
		usage:   "[--status pending|processing|completed|failed] [--limit n]",
		run:     cmdTasks,
	},
	"add-credits": {
		summary: "adjust a user's credit balance",
		usage:   "<user_id> <delta>",
		run:     cmdAddCredits,
	},
	"forget-message": {
		summary: "drop a processed webhook marker so the message is handled again",
		usage:   "<message_id>",
		run:     cmdForgetMessage,
	},
	"purge-messages": {
		summary: "delete processed webhook markers older than the retention",
		usage:   "[--older-than d] [--async]",
		run:     cmdPurgeMessages,
	},
	"sweep-stale": {
		summary: "fail and refund generations stuck past the timeout",
		usage:   "[--older-than d] [--async]",
		run:     cmdSweepStale,
	},
	"truncate": {
		summary: "delete every row of an operational table",
		usage:   "<table> --yes",
		run:     cmdTruncate,
	},
	"exec": {
		summary: "run a SQL file statement by statement",
		usage:   "<file.sql>",
		run:     cmdExec,
	},
}

// truncatable lists the tables that hold no billing or account data.
var truncatable = map[string]bool{
	"kie_tasks":                 true,
	"webhook_logs":              true,
	"admin_notifications":       true,
	"qstash_processed_messages": true,
	"telegram_sessions":         true,
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func cmdMigrate(ctx context.Context, e *env, args []string) error {
	fs := flags("migrate")
	status := fs.Bool("status", false, "list applied and pending migrations without applying")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	migrator := database.NewMigrator(e.db, e.log)
	if !*status {
		applied, err := migrator.ApplyFS(ctx, migrations.FS, ".")
		if err != nil {
			return err
		}
		return e.print(map[string]int{"applied": applied})
	}

	files, err := database.ListMigrations(migrations.FS, ".")
	if err != nil {
		return err
	}
	done, err := migrator.Applied(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(done))
	for _, v := range done {
		seen[v] = true
	}
	var pending []string
	for _, f := range files {
		if !seen[database.Version(f)] {
			pending = append(pending, database.Version(f))
		}
	}

	return e.print(map[string][]string{"applied": done, "pending": pending})
}

func cmdStats(ctx context.Context, e *env, _ []string) error {
	stats, err := e.stats.Stats(ctx)
	if err != nil {
		return err
	}
	return e.print(stats)
}

func cmdUser(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	telegramID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errUsage
	}

	u, err := e.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	return e.print(u)
}

func cmdTasks(ctx context.Context, e *env, args []string) error {
	fs := flags("tasks")
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 20, "maximum number of tasks")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	st := domain.TaskStatus(*status)
	if st != "" && !st.Valid() {
		return fmt.Errorf("unknown task status %q", *status)
	}

	tasks, err := e.tasks.ListByStatus(ctx, st, repository.Page{Limit: *limit})
	if err != nil {
		return err
	}
	return e.print(tasks)
}

func cmdAddCredits(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errUsage
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil || delta == 0 {
		return errUsage
	}

	balance, err := e.users.AddCredits(ctx, userID, delta)
	if err != nil {
		return err
	}
	return e.print(map[string]any{"user_id": userID, "delta": delta, "balance": balance})
}

func cmdForgetMessage(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errUsage
	}
	if err := e.messages.Release(ctx, args[0]); err != nil {
		return err
	}
	return e.print(map[string]string{"forgotten": args[0]})
}

func cmdPurgeMessages(ctx context.Context, e *env, args []string) error {
	fs := flags("purge-messages")
	olderThan := fs.Duration("older-than", e.cfg.QStash.Retention, "age of the markers to delete")
	async := fs.Bool("async", false, "enqueue the job for the server worker instead of running it here")
	if err := fs.Parse(args); err != nil || *olderThan <= 0 {
		return errUsage
	}

	if *async {
		task, err := jobs.NewPurgeMessagesTask(*olderThan)
		if err != nil {
			return err
		}
		return e.enqueue(ctx, task)
	}

	removed, err := e.messages.Purge(ctx, *olderThan)
	if err != nil {
		return err
	}
	return e.print(map[string]any{"removed": removed, "older_than": olderThan.String()})
}

func cmdSweepStale(ctx context.Context, e *env, args []string) error {
	fs := flags("sweep-stale")
	olderThan := fs.Duration("older-than", e.cfg.Generation.StaleAfter, "age of the open tasks to fail")
	async := fs.Bool("async", false, "enqueue the job for the server worker instead of running it here")
	if err := fs.Parse(args); err != nil || *olderThan <= 0 {
		return errUsage
	}

	if *async {
		task, err := jobs.NewSweepStaleTask(*olderThan)
		if err != nil {
			return err
		}
		return e.enqueue(ctx, task)
	}

	svc, err := e.generation()
	if err != nil {
		return err
	}
	swept, err := svc.SweepStale(ctx, *olderThan)
	if err != nil {
		return err
	}
	return e.print(map[string]any{"swept": swept, "older_than": olderThan.String()})
}

func cmdTruncate(ctx context.Context, e *env, args []string) error {
	fs := flags("truncate")
	yes := fs.Bool("yes", false, "confirm the deletion")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}

	table := fs.Arg(0)
	if !truncatable[table] {
		return fmt.Errorf("table %q cannot be truncated", table)
	}
	if !*yes {
		return fmt.Errorf("refusing to truncate %s without --yes", table)
	}

	var (
		removed int64
		err     error
	)
	if table == "kie_tasks" {
		removed, err = e.tasks.TruncateAll(ctx)
	} else {
		removed, err = deleteAll(ctx, e, table)
	}
	if err != nil {
		return err
	}
	return e.print(map[string]any{"table": table, "removed": removed})
}

func deleteAll(ctx context.Context, e *env, table string) (int64, error) {
	// table comes from the truncatable whitelist
	res, err := e.db.ExecContext(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func cmdExec(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	script, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	start := time.Now()
	res, err := database.RunScript(ctx, e.db, string(script), e.log)
	if printErr := e.print(map[string]any{
		"executed": res.Executed,
		"failed":   res.Failed,
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}); printErr != nil {
		return printErr
	}
	return err
}
