package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Execer is the subset of *sql.DB needed to run scripts.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ScriptResult summarises a RunScript call.
type ScriptResult struct {
	Executed int
	Failed   int
}

// RunScript executes each statement of script on its own, logging every
// failure and continuing with the next statement. The returned error joins
// all statement failures.
func RunScript(ctx context.Context, db Execer, script string, log *slog.Logger) (ScriptResult, error) {
	if log == nil {
		log = slog.Default()
	}

	var (
		res  ScriptResult
		errs []error
	)

	for i, stmt := range SplitStatements(script) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if _, err := db.ExecContext(ctx, stmt); err != nil {
			res.Failed++
			log.Error("statement failed",
				slog.Int("index", i+1),
				slog.String("statement", preview(stmt)),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("statement %d: %w", i+1, err))
			continue
		}

		res.Executed++
		log.Debug("statement executed", slog.Int("index", i+1))
	}

	return res, errors.Join(errs...)
}

// SplitStatements splits a SQL script on semicolons that are not inside
// quotes, comments or dollar-quoted bodies. Empty statements are dropped.
func SplitStatements(script string) []string {
	var (
		out     []string
		current strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && !onlyComments(stmt) {
			out = append(out, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]

		switch {
		case c == '\'' && escapeString(script, i):
			end := escapedClosing(script, i+1)
			current.WriteString(script[i:end])
			i = end - 1
		case c == '\'' || c == '"':
			end := closing(script, i+1, string(c))
			current.WriteString(script[i:end])
			i = end - 1
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			current.WriteString(script[i : i+end])
			i += end - 1
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			end := closing(script, i+2, "*/")
			current.WriteString(script[i:end])
			i = end - 1
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := closing(script, i+len(tag), tag)
				current.WriteString(script[i:end])
				i = end - 1
				continue
			}
			current.WriteByte(c)
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()

	return out
}

// closing returns the index just past the terminator starting the search at from,
// or len(s) when the terminator is missing.
func closing(s string, from int, terminator string) int {
	if from > len(s) {
		return len(s)
	}
	idx := strings.Index(s[from:], terminator)
	if idx < 0 {
		return len(s)
	}
	return from + idx + len(terminator)
}

// escapeString reports whether the quote at i opens an E'...' string, where
// backslash escapes are allowed.
func escapeString(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

// escapedClosing is closing for E-strings: a backslash skips the next byte.
func escapedClosing(s string, from int) int {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '\'':
			return j + 1
		}
	}
	return len(s)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// dollarTag recognises $$ and $name$ openers.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (j > 1 && c >= '0' && c <= '9')) {
			return "", false
		}
	}
	return "", false
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func preview(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > 120 {
		return stmt[:120] + "..."
	}
	return stmt
}
