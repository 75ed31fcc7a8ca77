package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/migrations"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListMigrationsSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("docs")},
	}

	names, err := ListMigrations(fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := ListMigrations(migrations.FS, ".")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_users", Version(names[0]))
}

func TestApplyFSSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("CREATE TABLE a (id INT)")},
		"0002_b.up.sql": {Data: []byte("CREATE TABLE b (id INT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_a"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := NewMigrator(db, testLogger()).ApplyFS(context.Background(), fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyFSRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("CREATE TABLE a (id INT)")},
		"0002_b.up.sql": {Data: []byte("CREATE TABLE b (id INT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	count, err := NewMigrator(db, testLogger()).ApplyFS(context.Background(), fsys, ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_a.up.sql")
	assert.Equal(t, 0, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	script := `
-- wipe tasks
DELETE FROM kie_tasks WHERE status = 'failed; really';
CREATE FUNCTION touch() RETURNS trigger AS $$
BEGIN
  NEW.updated_at = NOW();
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
/* trailing ; comment */
SELECT 1;
;
`
	stmts := SplitStatements(script)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "'failed; really'")
	assert.Contains(t, stmts[1], "RETURN NEW;")
	assert.True(t, strings.HasSuffix(stmts[2], "SELECT 1"))
}

func TestSplitStatementsEscapeStrings(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "backslash escaped quote",
			script: "INSERT INTO t VALUES (E'it\\'s; fine');\nDELETE FROM t;\nSELECT 1;",
			want:   []string{"INSERT INTO t VALUES (E'it\\'s; fine')", "DELETE FROM t", "SELECT 1"},
		},
		{
			name:   "escaped backslash before closing quote",
			script: "SELECT e'dir\\\\';SELECT 2;",
			want:   []string{"SELECT e'dir\\\\'", "SELECT 2"},
		},
		{
			name:   "standard string keeps backslash literal",
			script: "SELECT name FROM t WHERE type='a\\';SELECT 3;",
			want:   []string{"SELECT name FROM t WHERE type='a\\'", "SELECT 3"},
		},
		{
			name:   "doubled quotes",
			script: "SELECT 'it''s;';SELECT 4;",
			want:   []string{"SELECT 'it''s;'", "SELECT 4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestRunScriptContinuesAfterFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM missing").WillReturnError(errors.New(`relation "missing" does not exist`))
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := RunScript(context.Background(), db, "UPDATE users SET credits = 0; DELETE FROM missing; SELECT 1;", testLogger())
	require.Error(t, err)
	assert.Equal(t, 2, res.Executed)
	assert.Equal(t, 1, res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
