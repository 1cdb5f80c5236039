package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// schema mirrors the §3 entities as relational tables, plus the durable
// queue/lock/suppression tables the workers coordinate through (§5, §6).
// Each table is created with IF NOT EXISTS; new columns are added through
// migrate below rather than by editing these statements, matching the
// teacher's additive-migration convention.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	external_key TEXT,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	issue_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'backlog',
	priority INTEGER NOT NULL DEFAULT 3,
	parent_id TEXT,
	estimated_hours REAL,
	actual_hours REAL,
	story_points INTEGER,
	token_budget INTEGER,
	code_host TEXT,
	code_repo TEXT,
	code_change_number INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project_id);
CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_external_key ON work_items(external_key) WHERE external_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS sprints (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	starts_at TIMESTAMP NOT NULL,
	ends_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'planning'
);

CREATE TABLE IF NOT EXISTS sprint_items (
	sprint_id TEXT NOT NULL,
	work_item_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (sprint_id, work_item_id)
);
CREATE INDEX IF NOT EXISTS idx_sprint_items_sprint ON sprint_items(sprint_id, position);

CREATE TABLE IF NOT EXISTS sprint_sessions (
	sprint_id TEXT PRIMARY KEY,
	task_queue TEXT NOT NULL,
	completed TEXT NOT NULL,
	current_id TEXT,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS review_jobs (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	repo TEXT NOT NULL,
	change_number INTEGER NOT NULL,
	head_commit TEXT NOT NULL,
	modifier TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	enqueued_at TIMESTAMP NOT NULL,
	claimed_at TIMESTAMP,
	claimed_by TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_review_jobs_status ON review_jobs(status);
CREATE INDEX IF NOT EXISTS idx_review_jobs_change ON review_jobs(host, repo, change_number, head_commit);

CREATE TABLE IF NOT EXISTS review_insights (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	repo TEXT NOT NULL,
	change_number INTEGER NOT NULL,
	head_commit TEXT NOT NULL,
	work_item_id TEXT,
	quality_score INTEGER NOT NULL,
	has_security_issues INTEGER NOT NULL DEFAULT 0,
	has_performance_issues INTEGER NOT NULL DEFAULT 0,
	has_bugs INTEGER NOT NULL DEFAULT 0,
	suggestions TEXT NOT NULL DEFAULT '[]',
	raw_response TEXT NOT NULL DEFAULT '',
	unparseable INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_insights_work_item ON review_insights(work_item_id);
CREATE INDEX IF NOT EXISTS idx_review_insights_change ON review_insights(host, repo, change_number, head_commit);

CREATE TABLE IF NOT EXISTS feedback_records (
	id TEXT PRIMARY KEY,
	work_item_id TEXT NOT NULL,
	estimated_hours REAL NOT NULL,
	actual_hours REAL NOT NULL,
	accuracy_score INTEGER NOT NULL,
	review_quality_score INTEGER,
	issue_type TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 3,
	complexity INTEGER NOT NULL DEFAULT 0,
	had_security_issues INTEGER NOT NULL DEFAULT 0,
	had_performance_issues INTEGER NOT NULL DEFAULT 0,
	review_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_work_item ON feedback_records(work_item_id);
CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback_records(created_at);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL UNIQUE,
	template TEXT NOT NULL,
	variables TEXT NOT NULL DEFAULT '{}',
	usage_count INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS webhook_suppressions (
	host TEXT NOT NULL,
	repo TEXT NOT NULL,
	change_number INTEGER NOT NULL,
	head_commit TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	PRIMARY KEY (host, repo, change_number, head_commit)
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	delivery_id TEXT PRIMARY KEY,
	processed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS review_locks (
	lock_key TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// Store wraps a *sql.DB with every entity-specific accessor used by the core.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) a SQLite database at path and applies
// the schema and any pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matching the teacher's single-writer convention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating: %w", err)
	}
	if err := s.seedDefaultPromptTemplates(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: seeding prompt templates: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// columnExists checks sqlite's pragma_table_info before an ALTER TABLE, the
// same existence-check idiom the teacher uses to keep migrations idempotent.
func (s *Store) columnExists(table, column string) (bool, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// migrate applies additive schema changes introduced after the initial
// release. New migrations should be appended here, never by editing schema.
func (s *Store) migrate() error {
	type migration struct {
		table, column, ddl string
	}
	migrations := []migration{
		{table: "work_items", column: "issue_type", ddl: `ALTER TABLE work_items ADD COLUMN issue_type TEXT NOT NULL DEFAULT ''`},
	}
	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migrating %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Info("store: applied migration", "table", m.table, "column", m.column)
	}
	return nil
}
