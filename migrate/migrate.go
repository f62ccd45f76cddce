// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package migrate applies paired SQL migrations to the metadata database.
//
// Migration files live in a single directory as <id>_<name>.up.sql and
// <id>_<name>.down.sql pairs and are applied in natural-numeric order. Each
// run records (name, batch, migrated_at); a batch is the set of files
// applied in one invocation unless step mode gives each file its own batch.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// migrationFilePattern matches <id>_<name>.up.sql / .down.sql.
var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// ErrForceRequired is returned when a destructive operation runs against a
// production environment without the force flag.
var ErrForceRequired = fmt.Errorf("destructive operation requires --force in production")

// File is one migration pair discovered on disk.
type File struct {
	ID       int
	Name     string // "<id>_<name>", the recorded identity
	UpPath   string
	DownPath string
}

// Applied is one row from the migrations bookkeeping table.
type Applied struct {
	Name       string
	Batch      int
	MigratedAt time.Time
}

// StatusEntry pairs a file on disk with its recorded state. Batch is zero
// (and Applied false) for pending files; State is "unknown" when the
// database was unreachable.
type StatusEntry struct {
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Batch   int    `json:"batch,omitempty"`
	State   string `json:"state"`
}

// Options configures a migration run.
type Options struct {
	// Step gives each applied file its own batch.
	Step bool

	// Steps limits a rollback to the last N applied files (0 = last batch).
	Steps int

	// Batch pins the migration batch number explicitly (0 = next).
	Batch int

	// Pretend prints the SQL that would run without executing it.
	Pretend bool

	// Force allows destructive operations in production.
	Force bool

	// DropViews makes fresh drop views as well as tables.
	DropViews bool
}

// Runner executes migrations against a database handle.
type Runner struct {
	db         *sql.DB
	path       string
	production bool
	logger     *log.Logger
}

// NewRunner creates a Runner for the migration directory at path.
func NewRunner(db *sql.DB, path string, production bool) *Runner {
	return &Runner{
		db:         db,
		path:       path,
		production: production,
		logger:     log.New(os.Stdout, "[MIGRATE] ", log.LstdFlags),
	}
}

// Install creates the migrations bookkeeping table. Idempotent.
func (r *Runner) Install(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			batch INT NOT NULL,
			migrated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Discover lists migration pairs on disk in ascending id order. A missing
// down file is tolerated (rollback of that file becomes a no-op with a
// warning); a missing up file is an error.
func (r *Runner) Discover() ([]File, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", r.path, err)
	}

	pairs := make(map[string]*File)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		name := m[1] + "_" + m[2]

		f, ok := pairs[name]
		if !ok {
			f = &File{ID: id, Name: name}
			pairs[name] = f
		}
		full := filepath.Join(r.path, entry.Name())
		if m[3] == "up" {
			f.UpPath = full
		} else {
			f.DownPath = full
		}
	}

	files := make([]File, 0, len(pairs))
	for _, f := range pairs {
		if f.UpPath == "" {
			return nil, fmt.Errorf("migration %s has no .up.sql file", f.Name)
		}
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ID != files[j].ID {
			return files[i].ID < files[j].ID
		}
		return files[i].Name < files[j].Name
	})

	return files, nil
}

// Migrate applies all pending migrations. Returns the applied file names.
func (r *Runner) Migrate(ctx context.Context, opts Options) ([]string, error) {
	if err := r.Install(ctx); err != nil {
		return nil, err
	}

	files, err := r.Discover()
	if err != nil {
		return nil, err
	}
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	batch := opts.Batch
	if batch == 0 {
		batch, err = r.nextBatch(ctx)
		if err != nil {
			return nil, err
		}
	}

	ran := make([]string, 0)
	for _, f := range files {
		if _, done := applied[f.Name]; done {
			continue
		}
		if err := r.applyUp(ctx, f, batch, opts.Pretend); err != nil {
			return ran, err
		}
		ran = append(ran, f.Name)
		if opts.Step {
			batch++
		}
	}

	if len(ran) == 0 {
		r.logger.Println("Nothing to migrate")
	}
	return ran, nil
}

// UpFile applies a single migration by id regardless of batch bookkeeping
// order (migrate:up --file N).
func (r *Runner) UpFile(ctx context.Context, id int, opts Options) error {
	if err := r.Install(ctx); err != nil {
		return err
	}
	f, err := r.fileByID(id)
	if err != nil {
		return err
	}
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return err
	}
	if _, done := applied[f.Name]; done {
		r.logger.Printf("Migration %s already applied", f.Name)
		return nil
	}
	batch, err := r.nextBatch(ctx)
	if err != nil {
		return err
	}
	return r.applyUp(ctx, *f, batch, opts.Pretend)
}

// DownFile rolls back a single migration by id (migrate:down --file N).
// Without an id the last applied migration is rolled back.
func (r *Runner) DownFile(ctx context.Context, id int, opts Options) error {
	if err := r.Install(ctx); err != nil {
		return err
	}

	var target *Applied
	rows, err := r.appliedOrdered(ctx)
	if err != nil {
		return err
	}
	if id > 0 {
		for i := range rows {
			if migrationID(rows[i].Name) == id {
				target = &rows[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("migration %d is not applied", id)
		}
	} else {
		if len(rows) == 0 {
			r.logger.Println("Nothing to rollback")
			return nil
		}
		target = &rows[0]
	}

	return r.applyDown(ctx, target.Name, opts.Pretend)
}

// Rollback undoes the most recent batch, or the last N applied files when
// opts.Steps > 0. Files roll back in reverse id order.
func (r *Runner) Rollback(ctx context.Context, opts Options) ([]string, error) {
	if err := r.Install(ctx); err != nil {
		return nil, err
	}

	rows, err := r.appliedOrdered(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		r.logger.Println("Nothing to rollback")
		return nil, nil
	}

	var targets []Applied
	if opts.Steps > 0 {
		if opts.Steps < len(rows) {
			targets = rows[:opts.Steps]
		} else {
			targets = rows
		}
	} else {
		batch := rows[0].Batch
		if opts.Batch > 0 {
			batch = opts.Batch
		}
		for _, row := range rows {
			if row.Batch == batch {
				targets = append(targets, row)
			}
		}
	}

	undone := make([]string, 0, len(targets))
	for _, row := range targets {
		if err := r.applyDown(ctx, row.Name, opts.Pretend); err != nil {
			return undone, err
		}
		undone = append(undone, row.Name)
	}
	return undone, nil
}

// Reset rolls back every applied migration. Destructive: requires force in
// production.
func (r *Runner) Reset(ctx context.Context, opts Options) ([]string, error) {
	if r.production && !opts.Force {
		return nil, ErrForceRequired
	}

	rows, err := r.appliedOrdered(ctx)
	if err != nil {
		return nil, err
	}

	undone := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := r.applyDown(ctx, row.Name, opts.Pretend); err != nil {
			return undone, err
		}
		undone = append(undone, row.Name)
	}
	return undone, nil
}

// Refresh resets then re-applies everything.
func (r *Runner) Refresh(ctx context.Context, opts Options) error {
	if _, err := r.Reset(ctx, opts); err != nil {
		return err
	}
	_, err := r.Migrate(ctx, Options{Pretend: opts.Pretend})
	return err
}

// Fresh drops every non-migration table (optionally views), truncates the
// migrations record, and re-applies all migrations. Destructive: requires
// force in production.
func (r *Runner) Fresh(ctx context.Context, opts Options) error {
	if r.production && !opts.Force {
		return ErrForceRequired
	}

	if opts.DropViews {
		views, err := r.listObjects(ctx, "VIEW")
		if err != nil {
			return err
		}
		for _, v := range views {
			if err := r.execMaybe(ctx, fmt.Sprintf("DROP VIEW IF EXISTS `%s`", v), opts.Pretend); err != nil {
				return fmt.Errorf("failed to drop view %s: %w", v, err)
			}
		}
	}

	tables, err := r.listObjects(ctx, "BASE TABLE")
	if err != nil {
		return err
	}

	if err := r.execMaybe(ctx, "SET FOREIGN_KEY_CHECKS = 0", opts.Pretend); err != nil {
		return err
	}
	for _, t := range tables {
		if t == "migrations" {
			continue
		}
		if err := r.execMaybe(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", t), opts.Pretend); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t, err)
		}
	}
	if err := r.execMaybe(ctx, "SET FOREIGN_KEY_CHECKS = 1", opts.Pretend); err != nil {
		return err
	}

	if err := r.Install(ctx); err != nil {
		return err
	}
	if err := r.execMaybe(ctx, "TRUNCATE TABLE migrations", opts.Pretend); err != nil {
		return fmt.Errorf("failed to truncate migrations record: %w", err)
	}

	_, err = r.Migrate(ctx, Options{Pretend: opts.Pretend})
	return err
}

// Status lists every file on disk with its applied state. When the database
// is unreachable the files are still listed, each in state "unknown".
func (r *Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	files, err := r.Discover()
	if err != nil {
		return nil, err
	}

	applied, dbErr := r.appliedSet(ctx)

	entries := make([]StatusEntry, 0, len(files))
	for _, f := range files {
		entry := StatusEntry{Name: f.Name}
		if dbErr != nil {
			entry.State = "unknown"
		} else if row, ok := applied[f.Name]; ok {
			entry.Applied = true
			entry.Batch = row.Batch
			entry.State = "applied"
		} else {
			entry.State = "pending"
		}
		entries = append(entries, entry)
	}

	if dbErr != nil {
		r.logger.Printf("Warning: database unreachable, file states unknown: %v", dbErr)
	}
	return entries, nil
}

// ----------------------------------------------------------------
// internals
// ----------------------------------------------------------------

func (r *Runner) applyUp(ctx context.Context, f File, batch int, pretend bool) error {
	sqlText, err := os.ReadFile(f.UpPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.UpPath, err)
	}

	start := time.Now()
	for _, stmt := range SplitStatements(string(sqlText)) {
		if err := r.execMaybe(ctx, stmt, pretend); err != nil {
			return fmt.Errorf("migration %s failed: %w", f.Name, err)
		}
	}

	if pretend {
		return nil
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO migrations (name, batch, migrated_at) VALUES (?, ?, ?)",
		f.Name, batch, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", f.Name, err)
	}

	r.logger.Printf("Migrated %s (batch %d) in %v", f.Name, batch, time.Since(start))
	return nil
}

func (r *Runner) applyDown(ctx context.Context, name string, pretend bool) error {
	downPath := filepath.Join(r.path, name+".down.sql")
	sqlText, err := os.ReadFile(downPath)
	if err != nil {
		r.logger.Printf("Warning: no down file for %s, removing record only", name)
	} else {
		for _, stmt := range SplitStatements(string(sqlText)) {
			if err := r.execMaybe(ctx, stmt, pretend); err != nil {
				return fmt.Errorf("rollback of %s failed: %w", name, err)
			}
		}
	}

	if pretend {
		return nil
	}

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM migrations WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", name, err)
	}

	r.logger.Printf("Rolled back %s", name)
	return nil
}

func (r *Runner) execMaybe(ctx context.Context, stmt string, pretend bool) error {
	if pretend {
		r.logger.Printf("[pretend] %s", strings.TrimSpace(stmt))
		return nil
	}
	_, err := r.db.ExecContext(ctx, stmt)
	return err
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]Applied, error) {
	if r.db == nil {
		return nil, fmt.Errorf("no database connection")
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, batch, migrated_at FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]Applied)
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Batch, &a.MigratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[a.Name] = a
	}
	return applied, rows.Err()
}

// appliedOrdered returns applied migrations newest-first: descending batch,
// then descending id within a batch.
func (r *Runner) appliedOrdered(ctx context.Context) ([]Applied, error) {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Applied, 0, len(applied))
	for _, a := range applied {
		rows = append(rows, a)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Batch != rows[j].Batch {
			return rows[i].Batch > rows[j].Batch
		}
		return migrationID(rows[i].Name) > migrationID(rows[j].Name)
	})
	return rows, nil
}

func (r *Runner) nextBatch(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, "SELECT MAX(batch) FROM migrations").Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read current batch: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func (r *Runner) fileByID(id int) (*File, error) {
	files, err := r.Discover()
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].ID == id {
			return &files[i], nil
		}
	}
	return nil, fmt.Errorf("no migration file with id %d", id)
}

func (r *Runner) listObjects(ctx context.Context, tableType string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = ?`, tableType)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan object name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// migrationID extracts the numeric prefix from "<id>_<name>".
func migrationID(name string) int {
	idx := strings.Index(name, "_")
	if idx <= 0 {
		return 0
	}
	id, _ := strconv.Atoi(name[:idx])
	return id
}

// SplitStatements breaks a migration file into individual statements. The
// connection disables multiStatements, so each statement executes on its
// own. Semicolons inside string literals are not supported in migration
// files.
func SplitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(stripLineComments(part))
		if trimmed == "" {
			continue
		}
		stmts = append(stmts, trimmed)
	}
	return stmts
}

func stripLineComments(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
