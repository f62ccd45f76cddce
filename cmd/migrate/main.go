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

// The altus4 migration CLI. Commands mirror the migrate:* verbs; all state
// lives in the migrations bookkeeping table.
//
//	migrate              apply pending migrations
//	migrate:install      create the bookkeeping table
//	migrate:status       show applied and pending files
//	migrate:rollback     roll back the last batch (--step n, --batch n)
//	migrate:reset        roll back everything
//	migrate:refresh      reset, then re-apply
//	migrate:fresh        drop all tables, then re-apply
//	migrate:up           apply one file (--file N)
//	migrate:down         roll back one file (--file N, default: last)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"altus4/core/config"
	"altus4/core/migrate"
	"altus4/core/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command := "migrate"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	path := fs.String("path", "migrations", "migration directory")
	database := fs.String("database", "", "override the target database name")
	stepN := fs.Int("step", 0, "rollback: limit to the last n files; migrate: per-file batches when set")
	pretend := fs.Bool("pretend", false, "print SQL without executing")
	seed := fs.Bool("seed", false, "apply seed files after migrating")
	force := fs.Bool("force", false, "allow destructive operations in production")
	batch := fs.Int("batch", 0, "pin the batch number")
	dropViews := fs.Bool("drop-views", false, "fresh: drop views as well as tables")
	file := fs.Int("file", 0, "migration id for migrate:up / migrate:down")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration failed:", err)
		return 1
	}
	if *database != "" {
		cfg.Database.Database = *database
	}

	ctx := context.Background()
	production := cfg.Environment == config.EnvProduction

	db, err := store.Open(ctx, &cfg.Database)
	if err != nil && command != "migrate:status" {
		fmt.Fprintln(os.Stderr, "database unavailable:", err)
		return 1
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	runner := migrate.NewRunner(db, *path, production)
	opts := migrate.Options{
		Step:      command == "migrate" && *stepN > 0,
		Steps:     *stepN,
		Batch:     *batch,
		Pretend:   *pretend,
		Force:     *force,
		DropViews: *dropViews,
	}

	switch command {
	case "migrate":
		applied, err := runner.Migrate(ctx, opts)
		if err != nil {
			return fail(err)
		}
		report("migrated", applied)
		if *seed {
			if err := applySeeds(ctx, db, *path, *pretend); err != nil {
				return fail(err)
			}
		}

	case "migrate:install":
		if err := runner.Install(ctx); err != nil {
			return fail(err)
		}
		fmt.Println("migrations table ready")

	case "migrate:status":
		entries, err := runner.Status(ctx)
		if err != nil {
			return fail(err)
		}
		for _, e := range entries {
			marker := "pending"
			if e.Applied {
				marker = fmt.Sprintf("batch %d", e.Batch)
			}
			if e.State == "unknown" {
				marker = "unknown"
			}
			fmt.Printf("%-50s %s\n", e.Name, marker)
		}

	case "migrate:rollback":
		rolled, err := runner.Rollback(ctx, opts)
		if err != nil {
			return fail(err)
		}
		report("rolled back", rolled)

	case "migrate:reset":
		rolled, err := runner.Reset(ctx, opts)
		if err != nil {
			return fail(err)
		}
		report("rolled back", rolled)

	case "migrate:refresh":
		if err := runner.Refresh(ctx, opts); err != nil {
			return fail(err)
		}
		fmt.Println("refreshed")

	case "migrate:fresh":
		if err := runner.Fresh(ctx, opts); err != nil {
			return fail(err)
		}
		fmt.Println("fresh schema applied")

	case "migrate:up":
		if *file == 0 {
			fmt.Fprintln(os.Stderr, "migrate:up requires --file N")
			return 1
		}
		if err := runner.UpFile(ctx, *file, opts); err != nil {
			return fail(err)
		}
		fmt.Printf("applied %d\n", *file)

	case "migrate:down":
		if *file != 0 {
			if err := runner.DownFile(ctx, *file, opts); err != nil {
				return fail(err)
			}
			fmt.Printf("rolled back %d\n", *file)
			break
		}
		opts.Steps = 1
		rolled, err := runner.Rollback(ctx, opts)
		if err != nil {
			return fail(err)
		}
		report("rolled back", rolled)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		return 1
	}

	return 0
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}

func report(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing to do")
		return
	}
	for _, name := range names {
		fmt.Printf("%s %s\n", verb, name)
	}
}

// applySeeds executes every .sql file in the seeds directory next to the
// migration path, in name order.
func applySeeds(ctx context.Context, db *sql.DB, migrationPath string, pretend bool) error {
	dir := filepath.Join(filepath.Dir(migrationPath), "seeds")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Println("no seeds directory, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		for _, stmt := range migrate.SplitStatements(string(raw)) {
			if pretend {
				fmt.Println(stmt)
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("seed %s failed: %w", name, err)
			}
		}
		fmt.Printf("seeded %s\n", name)
	}
	return nil
}
