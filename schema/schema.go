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

// Package schema discovers searchable structure in tenant databases: tables,
// text-typed columns, and FULLTEXT indexes, plus row estimates from
// information_schema. Discovery runs against a pooled connection supplied by
// the registry; the inspector itself holds no state.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"altus4/core/shared/logger"
)

// Column is one discovered table column.
type Column struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	IsFulltextIndexed bool   `json:"is_fulltext_indexed"`
	IsSearchable      bool   `json:"is_searchable"`
}

// FulltextIndex is one (possibly composite) FULLTEXT index.
type FulltextIndex struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableSchema is the discovery result for one table.
type TableSchema struct {
	Database        string          `json:"database"`
	Table           string          `json:"table"`
	Columns         []Column        `json:"columns"`
	FulltextIndexes []FulltextIndex `json:"fulltext_indexes"`
	EstimatedRows   int64           `json:"estimated_rows"`
	LastAnalyzed    time.Time       `json:"last_analyzed"`
}

// searchableTypes are the MySQL column type fragments that mark a column as
// text-searchable.
var searchableTypes = []string{"varchar", "text", "char", "longtext", "mediumtext", "tinytext"}

// IsSearchableType reports whether a MySQL column type holds searchable text.
func IsSearchableType(columnType string) bool {
	t := strings.ToLower(columnType)
	for _, want := range searchableTypes {
		if strings.Contains(t, want) {
			return true
		}
	}
	return false
}

// EscapeIdentifier quotes a SQL identifier with backticks, doubling any
// embedded backtick. Values never go through this path; they are always
// parameter-bound.
func EscapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Inspector discovers schema structure over tenant pools.
type Inspector struct {
	log *logger.Logger
}

// NewInspector creates an Inspector.
func NewInspector() *Inspector {
	return &Inspector{log: logger.New("schema")}
}

// Tables enumerates the table names in the connected schema.
func (i *Inspector) Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable returns the full discovery result for one table.
func (i *Inspector) DescribeTable(ctx context.Context, db *sql.DB, database, table string) (*TableSchema, error) {
	columns, err := i.Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}

	indexes, err := i.FulltextIndexes(ctx, db, table)
	if err != nil {
		return nil, err
	}

	indexed := make(map[string]bool)
	for _, idx := range indexes {
		for _, col := range idx.Columns {
			indexed[col] = true
		}
	}
	for n := range columns {
		columns[n].IsFulltextIndexed = indexed[columns[n].Name]
	}

	estimated, err := i.estimatedRows(ctx, db, database, table)
	if err != nil {
		// Row estimates are advisory; discovery still succeeds without them.
		i.log.Warn("", "", "row estimate unavailable", map[string]interface{}{
			"table": table,
			"error": err.Error(),
		})
		estimated = 0
	}

	return &TableSchema{
		Database:        database,
		Table:           table,
		Columns:         columns,
		FulltextIndexes: indexes,
		EstimatedRows:   estimated,
		LastAnalyzed:    time.Now().UTC(),
	}, nil
}

// DescribeDatabase discovers every table in the connected schema.
func (i *Inspector) DescribeDatabase(ctx context.Context, db *sql.DB, database string) ([]*TableSchema, error) {
	tables, err := i.Tables(ctx, db)
	if err != nil {
		return nil, err
	}

	schemas := make([]*TableSchema, 0, len(tables))
	for _, table := range tables {
		ts, err := i.DescribeTable(ctx, db, database, table)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, ts)
	}
	return schemas, nil
}

// Columns describes a table's columns via DESCRIBE.
func (i *Inspector) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE "+EscapeIdentifier(table))
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	raw, err := rowsToStringMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	columns := make([]Column, 0, len(raw))
	for _, row := range raw {
		name := row["Field"]
		typ := row["Type"]
		columns = append(columns, Column{
			Name:         name,
			Type:         typ,
			IsSearchable: IsSearchableType(typ),
		})
	}
	return columns, nil
}

// TextColumns returns the names of a table's searchable text columns, in
// declaration order. Used for the LIKE fallback when no FULLTEXT index
// exists.
func (i *Inspector) TextColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	columns, err := i.Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.IsSearchable {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// FulltextIndexes lists a table's FULLTEXT indexes. Rows are grouped by
// Key_name and ordered by Seq_in_index so composite indexes come back with
// their columns in index order.
func (i *Inspector) FulltextIndexes(ctx context.Context, db *sql.DB, table string) ([]FulltextIndex, error) {
	rows, err := db.QueryContext(ctx, "SHOW INDEX FROM "+EscapeIdentifier(table))
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	raw, err := rowsToStringMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", table, err)
	}

	type member struct {
		seq    int
		column string
	}
	grouped := make(map[string][]member)
	order := make([]string, 0)
	for _, row := range raw {
		if !strings.EqualFold(row["Index_type"], "FULLTEXT") {
			continue
		}
		name := row["Key_name"]
		if _, seen := grouped[name]; !seen {
			order = append(order, name)
		}
		seq := 0
		fmt.Sscanf(row["Seq_in_index"], "%d", &seq)
		grouped[name] = append(grouped[name], member{seq: seq, column: row["Column_name"]})
	}

	indexes := make([]FulltextIndex, 0, len(order))
	for _, name := range order {
		members := grouped[name]
		sort.Slice(members, func(a, b int) bool { return members[a].seq < members[b].seq })
		cols := make([]string, 0, len(members))
		for _, m := range members {
			cols = append(cols, m.column)
		}
		indexes = append(indexes, FulltextIndex{Name: name, Columns: cols})
	}
	return indexes, nil
}

func (i *Inspector) estimatedRows(ctx context.Context, db *sql.DB, database, table string) (int64, error) {
	var estimated sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT TABLE_ROWS FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, database, table).Scan(&estimated)
	if err != nil {
		return 0, err
	}
	return estimated.Int64, nil
}

// rowsToStringMaps reads a result set whose column layout varies across
// server versions (SHOW INDEX, DESCRIBE) into name-keyed string maps.
func rowsToStringMaps(rows *sql.Rows) ([]map[string]string, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0)
	for rows.Next() {
		values := make([]sql.RawBytes, len(names))
		dest := make([]interface{}, len(names))
		for n := range values {
			dest[n] = &values[n]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := make(map[string]string, len(names))
		for n, name := range names {
			row[name] = string(values[n])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
