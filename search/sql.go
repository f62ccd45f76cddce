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

package search

import (
	"fmt"
	"strings"

	"altus4/core/schema"
)

// TableQuery is one executable per-table statement. Identifiers are
// backtick-escaped at build time; the search term only ever travels as a
// bound parameter.
type TableQuery struct {
	SQL      string
	Args     []interface{}
	Fulltext bool
}

// BuildTableQuery constructs the statement for one table.
//
// With FULLTEXT indexes present, each usable index contributes one
// MATCH...AGAINST select; selects are combined with UNION ALL and ordered by
// relevance. An index is usable when the requested column filter (if any)
// intersects its columns. With no usable index the builder degrades to a
// LIKE fallback over the requested columns, or over all text columns when
// none were requested, with a constant relevance of zero.
//
// Returns nil when the table has nothing searchable.
func BuildTableQuery(table string, indexes []schema.FulltextIndex, requestedColumns, textColumns []string, query string, mode Mode, limit, offset int) *TableQuery {
	usable := usableIndexes(indexes, requestedColumns)
	if len(usable) == 0 {
		return buildLikeFallback(table, requestedColumns, textColumns, query, limit, offset)
	}

	selectCols := indexColumnUnion(usable)
	matchMode := "IN NATURAL LANGUAGE MODE"
	if mode == ModeBoolean {
		matchMode = "IN BOOLEAN MODE"
	}

	parts := make([]string, 0, len(usable))
	args := make([]interface{}, 0, len(usable)*2)
	for _, idx := range usable {
		matchList := escapeJoin(idx.Columns)
		parts = append(parts, fmt.Sprintf(
			"SELECT %s as table_name, %s, MATCH(%s) AGAINST(? %s) as relevance_score FROM %s WHERE MATCH(%s) AGAINST(? %s)",
			tableLiteral(table), escapeJoin(selectCols),
			matchList, matchMode,
			schema.EscapeIdentifier(table),
			matchList, matchMode,
		))
		args = append(args, query, query)
	}

	sql := strings.Join(parts, " UNION ALL ")
	sql += fmt.Sprintf(" ORDER BY relevance_score DESC LIMIT %d OFFSET %d", limit, offset)

	return &TableQuery{SQL: sql, Args: args, Fulltext: true}
}

func buildLikeFallback(table string, requestedColumns, textColumns []string, query string, limit, offset int) *TableQuery {
	candidates := requestedColumns
	if len(candidates) == 0 {
		candidates = textColumns
	}
	if len(candidates) == 0 {
		return nil
	}

	clauses := make([]string, 0, len(candidates))
	args := make([]interface{}, 0, len(candidates))
	for _, col := range candidates {
		clauses = append(clauses, schema.EscapeIdentifier(col)+" LIKE ?")
		args = append(args, "%"+query+"%")
	}

	sql := fmt.Sprintf("SELECT %s as table_name, %s, 0 as relevance_score FROM %s WHERE %s LIMIT %d OFFSET %d",
		tableLiteral(table), escapeJoin(candidates),
		schema.EscapeIdentifier(table),
		strings.Join(clauses, " OR "),
		limit, offset,
	)

	return &TableQuery{SQL: sql, Args: args}
}

// usableIndexes filters indexes against the requested column set. With no
// filter every index is usable with all of its columns; with a filter, an
// index survives only if the intersection is non-empty, and matches on the
// intersection.
func usableIndexes(indexes []schema.FulltextIndex, requested []string) []schema.FulltextIndex {
	if len(requested) == 0 {
		return indexes
	}

	want := make(map[string]bool, len(requested))
	for _, c := range requested {
		want[c] = true
	}

	usable := make([]schema.FulltextIndex, 0, len(indexes))
	for _, idx := range indexes {
		cols := make([]string, 0, len(idx.Columns))
		for _, c := range idx.Columns {
			if want[c] {
				cols = append(cols, c)
			}
		}
		if len(cols) > 0 {
			usable = append(usable, schema.FulltextIndex{Name: idx.Name, Columns: cols})
		}
	}
	return usable
}

// indexColumnUnion collects the distinct columns across usable indexes so
// every UNION ALL branch selects the same column list.
func indexColumnUnion(indexes []schema.FulltextIndex) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, idx := range indexes {
		for _, c := range idx.Columns {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func escapeJoin(columns []string) string {
	escaped := make([]string, 0, len(columns))
	for _, c := range columns {
		escaped = append(escaped, schema.EscapeIdentifier(c))
	}
	return strings.Join(escaped, ", ")
}

// tableLiteral renders the table name as a single-quoted string literal for
// the table_name marker column.
func tableLiteral(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}
