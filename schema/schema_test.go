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

package schema

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestIsSearchableType(t *testing.T) {
	tests := []struct {
		columnType string
		searchable bool
	}{
		{"varchar(255)", true},
		{"VARCHAR(100)", true},
		{"text", true},
		{"longtext", true},
		{"mediumtext", true},
		{"tinytext", true},
		{"char(36)", true},
		{"int(11)", false},
		{"bigint unsigned", false},
		{"datetime", false},
		{"decimal(10,2)", false},
		{"json", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.searchable, IsSearchableType(tt.columnType), tt.columnType)
	}
}

func TestEscapeIdentifier(t *testing.T) {
	assert.Equal(t, "`notes`", EscapeIdentifier("notes"))
	assert.Equal(t, "`odd``name`", EscapeIdentifier("odd`name"))
}

func TestTables(t *testing.T) {
	db, mock := testDB(t)

	mock.ExpectQuery("SHOW TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_app"}).
			AddRow("articles").AddRow("notes"))

	tables, err := NewInspector().Tables(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"articles", "notes"}, tables)
}

func TestColumnsClassification(t *testing.T) {
	db, mock := testDB(t)

	mock.ExpectQuery("DESCRIBE `notes`").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type", "Null", "Key", "Default", "Extra"}).
			AddRow("id", "int(11)", "NO", "PRI", nil, "auto_increment").
			AddRow("title", "varchar(255)", "YES", "", nil, "").
			AddRow("body", "longtext", "YES", "", nil, ""))

	columns, err := NewInspector().Columns(context.Background(), db, "notes")
	require.NoError(t, err)
	require.Len(t, columns, 3)

	assert.False(t, columns[0].IsSearchable)
	assert.True(t, columns[1].IsSearchable)
	assert.True(t, columns[2].IsSearchable)
	assert.Equal(t, "title", columns[1].Name)
}

func TestTextColumnsPreserveOrder(t *testing.T) {
	db, mock := testDB(t)

	mock.ExpectQuery("DESCRIBE `notes`").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type"}).
			AddRow("id", "int(11)").
			AddRow("title", "varchar(255)").
			AddRow("views", "bigint").
			AddRow("body", "text"))

	names, err := NewInspector().TextColumns(context.Background(), db, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "body"}, names)
}

func TestFulltextIndexesCompositeGrouping(t *testing.T) {
	db, mock := testDB(t)

	// SHOW INDEX emits one row per index member. Out-of-order sequence
	// numbers must still come back in index order, and non-FULLTEXT entries
	// are ignored.
	mock.ExpectQuery("SHOW INDEX FROM `articles`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Key_name", "Seq_in_index", "Column_name", "Index_type"}).
			AddRow("articles", "PRIMARY", "1", "id", "BTREE").
			AddRow("articles", "ft_title_body", "2", "body", "FULLTEXT").
			AddRow("articles", "ft_title_body", "1", "title", "FULLTEXT").
			AddRow("articles", "ft_summary", "1", "summary", "FULLTEXT"))

	indexes, err := NewInspector().FulltextIndexes(context.Background(), db, "articles")
	require.NoError(t, err)
	require.Len(t, indexes, 2)

	assert.Equal(t, "ft_title_body", indexes[0].Name)
	assert.Equal(t, []string{"title", "body"}, indexes[0].Columns)
	assert.Equal(t, "ft_summary", indexes[1].Name)
	assert.Equal(t, []string{"summary"}, indexes[1].Columns)
}

func TestDescribeTable(t *testing.T) {
	db, mock := testDB(t)

	mock.ExpectQuery("DESCRIBE `articles`").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type"}).
			AddRow("id", "int(11)").
			AddRow("title", "varchar(255)").
			AddRow("body", "text"))
	mock.ExpectQuery("SHOW INDEX FROM `articles`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Key_name", "Seq_in_index", "Column_name", "Index_type"}).
			AddRow("articles", "ft_title", "1", "title", "FULLTEXT"))
	mock.ExpectQuery("SELECT TABLE_ROWS FROM information_schema.TABLES").
		WithArgs("app", "articles").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_ROWS"}).AddRow(1234))

	ts, err := NewInspector().DescribeTable(context.Background(), db, "app", "articles")
	require.NoError(t, err)

	assert.Equal(t, "app", ts.Database)
	assert.Equal(t, "articles", ts.Table)
	assert.Equal(t, int64(1234), ts.EstimatedRows)
	require.Len(t, ts.Columns, 3)
	assert.True(t, ts.Columns[1].IsFulltextIndexed)
	assert.False(t, ts.Columns[2].IsFulltextIndexed)
	require.Len(t, ts.FulltextIndexes, 1)
}

func TestDescribeTableSurvivesMissingEstimate(t *testing.T) {
	db, mock := testDB(t)

	mock.ExpectQuery("DESCRIBE `notes`").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type"}).AddRow("title", "varchar(255)"))
	mock.ExpectQuery("SHOW INDEX FROM `notes`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Key_name", "Seq_in_index", "Column_name", "Index_type"}))
	mock.ExpectQuery("SELECT TABLE_ROWS FROM information_schema.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_ROWS"}))

	ts, err := NewInspector().DescribeTable(context.Background(), db, "app", "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts.EstimatedRows)
}
