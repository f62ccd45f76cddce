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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altus4/core/schema"
)

func TestBuildTableQueryLikeFallback(t *testing.T) {
	tq := BuildTableQuery("notes", nil, nil, []string{"title", "body"}, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)

	assert.Equal(t,
		"SELECT 'notes' as table_name, `title`, `body`, 0 as relevance_score FROM `notes` WHERE `title` LIKE ? OR `body` LIKE ? LIMIT 20 OFFSET 0",
		tq.SQL)
	assert.Equal(t, []interface{}{"%alpha%", "%alpha%"}, tq.Args)
	assert.False(t, tq.Fulltext)
}

func TestBuildTableQueryLikeFallbackRequestedColumns(t *testing.T) {
	// Requested columns win over discovered text columns.
	tq := BuildTableQuery("notes", nil, []string{"title"}, []string{"title", "body"}, "alpha", ModeNatural, 10, 5)
	require.NotNil(t, tq)

	assert.Equal(t,
		"SELECT 'notes' as table_name, `title`, 0 as relevance_score FROM `notes` WHERE `title` LIKE ? LIMIT 10 OFFSET 5",
		tq.SQL)
	assert.Equal(t, []interface{}{"%alpha%"}, tq.Args)
}

func TestBuildTableQueryNothingSearchable(t *testing.T) {
	assert.Nil(t, BuildTableQuery("counters", nil, nil, nil, "alpha", ModeNatural, 20, 0))
}

func TestBuildTableQueryFulltext(t *testing.T) {
	indexes := []schema.FulltextIndex{{Name: "ft_title_body", Columns: []string{"title", "body"}}}

	tq := BuildTableQuery("articles", indexes, nil, []string{"title", "body"}, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)
	assert.True(t, tq.Fulltext)

	assert.Equal(t,
		"SELECT 'articles' as table_name, `title`, `body`, MATCH(`title`, `body`) AGAINST(? IN NATURAL LANGUAGE MODE) as relevance_score FROM `articles` WHERE MATCH(`title`, `body`) AGAINST(? IN NATURAL LANGUAGE MODE) ORDER BY relevance_score DESC LIMIT 20 OFFSET 0",
		tq.SQL)
	assert.Equal(t, []interface{}{"alpha", "alpha"}, tq.Args)
}

func TestBuildTableQueryBooleanMode(t *testing.T) {
	indexes := []schema.FulltextIndex{{Name: "ft_title", Columns: []string{"title"}}}

	tq := BuildTableQuery("articles", indexes, nil, nil, "+alpha -beta", ModeBoolean, 20, 0)
	require.NotNil(t, tq)
	assert.Contains(t, tq.SQL, "IN BOOLEAN MODE")
	assert.NotContains(t, tq.SQL, "IN NATURAL LANGUAGE MODE")
}

func TestBuildTableQueryMultipleIndexesUnion(t *testing.T) {
	indexes := []schema.FulltextIndex{
		{Name: "ft_title", Columns: []string{"title"}},
		{Name: "ft_body", Columns: []string{"body"}},
	}

	tq := BuildTableQuery("articles", indexes, nil, nil, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)

	// One branch per index, a shared select-column list, relevance ordering
	// applied once at the end.
	assert.Contains(t, tq.SQL, " UNION ALL ")
	assert.Contains(t, tq.SQL, "MATCH(`title`) AGAINST(?")
	assert.Contains(t, tq.SQL, "MATCH(`body`) AGAINST(?")
	assert.Equal(t, 2, countOccurrences(tq.SQL, "SELECT 'articles' as table_name, `title`, `body`,"))
	assert.Equal(t, 1, countOccurrences(tq.SQL, "ORDER BY relevance_score DESC"))
	assert.Equal(t, []interface{}{"alpha", "alpha", "alpha", "alpha"}, tq.Args)
}

func TestBuildTableQueryColumnFilterIntersection(t *testing.T) {
	indexes := []schema.FulltextIndex{
		{Name: "ft_title_body", Columns: []string{"title", "body"}},
		{Name: "ft_summary", Columns: []string{"summary"}},
	}

	// Only title was requested: the composite index matches on title alone,
	// the summary index drops out entirely.
	tq := BuildTableQuery("articles", indexes, []string{"title"}, nil, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)
	assert.True(t, tq.Fulltext)
	assert.Contains(t, tq.SQL, "MATCH(`title`) AGAINST(?")
	assert.NotContains(t, tq.SQL, "summary")
	assert.NotContains(t, tq.SQL, " UNION ALL ")
}

func TestBuildTableQueryNoIndexIntersectionFallsBack(t *testing.T) {
	indexes := []schema.FulltextIndex{{Name: "ft_summary", Columns: []string{"summary"}}}

	tq := BuildTableQuery("articles", indexes, []string{"title"}, []string{"title", "summary"}, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)
	assert.False(t, tq.Fulltext)
	assert.Contains(t, tq.SQL, "`title` LIKE ?")
}

func TestBuildTableQueryEscapesIdentifiers(t *testing.T) {
	tq := BuildTableQuery("odd`table", nil, nil, []string{"odd`col"}, "alpha", ModeNatural, 20, 0)
	require.NotNil(t, tq)
	assert.Contains(t, tq.SQL, "FROM `odd``table`")
	assert.Contains(t, tq.SQL, "`odd``col` LIKE ?")
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
