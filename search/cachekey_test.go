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
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDeterministicUnderArrayOrder(t *testing.T) {
	a := &Request{
		Query:      "alpha",
		Databases:  []string{"db-1", "db-2"},
		Tables:     []string{"articles", "notes"},
		Columns:    []string{"title", "body"},
		SearchMode: ModeNatural,
		Limit:      20,
	}
	b := &Request{
		Query:      "alpha",
		Databases:  []string{"db-2", "db-1"},
		Tables:     []string{"notes", "articles"},
		Columns:    []string{"body", "title"},
		SearchMode: ModeNatural,
		Limit:      20,
	}

	assert.Equal(t, CacheKey(a), CacheKey(b))
}

func TestCacheKeyVariesWithInputs(t *testing.T) {
	base := &Request{Query: "alpha", Databases: []string{"db-1"}, SearchMode: ModeNatural, Limit: 20}

	altered := *base
	altered.Query = "beta"
	assert.NotEqual(t, CacheKey(base), CacheKey(&altered))

	altered = *base
	altered.SearchMode = ModeBoolean
	assert.NotEqual(t, CacheKey(base), CacheKey(&altered))

	altered = *base
	altered.Offset = 20
	assert.NotEqual(t, CacheKey(base), CacheKey(&altered))

	altered = *base
	altered.Limit = 10
	assert.NotEqual(t, CacheKey(base), CacheKey(&altered))
}

func TestCacheKeyShape(t *testing.T) {
	key := CacheKey(&Request{Query: "alpha", Databases: []string{"db-1"}, SearchMode: ModeNatural, Limit: 20})
	require.True(t, strings.HasPrefix(key, "search:"))

	// The payload is base64-wrapped canonical JSON.
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(key, "search:"))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "alpha", fields["query"])
	assert.Equal(t, "natural", fields["search_mode"])
	assert.Equal(t, float64(20), fields["limit"])
}

func TestCacheKeyDoesNotMutateRequest(t *testing.T) {
	req := &Request{
		Query:     "alpha",
		Databases: []string{"db-2", "db-1"},
	}
	CacheKey(req)
	assert.Equal(t, []string{"db-2", "db-1"}, req.Databases)
}
