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
	"sort"
)

// cacheKeyPrefix namespaces cached search responses in redis.
const cacheKeyPrefix = "search:"

// cacheKeyFields is the canonical projection of a Request for caching. Field
// order is fixed by the struct, array order by sorting, so two requests that
// differ only in array ordering share a key.
type cacheKeyFields struct {
	Query      string   `json:"query"`
	Databases  []string `json:"databases"`
	Tables     []string `json:"tables"`
	Columns    []string `json:"columns"`
	SearchMode Mode     `json:"search_mode"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}

// CacheKey derives the deterministic cache key for a request.
func CacheKey(req *Request) string {
	fields := cacheKeyFields{
		Query:      req.Query,
		Databases:  sortedCopy(req.Databases),
		Tables:     sortedCopy(req.Tables),
		Columns:    sortedCopy(req.Columns),
		SearchMode: req.SearchMode,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}

	// Marshal of this struct cannot fail.
	raw, _ := json.Marshal(fields)
	return cacheKeyPrefix + base64.StdEncoding.EncodeToString(raw)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
