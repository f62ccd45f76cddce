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
	"altus4/core/ai"
)

// Mode selects how the query is interpreted.
type Mode string

const (
	// ModeNatural sends the user's query to MySQL unchanged.
	ModeNatural Mode = "natural"

	// ModeSemantic lets the AI adapter rewrite the query before fan-out.
	ModeSemantic Mode = "semantic"

	// ModeBoolean passes the query through in boolean mode.
	ModeBoolean Mode = "boolean"
)

// Request is one search invocation. UserID is set by the authenticated
// handler, never by the client body.
type Request struct {
	Query            string   `json:"query"`
	Databases        []string `json:"databases"`
	Tables           []string `json:"tables,omitempty"`
	Columns          []string `json:"columns,omitempty"`
	SearchMode       Mode     `json:"search_mode"`
	Limit            int      `json:"limit"`
	Offset           int      `json:"offset"`
	IncludeAnalytics bool     `json:"include_analytics,omitempty"`
	UserID           string   `json:"-"`
}

// Result is one matched row, shaped for the client.
type Result struct {
	ID             string                 `json:"id"`
	Database       string                 `json:"database"`
	Table          string                 `json:"table"`
	MatchedColumns []string               `json:"matched_columns"`
	RelevanceScore float64                `json:"relevance_score"`
	Data           map[string]interface{} `json:"data"`
	Snippet        string                 `json:"snippet,omitempty"`
	Categories     []string               `json:"categories"`
}

// Hint is one optimisation recommendation attached to a response.
type Hint struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	Impact        string `json:"impact"`
	SQLSuggestion string `json:"sql_suggestion,omitempty"`
}

// TrendPoint is one day of a user's search activity, included when the
// request asks for analytics.
type TrendPoint struct {
	Date            string  `json:"date"`
	QueryCount      int64   `json:"query_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// Response is the merged, ranked, paginated answer to a Request.
type Response struct {
	Results           []Result        `json:"results"`
	Categories        []ai.Category   `json:"categories"`
	Suggestions       []ai.Suggestion `json:"suggestions"`
	QueryOptimization []Hint          `json:"query_optimization"`
	TotalCount        int             `json:"total_count"`
	Page              int             `json:"page"`
	Limit             int             `json:"limit"`
	ExecutionTimeMS   int64           `json:"execution_time_ms"`
	Trends            []TrendPoint    `json:"trends,omitempty"`
}

func emptyResponse() *Response {
	return &Response{
		Results:           []Result{},
		Categories:        []ai.Category{},
		Suggestions:       []ai.Suggestion{},
		QueryOptimization: []Hint{},
		Page:              1,
	}
}
